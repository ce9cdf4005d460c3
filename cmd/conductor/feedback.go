package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/berinia/conductor/internal/feedback"
	"github.com/berinia/conductor/internal/models"
	"github.com/spf13/cobra"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Review decisions and attach feedback",
}

var feedbackAttachCmd = &cobra.Command{
	Use:   "attach [log-id]",
	Short: "Score a decision log (0-5)",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedbackAttach,
}

var feedbackStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated feedback",
	RunE:  runFeedbackStats,
}

var feedbackPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List decision logs awaiting feedback",
	RunE:  runFeedbackPending,
}

var feedbackEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score pending classifier and decider logs from campaign outcomes",
	RunE:  runFeedbackEvaluate,
}

var (
	fbScore     float64
	fbText      string
	fbSource    string
	fbValidated bool
	fbUnit      string
	fbLimit     int
	fbEvalLimit int
)

func init() {
	feedbackCmd.AddCommand(feedbackAttachCmd, feedbackStatsCmd, feedbackPendingCmd, feedbackEvaluateCmd)

	feedbackAttachCmd.Flags().Float64Var(&fbScore, "score", 0, "Quality score between 0 and 5 (required)")
	feedbackAttachCmd.Flags().StringVar(&fbText, "text", "", "Free-form comment")
	feedbackAttachCmd.Flags().StringVar(&fbSource, "source", models.FeedbackSourceHuman, "Who produced the feedback")
	feedbackAttachCmd.Flags().BoolVar(&fbValidated, "validated", false, "Mark the feedback as validated")
	feedbackAttachCmd.MarkFlagRequired("score")

	feedbackStatsCmd.Flags().StringVar(&fbUnit, "unit", "", "Decision unit (empty aggregates all units)")

	feedbackPendingCmd.Flags().StringVar(&fbUnit, "unit", "", "Decision unit")
	feedbackPendingCmd.Flags().IntVar(&fbLimit, "limit", 20, "Maximum logs to list")

	feedbackEvaluateCmd.Flags().IntVar(&fbEvalLimit, "limit", 100, "Maximum pending logs to examine per unit")
}

func runFeedbackAttach(cmd *cobra.Command, args []string) error {
	fb := models.Feedback{
		Score:     fbScore,
		Text:      fbText,
		Source:    fbSource,
		Validated: fbValidated,
	}
	var log models.AgentLog
	if err := apiPost("/logs/"+args[0]+"/feedback", fb, &log); err != nil {
		return err
	}
	fmt.Printf("Scored %s log %s: %.1f\n", log.UnitID, log.ID, fbScore)
	return nil
}

func runFeedbackStats(cmd *cobra.Command, args []string) error {
	path := "/feedback/stats"
	if fbUnit != "" {
		path += "?unit=" + url.QueryEscape(fbUnit)
	}
	var stats models.FeedbackStats
	if err := apiGet(path, &stats); err != nil {
		return err
	}

	unit := stats.UnitID
	if unit == "" {
		unit = "all units"
	}
	fmt.Printf("Unit:      %s\n", unit)
	fmt.Printf("Feedbacks: %d (%d validated)\n", stats.TotalFeedbacks, stats.Validated)
	fmt.Printf("Average:   %.2f\n", stats.AverageScore)
	d := stats.Distribution
	fmt.Printf("Spread:    excellent=%d good=%d average=%d poor=%d bad=%d\n", d.Excellent, d.Good, d.Average, d.Poor, d.Bad)
	for src, n := range stats.BySource {
		fmt.Printf("Source:    %s=%d\n", src, n)
	}
	return nil
}

func runFeedbackPending(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("pending", "true")
	q.Set("limit", strconv.Itoa(fbLimit))
	if fbUnit != "" {
		q.Set("unit", fbUnit)
	}

	var logs []models.AgentLog
	if err := apiGet("/logs?"+q.Encode(), &logs); err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Println("Nothing awaiting review")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUNIT\tCAMPAIGN\tOUTPUT\tWHEN")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.UnitID, truncateID(l.CampaignID),
			truncate(l.Output, 48), l.Timestamp.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runFeedbackEvaluate(cmd *cobra.Command, args []string) error {
	var report feedback.EvaluationReport
	if err := apiPost("/feedback/evaluate?limit="+strconv.Itoa(fbEvalLimit), nil, &report); err != nil {
		return err
	}
	fmt.Printf("Examined %d logs: %d scored, %d left for review\n", report.Examined, report.Scored, report.Skipped)
	if report.Scored > 0 {
		fmt.Printf("Average:  %.2f\n", report.AverageScore)
	}
	return nil
}
