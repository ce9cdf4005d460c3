package main

import (
	"fmt"
	"sort"

	"github.com/berinia/conductor/internal/controlplane"
	"github.com/berinia/conductor/internal/scheduler"
	"github.com/spf13/cobra"
)

var decideCmd = &cobra.Command{
	Use:   "decide [niche]",
	Short: "Decide whether to continue, duplicate or pivot away from a niche",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecide,
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Show the daemon's worker pool",
	RunE:  runWorkers,
}

var (
	decideApply    bool
	decideLocation string
	decideTarget   int
)

func init() {
	decideCmd.Flags().BoolVar(&decideApply, "apply", false, "Queue the follow-up campaign the decision calls for")
	decideCmd.Flags().StringVar(&decideLocation, "location", "", "Location for the follow-up (defaults to the recent campaign's)")
	decideCmd.Flags().IntVar(&decideTarget, "target", 0, "Target lead count for the follow-up")
}

func runDecide(cmd *cobra.Command, args []string) error {
	req := controlplane.DecideRequest{
		Niche:           args[0],
		Apply:           decideApply,
		Location:        decideLocation,
		TargetLeadCount: decideTarget,
	}
	var resp controlplane.DecideResponse
	if err := apiPost("/decide", req, &resp); err != nil {
		return err
	}

	d := resp.Decision
	fmt.Printf("Niche:       %s\n", d.Niche)
	fmt.Printf("Action:      %s\n", d.Action)
	fmt.Printf("Why:         %s\n", d.Justification)
	fmt.Printf("Export rate: %.1f%% (historical %.1f%% over %d campaigns)\n",
		d.ExportRate*100, d.HistoricalExportRate*100, d.CampaignsConsidered)
	if d.FeedbackCount > 0 {
		fmt.Printf("Feedback:    %.2f over %d scores\n", d.FeedbackAverage, d.FeedbackCount)
	} else {
		fmt.Println("Feedback:    none")
	}
	if d.Exhausted {
		fmt.Println("Exhausted:   yes")
	}
	if resp.Queued != nil {
		fmt.Printf("Queued:      %s (%s)\n", resp.Queued.ID, resp.Queued.Niche)
	}
	return nil
}

func runWorkers(cmd *cobra.Command, args []string) error {
	var stats scheduler.Stats
	if err := apiGet("/workers", &stats); err != nil {
		return err
	}

	fmt.Printf("Workers:    %d/%d active\n", stats.ActiveWorkers, stats.GlobalMax)
	fmt.Printf("Dispatched: %d\n", stats.Dispatched)
	niches := make([]string, 0, len(stats.NicheCounts))
	for n := range stats.NicheCounts {
		niches = append(niches, n)
	}
	sort.Strings(niches)
	for _, n := range niches {
		fmt.Printf("  %-20s %d\n", n, stats.NicheCounts[n])
	}
	return nil
}
