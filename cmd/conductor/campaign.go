package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/berinia/conductor/internal/app"
	"github.com/berinia/conductor/internal/controlplane"
	"github.com/berinia/conductor/internal/models"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/spf13/cobra"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaigns",
}

var campaignStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Queue a campaign on the daemon",
	RunE:  runCampaignStart,
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show [campaign-id]",
	Short: "Show campaign details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignCancelCmd = &cobra.Command{
	Use:   "cancel [campaign-id]",
	Short: "Cancel a queued or running campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignCancel,
}

var campaignRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run campaigns in this process without a daemon",
	Long: `Runs one campaign per --niche flag (or one strategy-selected campaign when
none is given) directly against the configured store, up to --parallel at once.`,
	RunE: runCampaignRun,
}

var (
	campaignNiche    string
	campaignNiches   []string
	campaignLocation string
	campaignTarget   int
	campaignWait     bool
	campaignStatus   string
	campaignActive   bool
	campaignParallel int
)

func init() {
	campaignCmd.AddCommand(campaignStartCmd, campaignListCmd, campaignShowCmd, campaignCancelCmd, campaignRunCmd)

	campaignStartCmd.Flags().StringVar(&campaignNiche, "niche", "", "Niche to target (empty lets the strategy choose)")
	campaignStartCmd.Flags().StringVar(&campaignLocation, "location", "", "Location to target")
	campaignStartCmd.Flags().IntVar(&campaignTarget, "target", 0, "Target lead count (0 uses the configured default)")
	campaignStartCmd.Flags().BoolVar(&campaignWait, "wait", false, "Run to completion before returning")

	campaignListCmd.Flags().StringVar(&campaignStatus, "status", "", "Filter by status (pending, running, completed, failed)")
	campaignListCmd.Flags().StringVar(&campaignNiche, "niche", "", "Filter by niche")
	campaignListCmd.Flags().BoolVar(&campaignActive, "active", false, "Only pending and running campaigns")

	campaignRunCmd.Flags().StringSliceVar(&campaignNiches, "niche", nil, "Niche to run (repeatable)")
	campaignRunCmd.Flags().StringVar(&campaignLocation, "location", "", "Location to target")
	campaignRunCmd.Flags().IntVar(&campaignTarget, "target", 0, "Target lead count (0 uses the configured default)")
	campaignRunCmd.Flags().IntVar(&campaignParallel, "parallel", 1, "Campaigns to run at once")
}

func runCampaignStart(cmd *cobra.Command, args []string) error {
	body := controlplane.StartRequest{
		Niche:           campaignNiche,
		Location:        campaignLocation,
		TargetLeadCount: campaignTarget,
		Wait:            campaignWait,
	}
	if campaignWait {
		// Synchronous runs outlive the default client timeout.
		apiClient.Timeout = 0
	}

	var c models.Campaign
	if err := apiPost("/campaigns", body, &c); err != nil {
		return err
	}
	if !campaignWait {
		fmt.Printf("Queued campaign %s (%s)\n", c.ID, c.Niche)
		return nil
	}
	printCampaign(&c)
	return nil
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if campaignStatus != "" {
		q.Set("status", campaignStatus)
	}
	if campaignNiche != "" {
		q.Set("niche", campaignNiche)
	}
	if campaignActive {
		q.Set("active", "true")
	}
	path := "/campaigns"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var campaigns []models.Campaign
	if err := apiGet(path, &campaigns); err != nil {
		return err
	}
	if len(campaigns) == 0 {
		fmt.Println("No campaigns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNICHE\tLOCATION\tSTATUS\tCOLLECTED\tEXPORTED\tCREATED")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(c.ID), truncate(c.Niche, 24), truncate(c.Location, 16), c.Status,
			c.Counts.Collected, c.Counts.Exported, c.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	var c models.Campaign
	if err := apiGet("/campaigns/"+args[0], &c); err != nil {
		return err
	}
	printCampaign(&c)
	return nil
}

func runCampaignCancel(cmd *cobra.Command, args []string) error {
	var c models.Campaign
	if err := apiPost("/campaigns/"+args[0]+"/cancel", nil, &c); err != nil {
		return err
	}
	fmt.Printf("Cancel requested for campaign %s (status: %s)\n", c.ID, c.Status)
	return nil
}

func runCampaignRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reqs := []orchestrator.Request{{Location: campaignLocation, TargetLeadCount: campaignTarget}}
	if len(campaignNiches) > 0 {
		reqs = reqs[:0]
		for _, n := range campaignNiches {
			reqs = append(reqs, orchestrator.Request{Niche: n, Location: campaignLocation, TargetLeadCount: campaignTarget})
		}
	}

	results, runErr := a.Orchestrator.RunMany(ctx, reqs, campaignParallel)
	for _, res := range results {
		if res == nil {
			continue
		}
		printCampaign(res.Campaign)
		fmt.Println()
	}
	return runErr
}

func printCampaign(c *models.Campaign) {
	fmt.Printf("ID:        %s\n", c.ID)
	fmt.Printf("Niche:     %s\n", c.Niche)
	if c.Location != "" {
		fmt.Printf("Location:  %s\n", c.Location)
	}
	fmt.Printf("Target:    %d\n", c.TargetLeadCount)
	fmt.Printf("Status:    %s\n", c.Status)
	if c.ParentID != "" {
		fmt.Printf("Parent:    %s\n", c.ParentID)
	}
	fmt.Printf("Created:   %s\n", c.CreatedAt.Local().Format(time.DateTime))
	if c.StartedAt != nil {
		fmt.Printf("Started:   %s\n", c.StartedAt.Local().Format(time.DateTime))
	}
	if c.CompletedAt != nil {
		fmt.Printf("Finished:  %s\n", c.CompletedAt.Local().Format(time.DateTime))
	}
	fmt.Printf("Counts:    collected=%d cleaned=%d classified=%d contacted=%d exported=%d\n",
		c.Counts.Collected, c.Counts.Cleaned, c.Counts.Classified, c.Counts.Contacted, c.Counts.Exported)

	if len(c.Stages) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tIN\tKEPT\tDROPPED\tERRORED\tMS")
		for _, st := range c.Stages {
			if st.Skipped {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\tskipped\n", st.Stage)
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", st.Stage, st.Input, st.Kept, st.Dropped, st.Errored, st.DurationMS)
		}
		w.Flush()
	}
	for _, e := range c.ErrorSummary {
		fmt.Printf("Error:     [%s] %s\n", e.Stage, e.Reason)
	}
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
