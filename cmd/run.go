package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/internal/monitoring"
	"github.com/EfanMutembo/leadpipe/internal/pipeline"
)

var (
	profileIndustry    string
	profileLocation    string
	profileEmployees   string
	profileRevenue     string
	profileJobTitles   []string
	profileDescription string
	profileOffer       string
)

func profileFromFlags() (model.TargetProfile, error) {
	profile := model.TargetProfile{
		Industry:    profileIndustry,
		Location:    profileLocation,
		Employees:   profileEmployees,
		Revenue:     profileRevenue,
		JobTitles:   profileJobTitles,
		Description: profileDescription,
		Offer:       profileOffer,
	}
	if profile.Empty() {
		return profile, eris.New("target profile is empty: set at least one of --industry, --location, --employees, --revenue, --job-titles, --description")
	}
	return profile, nil
}

func addProfileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&profileIndustry, "industry", "", "target industry, e.g. 'Residential Construction'")
	cmd.Flags().StringVar(&profileLocation, "location", "", "target location, e.g. 'Denver, CO'")
	cmd.Flags().StringVar(&profileEmployees, "employees", "", "employee range, e.g. '10-50'")
	cmd.Flags().StringVar(&profileRevenue, "revenue", "", "revenue range, e.g. '$1M-$10M'")
	cmd.Flags().StringSliceVar(&profileJobTitles, "job-titles", nil, "target job titles")
	cmd.Flags().StringVar(&profileDescription, "description", "", "free-text description of the ideal customer")
	cmd.Flags().StringVar(&profileOffer, "offer", "", "the product or service being sold")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: test scrape, gate, then the complete batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		profile, err := profileFromFlags()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gw := buildGateway()
		pipe := buildPipeline(st, gw)
		collector := monitoring.NewCollector(gw)

		batch, err := pipe.Run(ctx, profile)
		if batch != nil {
			collector.Snapshot(batch).Log()
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}

		fmt.Printf("Batch %s complete: %d scraped, %d uploaded across campaigns\n",
			batch.ID, batch.Stats.Scraped, batch.Stats.Uploaded)
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Scrape a small test batch and report the gate decision",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		profile, err := profileFromFlags()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipe := buildPipeline(st, buildGateway())
		batch, report, err := pipe.RunTest(ctx, profile)
		if err != nil {
			return eris.Wrap(err, "test run")
		}

		fmt.Printf("Batch %s: %d scored, pass rate %.0f%% (threshold %.0f%%)\n",
			batch.ID, report.Total, report.PassRate*100, report.Threshold*100)
		for _, r := range report.TopReasons {
			fmt.Printf("  %3d  %s\n", r.Count, r.Reason)
		}
		fmt.Printf("Decision: %s\n", report.Decision)

		if report.Decision != pipeline.DecisionProceed {
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	addProfileFlags(runCmd)
	addProfileFlags(testCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
}
