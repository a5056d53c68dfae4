package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EfanMutembo/leadpipe/internal/model"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns <batch-id>",
	Short: "Show the campaigns created for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Prefer the campaigns-created checkpoint; fall back to the copy
		// checkpoint so a batch that failed mid-creation still shows its plans.
		var plans []model.CampaignPlan
		for _, stage := range []model.Stage{model.StageCampaignsMade, model.StageCopyGenerated} {
			cp, err := st.GetCheckpoint(ctx, args[0], stage)
			if err != nil {
				return eris.Wrapf(err, "load %s checkpoint", stage)
			}
			if cp == nil || cp.Report == nil {
				continue
			}
			var state struct {
				Plans []model.CampaignPlan `json:"plans"`
			}
			if err := json.Unmarshal(cp.Report, &state); err != nil {
				return eris.Wrapf(err, "decode %s report", stage)
			}
			if len(state.Plans) > 0 {
				plans = state.Plans
				break
			}
		}

		if len(plans) == 0 {
			fmt.Fprintln(os.Stderr, "No campaign plans found for this batch.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSEGMENT\tCAMPAIGN ID\tEMAILS\tUPLOADED")
		for _, p := range plans {
			id := p.CampaignID
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				p.Name, p.SegmentID, id, len(p.Emails), p.LeadsUploaded)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(campaignsCmd)
}
