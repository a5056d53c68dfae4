package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EfanMutembo/leadpipe/internal/model"
	"github.com/EfanMutembo/leadpipe/internal/store"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List pipeline batches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")

		batches, err := st.ListBatches(ctx, store.BatchFilter{
			Stage: model.Stage(stage),
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "list batches")
		}

		if len(batches) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTAGE\tSCRAPED\tVALID\tUPLOADED\tCREATED")
		for _, b := range batches {
			stage := string(b.Stage)
			if b.Stage == model.StageFailed && b.FailedStage != "" {
				stage = fmt.Sprintf("failed@%s", b.FailedStage)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				b.ID, stage, b.Stats.Scraped, b.Stats.Valid, b.Stats.Uploaded,
				b.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	batchesCmd.Flags().String("stage", "", "filter by stage, e.g. failed, halted, leads_uploaded")
	batchesCmd.Flags().Int("limit", 0, "maximum batches to list")
	rootCmd.AddCommand(batchesCmd)
}
