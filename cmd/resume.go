package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EfanMutembo/leadpipe/internal/monitoring"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <batch-id>",
	Short: "Resume a failed batch from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gw := buildGateway()
		pipe := buildPipeline(st, gw)
		collector := monitoring.NewCollector(gw)

		batch, err := pipe.Resume(ctx, args[0])
		if batch != nil {
			collector.Snapshot(batch).Log()
		}
		if err != nil {
			return eris.Wrap(err, "resume")
		}

		fmt.Printf("Batch %s resumed to %s: %d uploaded\n",
			batch.ID, batch.Stage, batch.Stats.Uploaded)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
