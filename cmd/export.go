package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EfanMutembo/leadpipe/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <batch-id>",
	Short: "Export a batch's leads to an xlsx workbook",
	Long:  "Exports the latest checkpoint snapshot of a batch, so a failed batch exports the state it reached.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cp, err := st.LatestCheckpoint(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load checkpoint")
		}
		if cp == nil {
			return eris.Errorf("no checkpoint for batch %s", args[0])
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("leads_%s.xlsx", cp.Snapshot.ID)
		}
		if err := export.WriteBatch(out, cp.Snapshot); err != nil {
			return eris.Wrap(err, "write workbook")
		}

		fmt.Printf("Wrote %d leads (stage %s) to %s\n",
			len(cp.Snapshot.Leads), cp.Snapshot.Stage, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file path (default leads_<batch-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
