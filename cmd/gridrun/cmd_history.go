package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyBatch string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent submission batches from the ledger",
	Long: `Lists recent submission batches with their attempt, acceptance and
abandonment counts. With --batch, prints the abandoned commands of one
batch in a form "gridrun submit --resubmit" accepts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger := openLedger()
		if ledger == nil {
			return fmt.Errorf("no ledger at %s", cfg.StorePath())
		}
		defer ledger.Close()

		if historyBatch != "" {
			cmds, err := ledger.Abandoned(cmd.Context(), historyBatch)
			if err != nil {
				return err
			}
			for _, c := range cmds {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		}

		batches, err := ledger.RecentBatches(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(batches))
		for _, b := range batches {
			rows = append(rows, []string{
				b.ID,
				b.First.Format("2006-01-02 15:04"),
				b.Last.Format("2006-01-02 15:04"),
				strconv.Itoa(b.Attempts),
				strconv.Itoa(b.Accepted),
				strconv.Itoa(b.Abandoned),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"batch", "first", "last", "attempts", "accepted", "abandoned"}, rows,
			func(row int) bool { return batches[row].Abandoned > 0 }))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of batches to show")
	historyCmd.Flags().StringVarP(&historyBatch, "batch", "b", "", "Print the abandoned commands of this batch")
}
