package main

import (
	"fmt"
	"os"
	"strconv"

	"gridrun/internal/logging"
	"gridrun/internal/tables"

	"github.com/spf13/cobra"
)

var timeshiftCmd = &cobra.Command{
	Use:   "timeshift INPUT MODE OFFSET OUTPUT",
	Short: "Shift the time column of a timing table",
	Long: `Adds OFFSET (rounded to the nearest integer) to the time column of
every data row of a chamber, hodo or trigger timing table.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("bad offset %q: %w", args[2], err)
		}

		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.Create(args[3])
		if err != nil {
			return err
		}

		stats, err := tables.Shift(in, out, args[1], offset)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		logging.Tables("%s: %d rows shifted, %d copied", args[3], stats.Shifted, stats.Copied)
		return nil
	},
}
