package main

import (
	"fmt"
	"math"
	"strconv"

	"gridrun/internal/align"

	"github.com/spf13/cobra"
)

var (
	alignDir       string
	alignPDF       string
	alignPNGDir    string
	alignTolerance float64
)

var alignCmd = &cobra.Command{
	Use:   "align NCYCLE",
	Short: "Summarize the convergence of alignment iterations",
	Long: `Reads align_mille_1.txt .. align_mille_NCYCLE.txt and prints, for every
parameter and detector, the mean and spread over iterations and the last
change. Trend plots go to a multi-page PDF (--pdf) or one PNG each (--png-dir).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nCycle, err := strconv.Atoi(args[0])
		if err != nil || nCycle < 1 {
			return fmt.Errorf("bad cycle count %q", args[0])
		}
		trend, err := align.Load(alignDir, nCycle)
		if err != nil {
			return err
		}

		summaries := trend.Summarize()
		unconverged := align.Unconverged(summaries, alignTolerance)
		fmt.Fprintln(cmd.OutOrStdout(), renderSummaries(summaries, alignTolerance))
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d parameters changed by more than %g in the last step\n",
			len(unconverged), len(summaries), alignTolerance)

		if alignPDF != "" {
			if err := trend.WritePDF(alignPDF); err != nil {
				return err
			}
		}
		if alignPNGDir != "" {
			if _, err := trend.WritePNGs(alignPNGDir); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	f := alignCmd.Flags()
	f.StringVar(&alignDir, "dir", ".", "Directory holding the align_mille files")
	f.StringVar(&alignPDF, "pdf", "", "Write all trend plots to this PDF")
	f.StringVar(&alignPNGDir, "png-dir", "", "Write one PNG trend plot per parameter and detector")
	f.Float64Var(&alignTolerance, "tolerance", 1e-3, "Last-step change above which a parameter is unconverged")
}

func renderSummaries(summaries []align.Summary, tolerance float64) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			strconv.Itoa(s.Param),
			strconv.Itoa(s.Detector),
			fmt.Sprintf("%.5g", s.Mean),
			fmt.Sprintf("%.3g", s.StdDev),
			fmt.Sprintf("%.5g", s.Last),
			fmt.Sprintf("%+.3g", s.LastChange),
		})
	}
	return renderTable([]string{"par", "det", "mean", "stddev", "last", "change"}, rows, func(row int) bool {
		return math.Abs(summaries[row].LastChange) > tolerance
	})
}
