package main

import (
	"context"
	"fmt"

	"gridrun/internal/config"
	"gridrun/internal/grid"

	"github.com/spf13/cobra"
)

var (
	mergeRunList         string
	mergeJob             string
	mergeJobConfig       string
	mergeIgnoreCorrupted bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge [TARGET SOURCE...]",
	Short: "Merge the outputs of split jobs",
	Long: `With explicit files, merges SOURCE files into TARGET in outtag order.
With --list, merges the tagged outputs of every listed run into the run's
untagged output file under the job config's outdir.`,
	RunE: runMerge,
}

func init() {
	f := mergeCmd.Flags()
	f.StringVarP(&mergeRunList, "list", "l", "", "List of run IDs whose split outputs are merged")
	f.StringVarP(&mergeJob, "job", "j", "track", "Type of job: track or vertex")
	f.StringVarP(&mergeJobConfig, "job-config", "c", "", "Tracker I/O configuration file (outdir)")
	f.BoolVarP(&mergeIgnoreCorrupted, "ignore-corrupted", "k", false, "Skip unreadable sources and overwrite the target")
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	merger := &grid.Merger{Exec: newExecutor(), Tool: cfg.Merge.Tool, Release: cfg.Release}

	if mergeRunList == "" {
		if len(args) < 2 {
			return fmt.Errorf("merge needs a target and at least one source, or --list")
		}
		return merger.Merge(ctx, args[0], args[1:], mergeIgnoreCorrupted)
	}

	jobType, err := grid.ParseJobType(mergeJob)
	if err != nil {
		return err
	}
	runIDs, err := readRunList(mergeRunList)
	if err != nil {
		return err
	}
	jc, err := config.LoadJobConfig(mergeJobConfig)
	if err != nil {
		return err
	}
	layout := grid.Layout{OutDir: jc.Value("outdir"), Release: cfg.Release}

	failed := 0
	for _, id := range runIDs {
		target, err := merger.MergeRun(ctx, layout, jobType, id, mergeIgnoreCorrupted)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "run %d: %v\n", id, err)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), target)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d runs", grid.ErrMergeFailed, failed, len(runIDs))
	}
	return nil
}
