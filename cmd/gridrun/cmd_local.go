package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gridrun/internal/grid"
	"gridrun/internal/local"
	"gridrun/internal/tactile"

	"github.com/spf13/cobra"
)

var (
	localList    string
	localMaxJobs int
	localNotify  string
	localOutput  string
	localSuffix  string
	localRefresh time.Duration
	localDivide  int64
	localLogDir  string
	localNice    bool
	localTimeout time.Duration
)

var localCmd = &cobra.Command{
	Use:   "local EXECUTABLE SOURCES TARGETS [SCHEMA...]",
	Short: "Run an executable over a list of schemas on this machine",
	Long: `Runs EXECUTABLE once per schema (or per event range with --divide),
keeping at most --jobs processes alive. Every '?' in SOURCES, TARGETS and
--suffix is replaced by the schema. Schemas come from --list or from the
remaining arguments.

Example:
  gridrun local kFastTracking digit_?.root track_?.root -l runs.txt -o all.root`,
	Args: cobra.MinimumNArgs(3),
	RunE: runLocal,
}

func init() {
	f := localCmd.Flags()
	f.StringVarP(&localList, "list", "l", "", "List of schemas or run IDs")
	f.IntVarP(&localMaxJobs, "jobs", "m", 6, "Maximum number of jobs running")
	f.StringVarP(&localNotify, "notify", "n", "", "E-mail sent to notify the end of jobs")
	f.StringVarP(&localOutput, "output", "o", "", "Merge all outputs into this file at the end")
	f.StringVarP(&localSuffix, "suffix", "s", "", "Additional arguments for every command")
	f.DurationVarP(&localRefresh, "refresh", "r", 30*time.Second, "Progress report period")
	f.Int64VarP(&localDivide, "divide", "d", 0, "Divide each job into jobs of at most this many events")
	f.StringVar(&localLogDir, "log-dir", ".", "Directory for job logs")
	f.BoolVar(&localNice, "nice", true, "Run jobs under nice")
	f.DurationVar(&localTimeout, "timeout", 24*time.Hour, "Kill a job running longer than this")
}

func runLocal(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	schemas := args[3:]
	if localList != "" {
		var err error
		schemas, err = local.ReadSchemas(localList)
		if err != nil {
			return err
		}
	}
	if len(schemas) == 0 {
		return fmt.Errorf("no schemas: give --list or list them after TARGETS")
	}

	plan := local.Plan{
		Executable:    args[0],
		InputPattern:  args[1],
		OutputPattern: args[2],
		ExtraArgs:     localSuffix,
		Schemas:       schemas,
		Divide:        localDivide,
		LogDir:        localLogDir,
	}
	if err := os.MkdirAll(localLogDir, 0755); err != nil {
		return err
	}

	exec := newExecutorWithConfig(localExecutorConfig(localTimeout))
	jobs, err := plan.Jobs(ctx, grid.NewCounter(exec, cfg.Merge.CounterCommand))
	if err != nil {
		return err
	}

	var merger *grid.Merger
	if localOutput != "" {
		merger = &grid.Merger{Exec: exec, Tool: cfg.Merge.Tool, Release: cfg.Release}
	}
	runner := local.NewRunner(exec, merger, local.Options{
		MaxJobs:     localMaxJobs,
		Refresh:     localRefresh,
		MergeOutput: localOutput,
		Notify:      localNotify,
		Nice:        localNice,
		JobTimeout:  localTimeout,
	})

	res, err := runner.Run(ctx, plan, jobs)
	fmt.Fprintf(cmd.OutOrStdout(), "%d jobs, %d succeeded, %d failed in %s\n",
		res.Jobs, res.Succeeded, len(res.Failed), res.Elapsed.Round(time.Second))
	for _, j := range res.Failed {
		fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", j.CommandLine())
	}
	if res.Merged != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "merged into %s\n", res.Merged)
	}
	return err
}

// localExecutorConfig lifts the executor's timeout cap to the job timeout.
func localExecutorConfig(jobTimeout time.Duration) tactile.ExecutorConfig {
	ec := executorConfig()
	if jobTimeout > ec.MaxTimeout {
		ec.MaxTimeout = jobTimeout
	}
	return ec
}
