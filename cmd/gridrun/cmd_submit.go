package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridrun/internal/config"
	"gridrun/internal/grid"
	"gridrun/internal/logging"
	"gridrun/internal/tactile"

	"github.com/spf13/cobra"
)

var (
	submitList      string
	submitJob       string
	submitSplit     int64
	submitJobConfig string
	submitResubmit  string
	submitErrLog    string
	submitMC        bool
	submitDebug     bool
	submitNEvents   int64
	submitDryRun    bool
	submitWriteOpts bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Build and submit grid jobs for a run list",
	Long: `Builds one tracker command per run (or per event range with --split)
and submits them, retrying rejected submissions. Commands that keep
failing are appended to the error log, which --resubmit accepts later.

Example:
  gridrun submit -l runs.txt -j track -c track.conf -s 50000`,
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitList, "list", "l", "", "List of run IDs (input files in MC mode)")
	f.StringVarP(&submitJob, "job", "j", "", "Type of job: track or vertex")
	f.Int64VarP(&submitSplit, "split", "s", -1, "Split runs into jobs of at most this many events (default no splitting)")
	f.StringVarP(&submitJobConfig, "job-config", "c", "", "Tracker I/O configuration file")
	f.StringVarP(&submitResubmit, "resubmit", "r", "", "Resubmit the commands listed in this file")
	f.StringVarP(&submitErrLog, "errlog", "e", "submitAll_err.log", "Failed command log (a timestamp is appended)")
	f.BoolVarP(&submitMC, "mc", "m", false, "MC mode: the list holds input files instead of run IDs")
	f.BoolVarP(&submitDebug, "debug", "d", false, "Print input files and split sizes")
	f.Int64Var(&submitNEvents, "nevents", -1, "Event count to split by instead of counting the input")
	f.BoolVar(&submitDryRun, "dry-run", false, "Print the commands instead of submitting them")
	f.BoolVar(&submitWriteOpts, "write-opts", false, "Write an opts file for every split job")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()
	exec := newExecutor()

	if submitResubmit != "" {
		cmds, err := grid.LoadCommands(submitResubmit)
		if err != nil {
			return err
		}
		logging.Submit("resubmitting %d commands from %s", len(cmds), submitResubmit)
		return submitCommands(ctx, cmd, exec, cmds, submitErrLog)
	}

	jobType, err := grid.ParseJobType(submitJob)
	if err != nil {
		return err
	}
	jc, err := config.LoadJobConfig(submitJobConfig)
	if err != nil {
		return err
	}

	cmds, err := buildCommands(ctx, cmd, exec, jobType, jc)
	if err != nil {
		return err
	}
	return submitCommands(ctx, cmd, exec, cmds, submitErrLog+grid.Timestamp(time.Now()))
}

type runInput struct {
	runID  int
	infile string
}

func runInputs(jobType grid.JobType, jc *config.JobConfig) ([]runInput, error) {
	if submitMC {
		files, err := readLines(submitList)
		if err != nil {
			return nil, err
		}
		inputs := make([]runInput, 0, len(files))
		for i, f := range files {
			id, ok := grid.RunIDFromName(f)
			if !ok {
				id = i + 1
			}
			inputs = append(inputs, runInput{runID: id, infile: f})
		}
		return inputs, nil
	}

	runIDs, err := readRunList(submitList)
	if err != nil {
		return nil, err
	}
	inputs := make([]runInput, 0, len(runIDs))
	for _, id := range runIDs {
		inputs = append(inputs, runInput{
			runID:  id,
			infile: grid.InputFile(jc.Value("indir"), jc.Value("inv"), jobType, id),
		})
	}
	return inputs, nil
}

func buildCommands(ctx context.Context, cmd *cobra.Command, exec tactile.Executor, jobType grid.JobType, jc *config.JobConfig) ([]string, error) {
	inputs, err := runInputs(jobType, jc)
	if err != nil {
		return nil, err
	}
	if submitDebug {
		for _, in := range inputs {
			fmt.Fprintln(cmd.OutOrStdout(), in.infile)
		}
	}

	builder := grid.CommandBuilder{Tracker: cfg.Grid.Tracker, Config: jc}
	if submitSplit < 0 {
		cmds := make([]string, 0, len(inputs))
		for _, in := range inputs {
			cmds = append(cmds, builder.Build(jobType, in.runID, grid.WholeRun, in.infile))
		}
		return cmds, nil
	}

	counter := grid.NewCounter(exec, cfg.Merge.CounterCommand)
	layout := grid.Layout{OutDir: jc.Value("outdir"), Release: cfg.Release}

	var cmds []string
	for index, in := range inputs {
		nEvents := submitNEvents
		if nEvents < 0 {
			count, err := counter.Count(ctx, in.infile)
			if errors.Is(err, grid.ErrCounterUnavailable) {
				return nil, fmt.Errorf("splitting needs merge.counter_command or --nevents: %w", err)
			}
			if err != nil {
				logging.SubmitWarn("run %d submitted unsplit: %v", in.runID, err)
				cmds = append(cmds, builder.Build(jobType, in.runID, grid.WholeRun, in.infile))
				continue
			}
			nEvents = count.Saved
		}

		sizes := grid.OptimizedSizes(nEvents, submitSplit, cfg.Grid.MaxJobsPerRun)
		if len(sizes) == 0 {
			logging.SubmitWarn("skipping run %d: no events", in.runID)
			continue
		}
		if submitDebug {
			fmt.Fprintln(cmd.OutOrStdout(), index, in.runID, len(sizes), sizes[len(sizes)-1].NEvents)
		}
		if submitWriteOpts {
			for tag, size := range sizes {
				path := layout.OptsFile(jobType, in.runID, fmt.Sprint(tag))
				if err := grid.WriteOptsFile(path, size); err != nil {
					return nil, err
				}
			}
		}
		cmds = append(cmds, builder.BuildSplit(jobType, in.runID, sizes, in.infile)...)
	}
	return cmds, nil
}

func submitCommands(ctx context.Context, cmd *cobra.Command, exec tactile.Executor, cmds []string, errLog string) error {
	if submitDryRun {
		for _, c := range cmds {
			fmt.Fprintln(cmd.OutOrStdout(), c)
		}
		return nil
	}
	if len(cmds) == 0 {
		logging.Submit("nothing to submit")
		return nil
	}

	ledger := openLedger()
	if ledger != nil {
		defer ledger.Close()
	}

	return withGuard(ctx, exec, func() error {
		s := grid.NewSubmitter(exec, grid.SubmitOptions{
			MaxFailRounds: cfg.Grid.MaxFailRounds,
			RetryDelay:    cfg.GetRetryDelay(),
			ETAEvery:      cfg.Grid.ETAEvery,
			ErrLog:        errLog,
		}, ledgerOf(ledger))
		logging.Submit("submitting %d commands as batch %s", len(cmds), s.BatchID())
		return s.SubmitAll(ctx, cmds)
	})
}
