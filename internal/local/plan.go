// Package local runs an analysis executable over a list of runs on the
// local machine, a bounded number of processes at a time.
package local

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gridrun/internal/grid"
	"gridrun/internal/logging"
)

// Plan describes a local batch: one job per schema, or several when the
// input is divided into event ranges.
type Plan struct {
	// Executable is run from the working directory unless it holds a path.
	Executable string
	// InputPattern and OutputPattern have every '?' replaced by the schema.
	InputPattern  string
	OutputPattern string
	// ExtraArgs is appended to every command, '?' replaced by the schema.
	ExtraArgs string
	Schemas   []string
	// Divide caps the events of one job; 0 runs each schema as one job.
	Divide int64
	// LogDir receives log_<exe>_<schema>[_NNN] files.
	LogDir string
}

// Job is one process of a local batch.
type Job struct {
	Schema string
	Binary string
	Args   []string
	Output string
	Log    string
}

// CommandLine renders the job the way it would be typed in a shell.
func (j Job) CommandLine() string {
	return fmt.Sprintf("%s %s > %s", j.Binary, strings.Join(j.Args, " "), j.Log)
}

// ReadSchemas reads one schema per line from path, skipping blank lines.
func ReadSchemas(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run list: %w", err)
	}
	defer f.Close()

	var schemas []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if s := strings.TrimSpace(scanner.Text()); s != "" {
			schemas = append(schemas, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run list: %w", err)
	}
	return schemas, nil
}

func (p Plan) binary() string {
	if strings.ContainsRune(p.Executable, os.PathSeparator) {
		return p.Executable
	}
	return "." + string(os.PathSeparator) + p.Executable
}

func (p Plan) logName(schema string) string {
	name := fmt.Sprintf("log_%s_%s", filepath.Base(p.Executable), schema)
	return filepath.Join(p.LogDir, name)
}

// Jobs expands the plan. With Divide > 0 each input is counted and split;
// schemas whose input cannot be counted are skipped with a warning.
func (p Plan) Jobs(ctx context.Context, counter grid.EventCounter) ([]Job, error) {
	if p.Executable == "" {
		return nil, fmt.Errorf("no executable given")
	}
	outBase := strings.TrimSuffix(p.OutputPattern, ".root")

	var jobs []Job
	for _, schema := range p.Schemas {
		input := strings.ReplaceAll(p.InputPattern, "?", schema)
		output := strings.ReplaceAll(outBase, "?", schema)
		extra := strings.Fields(strings.ReplaceAll(p.ExtraArgs, "?", schema))
		log := p.logName(schema)

		if p.Divide <= 0 {
			args := append([]string{input, output + ".root"}, extra...)
			jobs = append(jobs, Job{Schema: schema, Binary: p.binary(), Args: args, Output: output + ".root", Log: log})
			continue
		}

		if counter == nil {
			return nil, fmt.Errorf("dividing jobs needs an event counter")
		}
		count, err := counter.Count(ctx, input)
		if err != nil {
			logging.LocalWarn("skipping %s: cannot count events in %s: %v", schema, input, err)
			continue
		}
		for i, r := range grid.OptimizedSizes(count.Saved, p.Divide, 0) {
			out := fmt.Sprintf("%s_%03d.root", output, i)
			args := []string{input, out, strconv.FormatInt(r.FirstEvent, 10), strconv.FormatInt(r.NEvents, 10)}
			args = append(args, extra...)
			jobs = append(jobs, Job{
				Schema: schema,
				Binary: p.binary(),
				Args:   args,
				Output: out,
				Log:    fmt.Sprintf("%s_%03d", log, i),
			})
		}
	}
	return jobs, nil
}
