package grid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gridrun/internal/tactile"
)

// EventCount is what a counter reports for one data file.
type EventCount struct {
	// Saved is the number of events stored in the file.
	Saved int64
	// Expected is the number of events the job was asked to process,
	// or -1 when the tool does not know.
	Expected int64
}

// EventCounter reads event counts from data files.
type EventCounter interface {
	Count(ctx context.Context, file string) (EventCount, error)
}

// ToolCounter delegates counting to an external command. Template is a
// shell line in which {file} is replaced by the file path; the command
// prints "saved [expected]".
type ToolCounter struct {
	Exec     tactile.Executor
	Template string
}

// Count runs the counting tool on file.
func (c ToolCounter) Count(ctx context.Context, file string) (EventCount, error) {
	if c.Template == "" {
		return EventCount{}, ErrCounterUnavailable
	}
	line := strings.ReplaceAll(c.Template, "{file}", file)
	res, err := c.Exec.Execute(ctx, tactile.Shell(line))
	if err != nil {
		return EventCount{}, fmt.Errorf("event counter: %w", err)
	}
	if !res.OK() {
		return EventCount{}, fmt.Errorf("event counter failed on %s (exit %d): %s",
			file, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseEventCount(res.Stdout)
}

func parseEventCount(out string) (EventCount, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 || len(fields) > 2 {
		return EventCount{}, fmt.Errorf("unexpected event counter output %q", strings.TrimSpace(out))
	}
	saved, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return EventCount{}, fmt.Errorf("bad saved count %q: %w", fields[0], err)
	}
	count := EventCount{Saved: saved, Expected: -1}
	if len(fields) == 2 {
		expected, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return EventCount{}, fmt.Errorf("bad expected count %q: %w", fields[1], err)
		}
		count.Expected = expected
	}
	return count, nil
}

// NopCounter is used when no counting tool is configured.
type NopCounter struct{}

// Count always returns ErrCounterUnavailable.
func (NopCounter) Count(context.Context, string) (EventCount, error) {
	return EventCount{}, ErrCounterUnavailable
}

// NewCounter returns a ToolCounter for template, or a NopCounter when
// template is empty.
func NewCounter(exec tactile.Executor, template string) EventCounter {
	if strings.TrimSpace(template) == "" {
		return NopCounter{}
	}
	return ToolCounter{Exec: exec, Template: template}
}
