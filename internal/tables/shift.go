// Package tables rewrites whitespace-delimited calibration tables.
package tables

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gridrun/internal/logging"
)

// ErrUnknownMode is returned for a detector mode with no time column.
var ErrUnknownMode = errors.New("unknown timing mode")

// timeColumn maps a detector mode to the column holding the time offset.
var timeColumn = map[string]int{
	"chamber": 5,
	"hodo":    5,
	"trigger": 6,
}

// Modes lists the supported detector modes.
func Modes() []string {
	return []string{"chamber", "hodo", "trigger"}
}

// Stats counts what Shift did.
type Stats struct {
	Shifted int
	Copied  int
}

// Shift copies a timing table from r to w, adding offset (rounded to the
// nearest integer) to the time column of every row where that column is an
// integer. The header line and all other rows are copied unchanged.
// Shifted rows are written tab-separated.
func Shift(r io.Reader, w io.Writer, mode string, offset float64) (Stats, error) {
	col, ok := timeColumn[mode]
	if !ok {
		return Stats{}, fmt.Errorf("%w %q (valid: %s)", ErrUnknownMode, mode, strings.Join(Modes(), ", "))
	}
	delta := int64(math.Round(offset))

	var stats Stats
	scanner := bufio.NewScanner(r)
	out := bufio.NewWriter(w)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return stats, fmt.Errorf("read table: %w", err)
		}
		return stats, errors.New("empty table")
	}
	fmt.Fprintln(out, strings.TrimSpace(scanner.Text()))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		vals := strings.Fields(line)
		if col < len(vals) {
			if t, err := strconv.ParseInt(vals[col], 10, 64); err == nil {
				vals[col] = strconv.FormatInt(t+delta, 10)
				fmt.Fprintln(out, strings.Join(vals, "\t"))
				stats.Shifted++
				continue
			}
		}
		fmt.Fprintln(out, line)
		stats.Copied++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read table: %w", err)
	}
	if err := out.Flush(); err != nil {
		return stats, fmt.Errorf("write table: %w", err)
	}

	logging.TablesDebug("%s table: shifted %d rows by %d, copied %d", mode, stats.Shifted, delta, stats.Copied)
	return stats, nil
}
