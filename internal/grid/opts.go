package grid

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var runIDPattern = regexp.MustCompile(`_(\d{6})_`)

// JobAttr is what an opts file says about one (sub-)job.
type JobAttr struct {
	RunID      int
	Outtag     string
	FirstEvent int64
	NEvents    int64
}

// RunIDFromName returns the six-digit run ID embedded in a file name.
func RunIDFromName(name string) (int, bool) {
	m := runIDPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	runID, err := strconv.Atoi(m[1])
	return runID, err == nil
}

// ParseOptsFile reads an opts file. The run ID and tag come from the
// file name; FirstEvent and N_Events from "key value" lines.
func ParseOptsFile(path, release string) (JobAttr, error) {
	runID, ok := RunIDFromName(path)
	if !ok {
		return JobAttr{}, fmt.Errorf("no run ID in opts file name %q", path)
	}

	attr := JobAttr{
		RunID:      runID,
		Outtag:     Outtag(path, release, ".opts"),
		FirstEvent: 0,
		NEvents:    -1,
	}

	f, err := os.Open(path)
	if err != nil {
		return JobAttr{}, fmt.Errorf("failed to open opts file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "N_Events":
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return JobAttr{}, fmt.Errorf("bad N_Events in %s: %w", path, err)
			}
			attr.NEvents = n
		case "FirstEvent":
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return JobAttr{}, fmt.Errorf("bad FirstEvent in %s: %w", path, err)
			}
			attr.FirstEvent = n
		}
	}
	if err := scanner.Err(); err != nil {
		return JobAttr{}, fmt.Errorf("failed to read opts file: %w", err)
	}
	return attr, nil
}

// WriteOptsFile writes the event range of a sub-job in the format
// ParseOptsFile reads.
func WriteOptsFile(path string, r EventRange) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create opts directory: %w", err)
	}
	body := fmt.Sprintf("# written by gridrun\nFirstEvent %d\nN_Events %d\n", r.FirstEvent, r.NEvents)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write opts file: %w", err)
	}
	return nil
}
