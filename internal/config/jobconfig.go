package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// JobConfig holds the tracker arguments shared by every job of a batch.
// It is read from a flat text file:
//
//	outdir = /pnfs/e906/persistent/users/me/out
//	alignment = align_${RUN}.txt,extra.txt
//	sqlite
//
// Lines with two '='-separated fields are attributes (the literal "-eq-"
// in a value stands for '='), a lone token is a boolean switch, and any
// line containing '#' is ignored.
type JobConfig struct {
	keys     []string
	attrs    map[string]string
	switches []string
	inited   bool
}

// NewJobConfig returns an empty, initialised config.
func NewJobConfig() *JobConfig {
	return &JobConfig{attrs: make(map[string]string), inited: true}
}

// LoadJobConfig parses the file at path. A missing file is not an error:
// the returned config reports Inited() == false and contributes no arguments.
func LoadJobConfig(path string) (*JobConfig, error) {
	jc := &JobConfig{attrs: make(map[string]string)}
	if path == "" {
		return jc, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return jc, nil
		}
		return nil, fmt.Errorf("failed to open job config: %w", err)
	}
	defer f.Close()

	jc.inited = true
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		jc.parseLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job config: %w", err)
	}
	return jc, nil
}

func (jc *JobConfig) parseLine(line string) {
	if strings.Contains(line, "#") {
		return
	}

	parts := strings.Split(strings.TrimSpace(line), "=")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch {
	case len(parts) == 2:
		jc.Set(parts[0], strings.ReplaceAll(parts[1], "-eq-", "="))
	case len(parts) == 1 && parts[0] != "":
		jc.AddSwitch(parts[0])
	}
}

// Set stores an attribute, keeping the position of an existing key.
func (jc *JobConfig) Set(key, value string) {
	if _, ok := jc.attrs[key]; !ok {
		jc.keys = append(jc.keys, key)
	}
	jc.attrs[key] = value
}

// AddSwitch records a boolean switch.
func (jc *JobConfig) AddSwitch(name string) {
	for _, s := range jc.switches {
		if s == name {
			return
		}
	}
	jc.switches = append(jc.switches, name)
}

// Inited reports whether the config was read from an existing file.
func (jc *JobConfig) Inited() bool {
	return jc.inited
}

// Get returns an attribute. Underscores in name match dashes in the file,
// since the tracker spells its options with dashes.
func (jc *JobConfig) Get(name string) (string, bool) {
	v, ok := jc.attrs[strings.ReplaceAll(name, "_", "-")]
	return v, ok
}

// Value returns an attribute or "" when absent.
func (jc *JobConfig) Value(name string) string {
	v, _ := jc.Get(name)
	return v
}

// Switch reports whether a boolean switch is set.
func (jc *JobConfig) Switch(name string) bool {
	name = strings.ReplaceAll(name, "_", "-")
	for _, s := range jc.switches {
		if s == name {
			return true
		}
	}
	return false
}

// Args renders the config as tracker arguments. Every comma-separated item
// of an attribute becomes its own --key=item. The result starts and ends
// with a space so it can be appended to a command verbatim.
func (jc *JobConfig) Args() string {
	var b strings.Builder
	b.WriteString(" ")
	for _, key := range jc.keys {
		for _, item := range strings.Split(jc.attrs[key], ",") {
			fmt.Fprintf(&b, "--%s=%s ", key, item)
		}
	}
	for _, s := range jc.switches {
		fmt.Fprintf(&b, "--%s ", s)
	}
	return b.String()
}

func (jc *JobConfig) String() string {
	return jc.Args()
}
