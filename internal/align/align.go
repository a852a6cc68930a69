// Package align summarises how detector alignment parameters evolve over
// the iterations of a millepede alignment.
package align

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gridrun/internal/logging"

	"gonum.org/v1/gonum/stat"
)

const (
	// NDetectors is the number of detector planes per alignment file.
	NDetectors = 24
	// NParams is the number of parameters fitted per plane.
	NParams = 3
)

// FileName is the alignment output of iteration i (1-based).
func FileName(i int) string {
	return fmt.Sprintf("align_mille_%d.txt", i)
}

// Trend holds every parameter of every plane across iterations:
// Values[param][detector][iteration].
type Trend struct {
	NCycle int
	Values [NParams][NDetectors][]float64
}

// Load reads align_mille_1.txt .. align_mille_<nCycle>.txt from dir.
// The first NDetectors lines of each file hold NParams numbers each.
func Load(dir string, nCycle int) (*Trend, error) {
	if nCycle < 1 {
		return nil, fmt.Errorf("need at least one iteration, got %d", nCycle)
	}

	tr := &Trend{NCycle: nCycle}
	for p := 0; p < NParams; p++ {
		for d := 0; d < NDetectors; d++ {
			tr.Values[p][d] = make([]float64, nCycle)
		}
	}

	for i := 0; i < nCycle; i++ {
		path := filepath.Join(dir, FileName(i+1))
		if err := tr.loadIteration(path, i); err != nil {
			return nil, err
		}
	}
	logging.AlignDebug("loaded %d alignment iterations from %s", nCycle, dir)
	return tr, nil
}

func (tr *Trend) loadIteration(path string, iter int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open alignment file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	d := 0
	for d < NDetectors && scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < NParams {
			return fmt.Errorf("%s line %d: want %d values, got %d", path, d+1, NParams, len(fields))
		}
		for p := 0; p < NParams; p++ {
			v, err := strconv.ParseFloat(fields[p], 64)
			if err != nil {
				return fmt.Errorf("%s line %d: %w", path, d+1, err)
			}
			tr.Values[p][d][iter] = v
		}
		d++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if d < NDetectors {
		return fmt.Errorf("%s: want %d detector lines, got %d", path, NDetectors, d)
	}
	return nil
}

// Summary describes the trend of one parameter of one plane.
type Summary struct {
	Param    int // 1-based
	Detector int // 1-based
	Mean     float64
	StdDev   float64
	First    float64
	Last     float64
	// LastChange is the step between the final two iterations; a
	// converged alignment has it near zero.
	LastChange float64
}

// Summarize returns one summary per (parameter, detector), parameters
// outermost.
func (tr *Trend) Summarize() []Summary {
	out := make([]Summary, 0, NParams*NDetectors)
	for p := 0; p < NParams; p++ {
		for d := 0; d < NDetectors; d++ {
			v := tr.Values[p][d]
			s := Summary{Param: p + 1, Detector: d + 1, First: v[0], Last: v[len(v)-1]}
			if len(v) > 1 {
				s.Mean, s.StdDev = stat.MeanStdDev(v, nil)
				s.LastChange = v[len(v)-1] - v[len(v)-2]
			} else {
				s.Mean = v[0]
			}
			out = append(out, s)
		}
	}
	return out
}

// Unconverged returns the summaries whose last step exceeds tolerance in
// absolute value.
func Unconverged(summaries []Summary, tolerance float64) []Summary {
	var out []Summary
	for _, s := range summaries {
		if math.Abs(s.LastChange) > tolerance {
			out = append(out, s)
		}
	}
	return out
}
