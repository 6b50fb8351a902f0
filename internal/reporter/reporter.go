// Package reporter summarizes covered vs. missing diff lines, in
// either a human-readable or a machine-readable (JSON) form.
//
// Grounded on kleenex/plugin.py's report() (percentage line, per-file
// missing-lines table, JSON file write path) and on reviewdb.go's
// json.Marshal usage for persisted structures. The human-readable
// byte/line-count phrasing follows the teacher's convention of plain
// fmt.Fprintf lines; large counts are rendered with go-humanize the
// way a CLI report table typically formats volume figures.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/HexmosTech/kleenex-go/internal/coveragestore"
)

// Stats is the aggregate accounting spec.md §4.7/§8 describes.
type Stats struct {
	Covered int
	Total   int
	// Missing is file -> sorted missing line numbers; only files with
	// a non-empty missing set are meant to be emitted.
	Missing map[string][]int
}

// Compute derives Stats from the run's diff map and covered-lines
// aggregate. covered ≤ total and missing[f] ∪ cov_lines[f] ==
// diff_lines[f] by construction.
func Compute(diffLines, covLines map[string]map[int]struct{}) Stats {
	stats := Stats{Missing: make(map[string][]int)}

	for file, lines := range diffLines {
		stats.Total += len(lines)
		covered := covLines[file]
		stats.Covered += len(covered)

		var missing []int
		for line := range lines {
			if _, ok := covered[line]; !ok {
				missing = append(missing, line)
			}
		}
		if len(missing) > 0 {
			sort.Ints(missing)
			stats.Missing[file] = missing
		}
	}

	return stats
}

type jsonReport struct {
	Stats struct {
		Covered int `json:"covered"`
		Total   int `json:"total"`
	} `json:"stats"`
	Missing map[string][]int `json:"missing"`
}

// WriteJSON emits spec.md §6's JSON report shape: only files with a
// non-empty missing set are included.
func WriteJSON(w io.Writer, stats Stats) error {
	report := jsonReport{Missing: stats.Missing}
	report.Stats.Covered = stats.Covered
	report.Stats.Total = stats.Total
	if report.Missing == nil {
		report.Missing = map[string][]int{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(report)
}

// WriteHuman emits the "Coverage against diff is P% (C / T lines)"
// summary followed by a per-file missing-lines table, per
// kleenex/plugin.py's report() stream writer.
func WriteHuman(w io.Writer, stats Stats) error {
	if stats.Total == 0 {
		return nil
	}
	pct := float64(stats.Covered) / float64(stats.Total) * 100

	if _, err := fmt.Fprintf(w, "Coverage against diff is %.2f%% (%s / %s lines)\n",
		pct, humanize.Comma(int64(stats.Covered)), humanize.Comma(int64(stats.Total))); err != nil {
		return err
	}

	if len(stats.Missing) == 0 {
		return nil
	}

	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%-35s   %s\n", "Filename", "Missing Lines"); err != nil {
		return err
	}

	files := make([]string, 0, len(stats.Missing))
	for f := range stats.Missing {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		lines := stats.Missing[f]
		joined := joinInts(lines)
		if _, err := fmt.Fprintf(w, "%-35s   %s\n", f, joined); err != nil {
			return err
		}
	}
	return nil
}

func joinInts(vals []int) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", v)
	}
	return out
}

// SortedLines re-exports coveragestore's helper for callers that only
// have a line set, not a Stats value.
func SortedLines(lines map[int]struct{}) []int {
	return coveragestore.SortedLines(lines)
}

// ResolveOutput maps a report_output destination (spec.md §6: `-`, the
// runner stream; `sys://stdout`/`sys://stderr`; or a filesystem path)
// to a writer, following kleenex/config.py's documented `report_output
// = sys://stdout` convention literally. The returned close func is a
// no-op for the runner stream and the sys:// streams (the caller
// doesn't own those); for a filesystem path it closes the opened file
// and must be deferred by the caller.
func ResolveOutput(dest string, runnerStream io.Writer) (w io.Writer, closeFn func() error, err error) {
	noopClose := func() error { return nil }

	switch dest {
	case "", "-":
		return runnerStream, noopClose, nil
	case "sys://stdout":
		return os.Stdout, noopClose, nil
	case "sys://stderr":
		return os.Stderr, noopClose, nil
	default:
		f, err := os.Create(dest)
		if err != nil {
			return nil, noopClose, err
		}
		return f, f.Close, nil
	}
}
