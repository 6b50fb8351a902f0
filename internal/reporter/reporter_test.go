package reporter

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComputeAccounting(t *testing.T) {
	diffLines := map[string]map[int]struct{}{
		"lib.src": {5: {}, 6: {}, 7: {}},
	}
	covLines := map[string]map[int]struct{}{
		"lib.src": {5: {}, 6: {}},
	}

	stats := Compute(diffLines, covLines)
	if stats.Total != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total)
	}
	if stats.Covered != 2 {
		t.Fatalf("expected covered 2, got %d", stats.Covered)
	}
	if len(stats.Missing["lib.src"]) != 1 || stats.Missing["lib.src"][0] != 7 {
		t.Fatalf("expected missing [7], got %v", stats.Missing["lib.src"])
	}
	if stats.Covered > stats.Total {
		t.Fatalf("covered must not exceed total")
	}
}

func TestComputeEmptyDiff(t *testing.T) {
	stats := Compute(nil, nil)
	if stats.Total != 0 || stats.Covered != 0 || len(stats.Missing) != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestWriteJSONShape(t *testing.T) {
	stats := Stats{
		Covered: 2,
		Total:   3,
		Missing: map[string][]int{"lib.src": {7}},
	}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, stats); err != nil {
		t.Fatalf("write_json: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	statsField, ok := decoded["stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected stats object, got %v", decoded["stats"])
	}
	if statsField["covered"].(float64) != 2 || statsField["total"].(float64) != 3 {
		t.Fatalf("unexpected stats field: %v", statsField)
	}
	missing, ok := decoded["missing"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected missing object, got %v", decoded["missing"])
	}
	if _, ok := missing["lib.src"]; !ok {
		t.Fatalf("expected lib.src in missing, got %v", missing)
	}
}

func TestWriteJSONOmitsFullyCoveredFiles(t *testing.T) {
	stats := Stats{Covered: 3, Total: 3, Missing: map[string][]int{}}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, stats); err != nil {
		t.Fatalf("write_json: %v", err)
	}
	if strings.Contains(buf.String(), "lib.src") {
		t.Fatalf("did not expect any file entries: %s", buf.String())
	}
}

func TestWriteHumanPercentage(t *testing.T) {
	stats := Stats{Covered: 2, Total: 3, Missing: map[string][]int{"lib.src": {7}}}
	var buf bytes.Buffer
	if err := WriteHuman(&buf, stats); err != nil {
		t.Fatalf("write_human: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "66.67%") {
		t.Fatalf("expected percentage in output, got: %s", out)
	}
	if !strings.Contains(out, "lib.src") {
		t.Fatalf("expected missing file table, got: %s", out)
	}
}

func TestWriteHumanSkipsEmptyTotal(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHuman(&buf, Stats{}); err != nil {
		t.Fatalf("write_human: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output for zero total, got: %s", buf.String())
	}
}

func TestResolveOutputRunnerStream(t *testing.T) {
	var runnerStream bytes.Buffer
	for _, dest := range []string{"", "-"} {
		w, closeFn, err := ResolveOutput(dest, &runnerStream)
		if err != nil {
			t.Fatalf("resolve_output(%q): %v", dest, err)
		}
		if w != io.Writer(&runnerStream) {
			t.Fatalf("resolve_output(%q): expected the runner stream back", dest)
		}
		if err := closeFn(); err != nil {
			t.Fatalf("resolve_output(%q): unexpected close error: %v", dest, err)
		}
	}
}

func TestResolveOutputSysStreams(t *testing.T) {
	var runnerStream bytes.Buffer

	w, closeFn, err := ResolveOutput("sys://stdout", &runnerStream)
	if err != nil {
		t.Fatalf("resolve_output(sys://stdout): %v", err)
	}
	if w != io.Writer(os.Stdout) {
		t.Fatalf("expected os.Stdout, got %v", w)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	w, closeFn, err = ResolveOutput("sys://stderr", &runnerStream)
	if err != nil {
		t.Fatalf("resolve_output(sys://stderr): %v", err)
	}
	if w != io.Writer(os.Stderr) {
		t.Fatalf("expected os.Stderr, got %v", w)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestResolveOutputFilesystemPath(t *testing.T) {
	var runnerStream bytes.Buffer
	path := filepath.Join(t.TempDir(), "report.json")

	w, closeFn, err := ResolveOutput(path, &runnerStream)
	if err != nil {
		t.Fatalf("resolve_output(%q): %v", path, err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected file contents %q, got %q", "hello", got)
	}
}
