package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/HexmosTech/kleenex-go/internal/config"
	"github.com/HexmosTech/kleenex-go/internal/coveragestore"
	"github.com/HexmosTech/kleenex-go/internal/tracer"
)

func newStore(t *testing.T) *coveragestore.Store {
	t.Helper()
	s, err := coveragestore.Open(filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Upgrade(); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordPathFiltersByDistance(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Record = true
	cfg.Report = false
	cfg.MaxDistance = 3

	tr := tracer.New()
	rec := New(s, tr, rev, cfg, nil)

	// Scenario {10->1, 11->5, 12->2} with max_distance 3.
	rec.BeforeTest()
	tr.Call() // depth 1
	tr.Line("lib.src", 10)
	tr.Call() // depth 2
	tr.Line("lib.src", 12)
	tr.Call() // depth 3
	tr.Call() // depth 4
	tr.Call() // depth 5
	tr.Line("lib.src", 11)
	for i := 0; i < 5; i++ {
		tr.Return()
	}
	if err := rec.AfterTest("T1"); err != nil {
		t.Fatalf("after_test: %v", err)
	}

	cov, err := s.GetCoverage(rev, "lib.src", []int{10, 12})
	if err != nil {
		t.Fatalf("get_coverage: %v", err)
	}
	if _, ok := cov["T1"]; !ok {
		t.Fatalf("expected shallow lines to be recorded, got %v", cov)
	}

	deep, err := s.GetCoverage(rev, "lib.src", []int{11})
	if err != nil {
		t.Fatalf("get_coverage: %v", err)
	}
	if _, ok := deep["T1"]; ok {
		t.Fatalf("expected line 11 (distance 5 >= max_distance 3) not to be recorded, got %v", deep)
	}
}

func TestAfterTestCommitsEvenWithNoLines(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Record = true

	tr := tracer.New()
	rec := New(s, tr, rev, cfg, nil)
	rec.BeforeTest()
	// No lines executed at all.
	if err := rec.AfterTest("T1"); err != nil {
		t.Fatalf("after_test should succeed even with no lines: %v", err)
	}

	has, err := s.HasTest(rev, "T1")
	if err != nil {
		t.Fatalf("has_test: %v", err)
	}
	if !has {
		t.Fatalf("expected test T1 to be recorded even with zero coverage rows")
	}
}

func TestReportPathAccounting(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Record = false
	cfg.Report = true

	diffLines := map[string]map[int]struct{}{
		"lib.src": {5: {}, 6: {}, 7: {}},
	}

	tr := tracer.New()
	rec := New(s, tr, rev, cfg, diffLines)

	rec.BeforeTest()
	tr.Line("lib.src", 5)
	tr.Line("lib.src", 6)
	tr.Line("lib.src", 99) // not in diff, ignored
	if err := rec.AfterTest("T1"); err != nil {
		t.Fatalf("after_test: %v", err)
	}

	covered := 0
	for file, lines := range diffLines {
		for line := range lines {
			if _, ok := rec.CovLines[file][line]; ok {
				covered++
			}
		}
	}
	if covered != 2 {
		t.Fatalf("expected 2 covered lines, got %d (%v)", covered, rec.CovLines)
	}
	if _, missing7 := rec.CovLines["lib.src"][7]; missing7 {
		t.Fatalf("line 7 should remain uncovered")
	}
}

func TestBeforeTestNoOpWhenDisabled(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Record = false
	cfg.Report = false

	tr := tracer.New()
	rec := New(s, tr, rev, cfg, nil)
	rec.BeforeTest()
	if tr.Active() {
		t.Fatalf("expected tracer to remain idle when record and report are both disabled")
	}
	if err := rec.AfterTest("T1"); err != nil {
		t.Fatalf("after_test: %v", err)
	}
}
