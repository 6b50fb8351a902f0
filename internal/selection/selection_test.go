package selection

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/HexmosTech/kleenex-go/internal/config"
	"github.com/HexmosTech/kleenex-go/internal/coveragestore"
	"github.com/HexmosTech/kleenex-go/internal/diffparser"
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

func TestEmptyDiffNoTests(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Discover = true

	patch, err := diffparser.Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eng := New(s, rev, cfg)
	eng.BuildDiffMap(patch)
	if err := eng.Select(); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(eng.PendingTests()) != 0 {
		t.Fatalf("expected no pending tests, got %v", eng.PendingTests())
	}
}

func TestNewFileNoAbort(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Discover = true
	cfg.SkipMissing = false

	diff := "--- /dev/null\n+++ b/new.go\n@@ -0,0 +1 @@\n+print\n"
	patch, err := diffparser.Parse([]byte(diff))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eng := New(s, rev, cfg)
	eng.BuildDiffMap(patch)
	if err := eng.Select(); err != nil {
		t.Fatalf("select should not fail for a new file: %v", err)
	}
	if len(eng.PendingTests()) != 0 {
		t.Fatalf("expected no pending tests for a brand new file")
	}
}

func TestChangedLineWithCoverageSelectsTest(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	if err := s.Record(rev, "T1", map[string]map[int]int{"lib.go": {7: 0}}, 4); err != nil {
		t.Fatalf("record: %v", err)
	}

	cfg := config.Defaults()
	cfg.Discover = true

	diff := "--- a/lib.go\n+++ b/lib.go\n@@ -6,3 +6,3 @@\n context6\n-old7\n+new7\n context8\n"
	patch, err := diffparser.Parse([]byte(diff))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eng := New(s, rev, cfg)
	eng.BuildDiffMap(patch)
	if err := eng.Select(); err != nil {
		t.Fatalf("select: %v", err)
	}
	pending := eng.PendingTests()
	if _, ok := pending["T1"]; !ok || len(pending) != 1 {
		t.Fatalf("expected {T1}, got %v", pending)
	}
}

func TestChangedLineNoCoverageStrictModeFails(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Discover = true
	cfg.SkipMissing = false

	diff := "--- a/lib.go\n+++ b/lib.go\n@@ -6,3 +6,3 @@\n context6\n-old7\n+new7\n context8\n"
	patch, err := diffparser.Parse([]byte(diff))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eng := New(s, rev, cfg)
	eng.BuildDiffMap(patch)
	err = eng.Select()
	if err == nil {
		t.Fatalf("expected MissingCoverage error")
	}
}

func TestWantTestDefersForUnseenTest(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Discover = true
	cfg.TestMissing = true

	eng := New(s, rev, cfg)
	want, known := eng.WantTest("brand-new-test")
	if !want {
		t.Fatalf("expected unseen test to be allowed to run")
	}
	if known {
		t.Fatalf("expected unseen test to report unknown")
	}
	// Having deferred once, it should now be pending.
	if _, ok := eng.PendingTests()["brand-new-test"]; !ok {
		t.Fatalf("expected deferred test to be added to pending set")
	}
}

func TestInterestPredicateFiltersFiles(t *testing.T) {
	s := newStore(t)
	rev, _ := s.AddRevision("R", time.Now())
	cfg := config.Defaults()
	cfg.Discover = true
	cfg.Interest = func(path string) bool { return false }

	diff := "--- a/lib.go\n+++ b/lib.go\n@@ -6,3 +6,3 @@\n context6\n-old7\n+new7\n context8\n"
	patch, err := diffparser.Parse([]byte(diff))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eng := New(s, rev, cfg)
	eng.BuildDiffMap(patch)
	if len(eng.DiffLines) != 0 {
		t.Fatalf("expected interest predicate to drop all files, got %v", eng.DiffLines)
	}
}
