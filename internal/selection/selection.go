// Package selection implements SelectionEngine: from a parsed diff and
// the coverage store, compute which tests the runner must execute to
// cover the lines that changed.
//
// Grounded on kleenex/plugin.py's begin()/wantMethod: filtering
// file-patches (skip headers, skip deletions, strip a/ b/ prefixes,
// apply an interest predicate), accumulating a diff map, querying the
// store per file, and the wantMethod tri-state (True/None/False)
// generalized here to WantTest returning (want bool, known bool).
package selection

import (
	"sort"
	"strings"

	"github.com/HexmosTech/kleenex-go/internal/config"
	"github.com/HexmosTech/kleenex-go/internal/coveragestore"
	"github.com/HexmosTech/kleenex-go/internal/diffparser"
	"github.com/HexmosTech/kleenex-go/internal/kerrors"
)

// Engine holds the run's mutable diff map and the set of tests the
// runner is being asked to execute.
type Engine struct {
	store      *coveragestore.Store
	revisionID int64
	cfg        config.Config

	// DiffLines is file -> set of changed new-side line numbers,
	// populated once by BuildDiffMap.
	DiffLines map[string]map[int]struct{}

	// newFiles holds the diff-map paths whose patch adds the file (old
	// side /dev/null); Select never reports them as missing coverage.
	newFiles map[string]struct{}

	pendingTests map[string]struct{}
}

// New constructs a SelectionEngine bound to one run's revision and
// configuration.
func New(store *coveragestore.Store, revisionID int64, cfg config.Config) *Engine {
	return &Engine{
		store:        store,
		revisionID:   revisionID,
		cfg:          cfg,
		DiffLines:    make(map[string]map[int]struct{}),
		newFiles:     make(map[string]struct{}),
		pendingTests: make(map[string]struct{}),
	}
}

// BuildDiffMap walks the parsed patch, filtering file-patches per
// spec.md §4.5 step 1 and accumulating changed new-side lines per
// step 2. It filters out `del`-only lines (no new line number), per
// spec.md §9's explicit disambiguation of the original's ambiguous
// behaviour.
func (e *Engine) BuildDiffMap(patch *diffparser.Patch) {
	for _, fp := range patch.Files {
		if fp.IsHeader {
			continue
		}
		if fp.IsDeletedFile() {
			continue
		}

		var path string
		if fp.IsNewFile() {
			if !strings.HasPrefix(fp.NewPath, "b/") {
				continue
			}
			path = strings.TrimPrefix(fp.NewPath, "b/")
			e.newFiles[path] = struct{}{}
		} else {
			if !strings.HasPrefix(fp.OldPath, "a/") {
				continue
			}
			path = strings.TrimPrefix(fp.OldPath, "a/")
		}

		if e.cfg.Interest != nil && !e.cfg.Interest(path) {
			continue
		}

		for _, chunk := range fp.Chunks {
			for _, dl := range chunk.Lines {
				if dl.Action == diffparser.Del || dl.NewLineno == 0 {
					continue
				}
				if e.DiffLines[path] == nil {
					e.DiffLines[path] = make(map[int]struct{})
				}
				e.DiffLines[path][dl.NewLineno] = struct{}{}
			}
		}
	}
}

// Select queries CoverageStore for every file in the diff map and
// computes PendingTests, per spec.md §4.5 step 3. skipMissing and the
// strict-mode failure are read from cfg; a file the diff adds as new
// has no prior coverage to find and never triggers the strict-mode
// failure. Selection is strictly gated
// by cfg.Discover, per spec.md §9's disambiguation of the original's
// conflation of selection with report-only mode: when Discover is
// false this is a no-op, regardless of what BuildDiffMap accumulated.
func (e *Engine) Select() error {
	if !e.cfg.Discover {
		return nil
	}
	for file, lineSet := range e.DiffLines {
		lines := make([]int, 0, len(lineSet))
		for l := range lineSet {
			lines = append(lines, l)
		}
		sort.Ints(lines)

		tests, err := e.store.GetCoverage(e.revisionID, file, lines)
		if err != nil {
			return err
		}
		if len(tests) == 0 {
			has, err := e.store.HasCoverage(e.revisionID, file)
			if err != nil {
				return err
			}
			if !has {
				if _, isNew := e.newFiles[file]; isNew || e.cfg.SkipMissing {
					continue
				}
				return &kerrors.MissingCoverage{File: file}
			}
			continue
		}
		for t := range tests {
			e.pendingTests[t] = struct{}{}
		}
	}
	return nil
}

// PendingTests returns the set of test names the engine has
// determined so far should run.
func (e *Engine) PendingTests() map[string]struct{} {
	return e.pendingTests
}

// RevisionID returns the revision this engine is bound to, for callers
// that need to query the store directly (e.g. a read-only report).
func (e *Engine) RevisionID() int64 {
	return e.revisionID
}

// WantTest is the capability yielded to the runner (spec.md §4.5 step
// 4): want reports whether name should run; known is false only for
// the "unknown — deferring to the runner" answer, given to a test the
// store has never seen at this revision while TestMissing is set
// (mirroring wantMethod's tri-state True/None/False). Every other
// answer, pending or not, comes back with known true.
func (e *Engine) WantTest(name string) (want bool, known bool) {
	if _, ok := e.pendingTests[name]; ok {
		return true, true
	}

	seen, err := e.store.HasTest(e.revisionID, name)
	if err == nil && !seen && e.cfg.TestMissing {
		// Unseen at this revision: allow it to run so its coverage
		// gets recorded, but report "unknown" so the runner can defer
		// to other selection plugins if it has its own opinion.
		e.pendingTests[name] = struct{}{}
		return true, false
	}

	return false, true
}
