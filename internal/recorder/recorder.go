// Package recorder implements CoverageRecorder: the per-test
// lifecycle that starts/stops a Tracer, and on completion both updates
// the coverage store for the test under the current revision (record
// path) and updates the "covered lines on diff" aggregate the report
// consumes (report path).
//
// Grounded on kleenex/plugin.py's startTest/stopTest (tracer
// start/stop bracketing a test, a single transaction doing the
// clear-then-set replace, proximity filtering before recording, diff
// intersection for the report) and on reviewdb.go's
// recordAndComputeCoverage for the "never let a degraded coverage path
// abort the run" posture.
package recorder

import (
	"github.com/HexmosTech/kleenex-go/internal/config"
	"github.com/HexmosTech/kleenex-go/internal/coveragestore"
	"github.com/HexmosTech/kleenex-go/internal/tracer"
)

// Recorder drives one test's before/after lifecycle.
type Recorder struct {
	store      *coveragestore.Store
	tracer     *tracer.Tracer
	revisionID int64
	cfg        config.Config
	diffLines  map[string]map[int]struct{}

	// CovLines is file -> set of diff lines actually exercised by some
	// test so far this run, monotonically unioned across tests.
	CovLines map[string]map[int]struct{}
}

// New constructs a Recorder bound to one run. diffLines is
// Engine.DiffLines from the selection package (may be nil/empty when
// report is disabled or nothing changed).
func New(store *coveragestore.Store, tr *tracer.Tracer, revisionID int64, cfg config.Config, diffLines map[string]map[int]struct{}) *Recorder {
	return &Recorder{
		store:      store,
		tracer:     tr,
		revisionID: revisionID,
		cfg:        cfg,
		diffLines:  diffLines,
		CovLines:   make(map[string]map[int]struct{}),
	}
}

// BeforeTest starts the tracer. A no-op unless record or report is
// enabled, per spec.md §4.6.
func (r *Recorder) BeforeTest() {
	if !(r.cfg.Record || r.cfg.Report) {
		return
	}
	r.tracer.Start()
}

// AfterTest stops the tracer and, inside one store transaction,
// performs the record path (if enabled) and the report path (if
// enabled), per spec.md §4.6 steps 1-7. It always completes the
// transaction even if the tracer produced no lines, to clear any stale
// coverage for this test at this revision.
func (r *Recorder) AfterTest(testName string) error {
	if !(r.cfg.Record || r.cfg.Report) {
		return nil
	}

	r.tracer.Stop()
	buffers := r.tracer.Buffers()

	if r.cfg.Record {
		if err := r.store.Record(r.revisionID, testName, buffers, r.cfg.MaxDistance); err != nil {
			return err
		}
	}

	if r.cfg.Report {
		for file, lines := range buffers {
			diffSet, ok := r.diffLines[file]
			if !ok {
				continue
			}
			for line := range lines {
				if _, inDiff := diffSet[line]; !inDiff {
					continue
				}
				if r.CovLines[file] == nil {
					r.CovLines[file] = make(map[int]struct{})
				}
				r.CovLines[file][line] = struct{}{}
			}
		}
	}

	return nil
}
