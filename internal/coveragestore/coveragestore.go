// Package coveragestore is the relational coverage index: a
// persistent store keyed by (revision, test, file, line) plus the
// call-stack depth ("distance") observed at execution, with
// transactional per-test replace semantics and an in-memory read
// cache.
//
// Grounded on reviewdb.go's openReviewDB/reviewDBSchema (raw-SQL
// schema string executed once via db.Exec, WAL-mode modernc.org/sqlite
// DSN) and insertReviewSession's "one transaction per unit of work"
// shape, generalized from review-session granularity to per-line
// coverage granularity per spec.md §3/§4.2. The read cache is
// grounded on kleenex/db.py's TestCoverageDB._coverage dict: populated
// lazily per file, invalidated on any write touching that file.
package coveragestore

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HexmosTech/kleenex-go/internal/kerrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS revisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    commit_time TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    revision_id INTEGER NOT NULL REFERENCES revisions(id)
);
CREATE TABLE IF NOT EXISTS coverage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file TEXT NOT NULL,
    line INTEGER NOT NULL,
    distance INTEGER NOT NULL,
    test_id INTEGER NOT NULL REFERENCES tests(id),
    revision_id INTEGER NOT NULL REFERENCES revisions(id),
    UNIQUE(file, line, test_id)
);
CREATE INDEX IF NOT EXISTS idx_coverage_test_id ON coverage(test_id);
CREATE INDEX IF NOT EXISTS idx_coverage_revision_id ON coverage(revision_id);
`

// Store is the coverage index. It owns one *sql.DB connection and a
// private read cache; only Store mutates either.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[cacheKey]map[int]map[string]struct{} // revision -> file -> line -> set(test)
}

type cacheKey struct {
	revisionID int64
	file       string
}

// Open opens (creating if necessary) the sqlite-backed coverage store
// at dsn, the way openReviewDB opens reviews.db: WAL mode, a bounded
// busy timeout.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &kerrors.StorageFailure{Op: "open", Err: err}
	}
	return &Store{db: db, cache: make(map[cacheKey]map[int]map[string]struct{})}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Upgrade ensures the schema exists. Idempotent.
func (s *Store) Upgrade() error {
	if _, err := s.db.Exec(schema); err != nil {
		return &kerrors.StorageFailure{Op: "upgrade", Err: err}
	}
	return nil
}

// Tx is a transaction handle scoped strictly to one unit of work
// (normally one test's after-test recording), per §5's "no dangling
// open transactions" rule.
type Tx struct {
	tx *sql.Tx
}

func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, &kerrors.StorageFailure{Op: "begin", Err: err}
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// AddRevision is idempotent on name: it returns the existing id if the
// revision was already recorded, otherwise inserts a new row. A
// revision's commit_time is never mutated once set.
func (s *Store) AddRevision(name string, commitTime time.Time) (int64, error) {
	if id, err := s.GetRevisionID(name); err == nil {
		return id, nil
	}
	res, err := s.db.Exec(`INSERT INTO revisions (name, commit_time) VALUES (?, ?)`, name, commitTime.UTC().Format(time.RFC3339))
	if err != nil {
		// Lost a race with a concurrent insert of the same name.
		if id, gerr := s.GetRevisionID(name); gerr == nil {
			return id, nil
		}
		return 0, &kerrors.StorageFailure{Op: "add_revision", Err: err}
	}
	return res.LastInsertId()
}

// GetRevisionID looks up a revision by its unique name.
func (s *Store) GetRevisionID(name string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM revisions WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, &kerrors.UnknownRevision{Name: name}
	}
	if err != nil {
		return 0, &kerrors.StorageFailure{Op: "get_revision_id", Err: err}
	}
	return id, nil
}

// RemoveRevision deletes a revision and cascades to its tests and
// their coverage rows, atomically.
func (s *Store) RemoveRevision(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &kerrors.StorageFailure{Op: "remove_revision", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM coverage WHERE revision_id = ?`, id); err != nil {
		tx.Rollback()
		return &kerrors.StorageFailure{Op: "remove_revision", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM tests WHERE revision_id = ?`, id); err != nil {
		tx.Rollback()
		return &kerrors.StorageFailure{Op: "remove_revision", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM revisions WHERE id = ?`, id); err != nil {
		tx.Rollback()
		return &kerrors.StorageFailure{Op: "remove_revision", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &kerrors.StorageFailure{Op: "remove_revision", Err: err}
	}
	s.invalidateAll()
	return nil
}

// TrimRevisions keeps only the newest keepN revisions by commit_time,
// removing the rest (cascading per RemoveRevision). Grounded on
// reviewdb.go's cleanupReviewSessions/cleanupAllSessions delete-by-set
// shape, generalized to a keep-newest-N GC policy across revisions.
func (s *Store) TrimRevisions(keepN int) (int, error) {
	rows, err := s.db.Query(`SELECT id FROM revisions ORDER BY commit_time DESC`)
	if err != nil {
		return 0, &kerrors.StorageFailure{Op: "trim_revisions", Err: err}
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, &kerrors.StorageFailure{Op: "trim_revisions", Err: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &kerrors.StorageFailure{Op: "trim_revisions", Err: err}
	}

	if keepN < 0 {
		keepN = 0
	}
	if keepN >= len(ids) {
		return 0, nil
	}
	toRemove := ids[keepN:]
	for _, id := range toRemove {
		if err := s.RemoveRevision(id); err != nil {
			return 0, err
		}
	}
	return len(toRemove), nil
}

// AddTest inserts a test row for a revision, returning its id. Tests
// are globally unique by name.
func (s *Store) AddTest(revisionID int64, name string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO tests (name, revision_id) VALUES (?, ?)`, name, revisionID)
	if err != nil {
		return 0, &kerrors.StorageFailure{Op: "add_test", Err: err}
	}
	return res.LastInsertId()
}

// RemoveTest deletes a test (and cascades its coverage rows) if it
// exists; a no-op if it does not.
func (s *Store) RemoveTest(revisionID int64, name string) error {
	id, ok, err := s.testID(revisionID, name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM coverage WHERE test_id = ?`, id); err != nil {
		return &kerrors.StorageFailure{Op: "remove_test", Err: err}
	}
	if _, err := s.db.Exec(`DELETE FROM tests WHERE id = ?`, id); err != nil {
		return &kerrors.StorageFailure{Op: "remove_test", Err: err}
	}
	s.invalidateAll()
	return nil
}

// HasTest reports whether a test is known at a given revision.
func (s *Store) HasTest(revisionID int64, name string) (bool, error) {
	_, ok, err := s.testID(revisionID, name)
	return ok, err
}

func (s *Store) testID(revisionID int64, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM tests WHERE name = ? AND revision_id = ?`, name, revisionID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &kerrors.StorageFailure{Op: "test_id", Err: err}
	}
	return id, true, nil
}

// AddCoverage batch-inserts coverage rows for (revisionID, testID,
// file) from a line->distance mapping.
func (s *Store) AddCoverage(revisionID, testID int64, file string, lines map[int]int) error {
	for line, distance := range lines {
		if _, err := s.db.Exec(
			`INSERT OR REPLACE INTO coverage (file, line, distance, test_id, revision_id) VALUES (?, ?, ?, ?, ?)`,
			file, line, distance, testID, revisionID,
		); err != nil {
			return &kerrors.StorageFailure{Op: "add_coverage", Err: err}
		}
	}
	if len(lines) > 0 {
		s.invalidateFile(revisionID, file)
	}
	return nil
}

// RemoveCoverage deletes all coverage rows for a (revision, test)
// pair.
func (s *Store) RemoveCoverage(revisionID, testID int64) error {
	rows, err := s.db.Query(`SELECT DISTINCT file FROM coverage WHERE revision_id = ? AND test_id = ?`, revisionID, testID)
	if err != nil {
		return &kerrors.StorageFailure{Op: "remove_coverage", Err: err}
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return &kerrors.StorageFailure{Op: "remove_coverage", Err: err}
		}
		files = append(files, f)
	}
	rows.Close()

	if _, err := s.db.Exec(`DELETE FROM coverage WHERE revision_id = ? AND test_id = ?`, revisionID, testID); err != nil {
		return &kerrors.StorageFailure{Op: "remove_coverage", Err: err}
	}
	for _, f := range files {
		s.invalidateFile(revisionID, f)
	}
	return nil
}

// HasCoverage is a fast existence check: has any test recorded
// coverage for file at all, at this revision?
func (s *Store) HasCoverage(revisionID int64, file string) (bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM coverage WHERE revision_id = ? AND file = ? LIMIT 1`, revisionID, file).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &kerrors.StorageFailure{Op: "has_coverage", Err: err}
	}
	return true, nil
}

// GetCoverage returns the distinct set of test names covering any of
// lines in file at revisionID, populating the read cache on first
// query for that (revision, file) pair.
func (s *Store) GetCoverage(revisionID int64, file string, lines []int) (map[string]struct{}, error) {
	perLine, err := s.fileCoverage(revisionID, file)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, l := range lines {
		for t := range perLine[l] {
			out[t] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) fileCoverage(revisionID int64, file string) (map[int]map[string]struct{}, error) {
	key := cacheKey{revisionID: revisionID, file: file}

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT coverage.line, tests.name FROM coverage
		 JOIN tests ON tests.id = coverage.test_id
		 WHERE coverage.revision_id = ? AND coverage.file = ?`,
		revisionID, file,
	)
	if err != nil {
		return nil, &kerrors.StorageFailure{Op: "get_coverage", Err: err}
	}
	defer rows.Close()

	perLine := make(map[int]map[string]struct{})
	for rows.Next() {
		var line int
		var test string
		if err := rows.Scan(&line, &test); err != nil {
			return nil, &kerrors.StorageFailure{Op: "get_coverage", Err: err}
		}
		if perLine[line] == nil {
			perLine[line] = make(map[string]struct{})
		}
		perLine[line][test] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &kerrors.StorageFailure{Op: "get_coverage", Err: err}
	}

	s.mu.Lock()
	s.cache[key] = perLine
	s.mu.Unlock()
	return perLine, nil
}

func (s *Store) invalidateFile(revisionID int64, file string) {
	s.mu.Lock()
	delete(s.cache, cacheKey{revisionID: revisionID, file: file})
	s.mu.Unlock()
}

func (s *Store) invalidateAll() {
	s.mu.Lock()
	s.cache = make(map[cacheKey]map[int]map[string]struct{})
	s.mu.Unlock()
}

// Record performs the per-test replace: remove_test -> add_test ->
// add_coverage for each file, all inside one transaction, keeping
// only lines whose distance is below maxDistance. Mirrors
// kleenex/plugin.py's clear_test_coverage + set_test_has_coverage +
// set_test_coverage sequence and reviewdb.go's "one function opens
// the transaction, does the work, commits" shape.
//
// remove_test looks the prior row up by name alone: tests.name is
// globally unique (spec.md §3), so a test re-recorded under a later
// revision is moving, not merely replacing coverage within the same
// revision_id.
func (s *Store) Record(revisionID int64, testName string, filesLines map[string]map[int]int, maxDistance int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &kerrors.StorageFailure{Op: "record", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	existed, oldRevisionID, oldFiles, err := s.removeTestTx(tx, testName)
	if err != nil {
		return err
	}
	res, err := tx.Exec(`INSERT INTO tests (name, revision_id) VALUES (?, ?)`, testName, revisionID)
	if err != nil {
		return &kerrors.StorageFailure{Op: "record", Err: err}
	}
	testID, err := res.LastInsertId()
	if err != nil {
		return &kerrors.StorageFailure{Op: "record", Err: err}
	}

	touched := make([]string, 0, len(filesLines))
	for file, lines := range filesLines {
		for line, distance := range lines {
			if distance >= maxDistance {
				continue
			}
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO coverage (file, line, distance, test_id, revision_id) VALUES (?, ?, ?, ?, ?)`,
				file, line, distance, testID, revisionID,
			); err != nil {
				return &kerrors.StorageFailure{Op: "record", Err: err}
			}
		}
		touched = append(touched, file)
	}

	if err := tx.Commit(); err != nil {
		return &kerrors.StorageFailure{Op: "record", Err: err}
	}
	for _, f := range touched {
		s.invalidateFile(revisionID, f)
	}
	if existed {
		for _, f := range oldFiles {
			s.invalidateFile(oldRevisionID, f)
		}
	}
	return nil
}

// removeTestTx deletes the existing row for name (and its coverage),
// wherever it currently lives, per tests.name's global uniqueness.
// It reports whether a prior row existed, the revision_id it lived
// under, and the files its coverage touched, so the caller can
// invalidate those cache entries (whether or not the test changed
// revision).
func (s *Store) removeTestTx(tx *sql.Tx, name string) (existed bool, oldRevisionID int64, files []string, err error) {
	var id int64
	err = tx.QueryRow(`SELECT id, revision_id FROM tests WHERE name = ?`, name).Scan(&id, &oldRevisionID)
	if err == sql.ErrNoRows {
		return false, 0, nil, nil
	}
	if err != nil {
		return false, 0, nil, &kerrors.StorageFailure{Op: "record", Err: err}
	}

	rows, qerr := tx.Query(`SELECT DISTINCT file FROM coverage WHERE test_id = ?`, id)
	if qerr != nil {
		return false, 0, nil, &kerrors.StorageFailure{Op: "record", Err: qerr}
	}
	for rows.Next() {
		var f string
		if serr := rows.Scan(&f); serr != nil {
			rows.Close()
			return false, 0, nil, &kerrors.StorageFailure{Op: "record", Err: serr}
		}
		files = append(files, f)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return false, 0, nil, &kerrors.StorageFailure{Op: "record", Err: err}
	}

	if _, err = tx.Exec(`DELETE FROM coverage WHERE test_id = ?`, id); err != nil {
		return false, 0, nil, &kerrors.StorageFailure{Op: "record", Err: err}
	}
	if _, err = tx.Exec(`DELETE FROM tests WHERE id = ?`, id); err != nil {
		return false, 0, nil, &kerrors.StorageFailure{Op: "record", Err: err}
	}
	return true, oldRevisionID, files, nil
}

// SortedLines is a small helper used by callers building deterministic
// reports.
func SortedLines(lines map[int]struct{}) []int {
	out := make([]int, 0, len(lines))
	for l := range lines {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
