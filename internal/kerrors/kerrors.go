// Package kerrors defines the typed, fatal error values the core
// pipeline can raise, per the taxonomy in the system's error design.
package kerrors

import "fmt"

// MalformedDiff is returned by the diff parser when a line starting
// with "@@" does not parse as a chunk header. A chunk body that ends
// before its declared line counts are reached is treated as end of
// input, not as a MalformedDiff.
type MalformedDiff struct {
	Line int
	Text string
}

func (e *MalformedDiff) Error() string {
	return fmt.Sprintf("malformed diff at line %d: %s", e.Line, e.Text)
}

// UnknownRevision is returned when discover mode asks for a revision
// that has never been recorded in the coverage store.
type UnknownRevision struct {
	Name string
}

func (e *UnknownRevision) Error() string {
	return fmt.Sprintf("unknown revision %q: do you need to rebase or run with --record first?", e.Name)
}

// MissingCoverage is returned in strict mode when a changed file has no
// recorded coverage at all.
type MissingCoverage struct {
	File string
}

func (e *MissingCoverage) Error() string {
	return fmt.Sprintf("missing test coverage for %s", e.File)
}

// VcsFailure wraps a non-zero exit from the version-control adapter.
type VcsFailure struct {
	Command string
	Stderr  string
	Err     error
}

func (e *VcsFailure) Error() string {
	return fmt.Sprintf("vcs command %q failed: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *VcsFailure) Unwrap() error { return e.Err }

// StorageFailure wraps an underlying database or I/O error, e.g. from
// schema upgrade, selection-time reads, or a per-test recording
// transaction (which coveragestore.Record rolls back before returning
// this error; recorder.AfterTest passes it on to its caller).
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

// ConfigConflict is returned before any work begins when mutually
// exclusive configuration flags are both set.
type ConfigConflict struct {
	Reason string
}

func (e *ConfigConflict) Error() string {
	return fmt.Sprintf("configuration conflict: %s", e.Reason)
}
