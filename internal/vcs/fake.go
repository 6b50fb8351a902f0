package vcs

import (
	"time"

	"github.com/google/uuid"
)

// Fake is an in-memory Adapter used by tests and by the demo CLI's
// dry-run mode, so the pipeline can be exercised without a real git
// checkout. Revision names are synthesized with uuid rather than
// hand-rolled counters so tests that spin up several fakes never
// collide on a name.
type Fake struct {
	MergeBaseName string
	Head          string
	HeadTime      time.Time
	DiffBytes     []byte

	MergeBaseErr error
	HeadErr      error
	DiffErr      error
}

// NewFake returns a Fake with a freshly generated head revision name.
func NewFake() *Fake {
	return &Fake{
		Head:     uuid.NewString(),
		HeadTime: time.Now().UTC(),
	}
}

func (f *Fake) MergeBase(parentRef string) (string, error) {
	if f.MergeBaseErr != nil {
		return "", f.MergeBaseErr
	}
	return f.MergeBaseName, nil
}

func (f *Fake) HeadRevision() (string, time.Time, error) {
	if f.HeadErr != nil {
		return "", time.Time{}, f.HeadErr
	}
	return f.Head, f.HeadTime, nil
}

func (f *Fake) Diff(revisionName string) ([]byte, error) {
	if f.DiffErr != nil {
		return nil, f.DiffErr
	}
	return f.DiffBytes, nil
}

var _ Adapter = (*Fake)(nil)
