// Package vcs is the version-control adapter contract: obtaining the
// merge-base revision name, the current head revision and commit
// time, and a unified diff against a parent. The git invocation itself
// is out of scope as an external collaborator per spec.md
// §OUT-OF-SCOPE; this package supplies the interface plus a concrete
// git-backed implementation, grounded on reviewdb.go's currentBranch/
// diffTreeFiles/diffTreeFileHunks (os/exec.Command("git", ...),
// stderr captured into the wrapped error) and runGitCommand in
// main.go.
package vcs

import (
	"bytes"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/HexmosTech/kleenex-go/internal/kerrors"
)

// Adapter is the contract main.go's resolveSelection consumes to feed
// the diff and revision into SelectionEngine and CoverageRecorder.
type Adapter interface {
	MergeBase(parentRef string) (string, error)
	HeadRevision() (name string, commitTime time.Time, err error)
	Diff(revisionName string) ([]byte, error)
}

// Git is the default Adapter, shelling out to the git CLI the way the
// teacher's reviewdb.go does.
type Git struct {
	// Dir is the working directory to run git in; empty means the
	// process's current directory.
	Dir string
}

func (g *Git) run(args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &kerrors.VcsFailure{
			Command: "git " + strings.Join(args, " "),
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// MergeBase returns the common ancestor of HEAD and parentRef.
func (g *Git) MergeBase(parentRef string) (string, error) {
	out, err := g.run("merge-base", "HEAD", parentRef)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// HeadRevision returns the current commit hash and its commit time.
func (g *Git) HeadRevision() (string, time.Time, error) {
	nameOut, err := g.run("rev-parse", "HEAD")
	if err != nil {
		return "", time.Time{}, err
	}
	name := strings.TrimSpace(string(nameOut))

	timeOut, err := g.run("show", "-s", "--format=%ct", "HEAD")
	if err != nil {
		return "", time.Time{}, err
	}
	epoch, convErr := strconv.ParseInt(strings.TrimSpace(string(timeOut)), 10, 64)
	if convErr != nil {
		return "", time.Time{}, &kerrors.VcsFailure{Command: "git show -s --format=%ct HEAD", Err: convErr}
	}
	return name, time.Unix(epoch, 0).UTC(), nil
}

// Diff returns the unified diff from revisionName to the working tree.
func (g *Git) Diff(revisionName string) ([]byte, error) {
	return g.run("diff", revisionName)
}
