// Command kleenex is the CLI entrypoint wiring Config, the VCS
// adapter, DiffParser, SelectionEngine, CoverageRecorder and
// CoverageStore together. select/report answer "which tests must run
// to cover what changed" and "what does the index already cover",
// respectively, as a single invocation a host test runner shells out
// to; record drives the CoverageRecorder lifecycle for one test, for
// runners that prefer to shell out per-test rather than linking the
// package. --dry-run swaps in the in-memory Fake VCS adapter so the
// whole pipeline can be exercised without a git checkout.
//
// Grounded on the teacher's main.go app structure: a urfave/cli/v2 App
// with a base flag set shared across subcommands, an EnvVars-bearing
// flag per setting, and a default Action so bare invocation does the
// common thing (here: select).
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/HexmosTech/kleenex-go/internal/config"
	"github.com/HexmosTech/kleenex-go/internal/coveragestore"
	"github.com/HexmosTech/kleenex-go/internal/diffparser"
	"github.com/HexmosTech/kleenex-go/internal/kerrors"
	"github.com/HexmosTech/kleenex-go/internal/naming"
	"github.com/HexmosTech/kleenex-go/internal/recorder"
	"github.com/HexmosTech/kleenex-go/internal/reporter"
	"github.com/HexmosTech/kleenex-go/internal/selection"
	"github.com/HexmosTech/kleenex-go/internal/tracer"
	"github.com/HexmosTech/kleenex-go/internal/vcs"
)

const appVersion = "v0.1.0"

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to a .kleenex.toml configuration file",
		Value:   ".kleenex.toml",
		EnvVars: []string{"KLEENEX_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "db",
		Usage:   "coverage store DSN, e.g. sqlite:///coverage.db",
		EnvVars: []string{"KLEENEX_DB"},
	},
	&cli.StringFlag{
		Name:    "parent",
		Usage:   "parent revision to diff against",
		EnvVars: []string{"KLEENEX_PARENT"},
	},
	&cli.BoolFlag{
		Name:    "skip-missing",
		Usage:   "treat files with no recorded coverage as passing rather than failing the run",
		EnvVars: []string{"KLEENEX_SKIP_MISSING"},
	},
	&cli.IntFlag{
		Name:    "max-distance",
		Usage:   "call-stack depth at or above which a covering line is not recorded",
		EnvVars: []string{"KLEENEX_MAX_DISTANCE"},
	},
	&cli.BoolFlag{
		Name:    "dry-run",
		Usage:   "use a synthetic in-memory VCS adapter instead of shelling out to git",
		EnvVars: []string{"KLEENEX_DRY_RUN"},
	},
}

func main() {
	app := &cli.App{
		Name:    "kleenex",
		Usage:   "diff-aware test selection and coverage index",
		Version: appVersion,
		Flags:   baseFlags,
		Commands: []*cli.Command{
			{
				Name:   "select",
				Usage:  "print the tests that must run to cover the current diff",
				Flags:  append(append([]cli.Flag{}, baseFlags...), &cli.BoolFlag{Name: "json", Usage: "emit a JSON array instead of one name per line"}),
				Action: runSelect,
			},
			{
				Name:   "init",
				Usage:  "create or upgrade the coverage store schema",
				Flags:  baseFlags,
				Action: runInit,
			},
			{
				Name:  "gc",
				Usage: "trim old revisions from the coverage store",
				Flags: append(append([]cli.Flag{}, baseFlags...), &cli.IntFlag{
					Name:  "keep",
					Usage: "number of newest revisions to retain",
					Value: 5,
				}),
				Action: runGC,
			},
			{
				Name:  "report",
				Usage: "show which lines of the current diff the index has coverage for",
				Flags: append(append([]cli.Flag{}, baseFlags...),
					&cli.BoolFlag{Name: "json", Usage: "force the machine-readable JSON format"},
					&cli.BoolFlag{Name: "human", Usage: "force the human-readable format"},
				),
				Action: runReport,
			},
			{
				Name:  "record",
				Usage: "drive the CoverageRecorder lifecycle for one test from file:line:depth events read from stdin, one per line",
				Flags: append(append([]cli.Flag{}, baseFlags...), &cli.StringFlag{
					Name:     "test",
					Usage:    "name of the test to record coverage for",
					Required: true,
				}),
				Action: runRecord,
			},
		},
		Action: runSelect,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig resolves Config the same way runSelect/runGC/runInit all
// need it: file + env, then flag overrides where the flag was set
// explicitly on this invocation.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("db") {
		cfg.DB = c.String("db")
	}
	if c.IsSet("parent") {
		cfg.Parent = c.String("parent")
	}
	if c.IsSet("skip-missing") {
		cfg.SkipMissing = c.Bool("skip-missing")
	}
	if c.IsSet("max-distance") {
		cfg.MaxDistance = c.Int("max-distance")
	}
	return cfg, nil
}

// sqlitePath translates a "sqlite:///relative.db" or
// "sqlite:////abs/path.db" DSN (the sqlalchemy-style convention
// kleenex/config.py's db_url documented) into the filesystem path
// modernc.org/sqlite expects. "sqlite://" is the scheme separator; one
// further slash is the path separator (stripped), so three slashes
// total means a relative path and four means the path itself starts
// with the absolute-path slash (kept).
func sqlitePath(dsn string) (string, error) {
	const scheme = "sqlite://"
	if !strings.HasPrefix(dsn, scheme) {
		return "", &kerrors.ConfigConflict{Reason: "db must be a sqlite:// DSN, got " + dsn}
	}
	const sep = scheme + "/"
	if strings.HasPrefix(dsn, sep) {
		return strings.TrimPrefix(dsn, sep), nil
	}
	return strings.TrimPrefix(dsn, scheme), nil
}

func openStore(cfg config.Config) (*coveragestore.Store, error) {
	path, err := sqlitePath(cfg.DB)
	if err != nil {
		return nil, err
	}
	store, err := coveragestore.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Upgrade(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runInit(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Fprintln(c.App.Writer, "coverage store ready")
	return nil
}

func runGC(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.TrimRevisions(c.Int("keep"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "removed %d revision(s)\n", removed)
	return nil
}

// vcsAdapter picks the VCS implementation for this invocation: the
// real git-backed adapter, or (with --dry-run/KLEENEX_DRY_RUN) the
// in-memory Fake also used by the package's own tests — letting the
// whole pipeline be exercised as a demo without a git checkout.
func vcsAdapter(c *cli.Context) vcs.Adapter {
	if c.Bool("dry-run") {
		return vcs.NewFake()
	}
	return &vcs.Git{}
}

// resolveSelection registers the current revision (falling back to a
// generated name when the repository has no commits yet), diffs
// against the merge-base of cfg.Parent rather than its moving tip
// (spec.md §4.4; grounded on nose_bleed/nose_bleed.py's `git merge-base
// HEAD origin/master` before diffing, so commits that land on the
// parent branch after the working tree diverged don't inflate the
// diff), parses it and builds the selection engine's diff map.
// runSelect, runReport and runRecord share this resolution step; what
// they do with the engine afterward differs.
func resolveSelection(store *coveragestore.Store, cfg config.Config, adapter vcs.Adapter) (*selection.Engine, error) {
	name, commitTime, err := adapter.HeadRevision()
	if err != nil {
		// No commit to name the run after (e.g. a brand new repository):
		// fall back to a generated label rather than aborting the run.
		name = naming.GenerateAnonymousRevision()
		commitTime = time.Now().UTC()
	}
	revisionID, err := store.AddRevision(name, commitTime)
	if err != nil {
		return nil, err
	}

	base, err := adapter.MergeBase(cfg.Parent)
	if err != nil {
		return nil, err
	}
	diffBuf, err := adapter.Diff(base)
	if err != nil {
		return nil, err
	}
	patch, err := diffparser.Parse(diffBuf)
	if err != nil {
		return nil, err
	}

	eng := selection.New(store, revisionID, cfg)
	eng.BuildDiffMap(patch)
	return eng, nil
}

// runSelect is the workhorse: resolve the diff against the parent
// revision via the VCS adapter, parse it, run the SelectionEngine
// against the coverage store, and print the pending test set. This is
// what a host test runner's pre-run hook shells out to.
func runSelect(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// This subcommand's entire purpose is discovery: force it on
	// regardless of the config file's discover setting, the same way a
	// host runner would only invoke this hook when it wants a pending
	// test set back.
	if cfg.Record {
		return &kerrors.ConfigConflict{Reason: "record and discover may not both be true in one run"}
	}
	cfg.Discover = true

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := resolveSelection(store, cfg, vcsAdapter(c))
	if err != nil {
		return err
	}
	if err := eng.Select(); err != nil {
		return err
	}

	names := make([]string, 0, len(eng.PendingTests()))
	for t := range eng.PendingTests() {
		names = append(names, t)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		return enc.Encode(names)
	}
	for _, t := range names {
		fmt.Fprintln(c.App.Writer, t)
	}
	return nil
}

// runReport shows, for the current diff, which lines the index
// already has recorded coverage for from past test runs — a read-only
// view distinct from the live per-test report recorder.AfterTest
// produces during an actual test run. Format defaults to human when
// stdout is a terminal and JSON otherwise, the same TTY-detection
// idiom the teacher's setup.go/main.go use via golang.org/x/term,
// overridable with --json/--human.
func runReport(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := resolveSelection(store, cfg, vcsAdapter(c))
	if err != nil {
		return err
	}

	covLines := make(map[string]map[int]struct{})
	for file, lines := range eng.DiffLines {
		for _, line := range coveragestore.SortedLines(lines) {
			tests, err := store.GetCoverage(eng.RevisionID(), file, []int{line})
			if err != nil {
				return err
			}
			if len(tests) == 0 {
				continue
			}
			if covLines[file] == nil {
				covLines[file] = make(map[int]struct{})
			}
			covLines[file][line] = struct{}{}
		}
	}

	stats := reporter.Compute(eng.DiffLines, covLines)

	w, closeOutput, err := reporter.ResolveOutput(cfg.ReportOutput, c.App.Writer)
	if err != nil {
		return &kerrors.StorageFailure{Op: "report_output", Err: err}
	}
	defer closeOutput()

	human := c.Bool("human") || (!c.IsSet("json") && term.IsTerminal(int(os.Stdout.Fd())))
	if human {
		return reporter.WriteHuman(w, stats)
	}
	return reporter.WriteJSON(w, stats)
}

// runRecord drives CoverageRecorder (C6) end to end for one test,
// exercising the core start/stop-tracer lifecycle recorder.go
// implements but that otherwise only the package's own tests reach.
// spec.md §6 notes no standalone CLI is required for this, since a
// real host runner drives BeforeTest/AfterTest from its own test
// hooks around each test's execution rather than from stdin — this
// subcommand stands in for that host runner as a demo/integration
// path, reading "file:line:depth" events one per line from stdin (one
// call-stack depth synthesized per line via Call/Return bracketing,
// since Tracer.Line always records at the tracer's current depth
// rather than an arbitrary caller-supplied one) until EOF, then
// recording the test's coverage.
func runRecord(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Discover {
		return &kerrors.ConfigConflict{Reason: "record and discover may not both be true in one run"}
	}
	cfg.Record = true

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := resolveSelection(store, cfg, vcsAdapter(c))
	if err != nil {
		return err
	}

	tr := tracer.New()
	rec := recorder.New(store, tr, eng.RevisionID(), cfg, eng.DiffLines)

	rec.BeforeTest()

	scanner := bufio.NewScanner(c.App.Reader)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) != 3 {
			continue
		}
		line, err := strconv.Atoi(fields[1])
		if err != nil {
			return &kerrors.ConfigConflict{Reason: fmt.Sprintf("record: malformed line number on input line %d: %q", lineNo, scanner.Text())}
		}
		depth, err := strconv.Atoi(fields[2])
		if err != nil || depth < 0 {
			return &kerrors.ConfigConflict{Reason: fmt.Sprintf("record: malformed depth on input line %d: %q", lineNo, scanner.Text())}
		}

		for i := 0; i < depth; i++ {
			tr.Call()
		}
		tr.Line(fields[0], line)
		for i := 0; i < depth; i++ {
			tr.Return()
		}
	}
	if err := scanner.Err(); err != nil {
		return &kerrors.StorageFailure{Op: "record_stdin", Err: err}
	}

	testName := c.String("test")
	if err := rec.AfterTest(testName); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "recorded coverage for %s\n", testName)
	return nil
}
