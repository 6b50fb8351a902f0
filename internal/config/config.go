// Package config resolves the closed set of operating knobs from
// declarative configuration: a .kleenex.toml file, overridable by
// environment variables and explicit overrides, the same precedence
// order as main.go's loadConfigValues (CLI/env overrides config file,
// config file overrides built-in defaults). Loaded via koanf, the
// teacher's own configuration library (koanf/v2 + koanf/parsers/toml +
// koanf/providers/file).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/HexmosTech/kleenex-go/internal/kerrors"
)

// InterestPredicate decides whether a file path is "of interest" to
// the selection engine (spec.md §4.5 step 1). The zero value of
// Config uses DefaultInterestPredicate.
type InterestPredicate func(path string) bool

// Config is the flat, enumerated-keys record spec.md §6 calls for,
// replacing the original's ad-hoc attribute-bag Config (kleenex/config.py).
type Config struct {
	DB           string
	Parent       string
	Discover     bool
	Report       bool
	ReportOutput string
	Record       bool
	SkipMissing  bool
	MaxDistance  int
	TestMissing  bool
	Interest     InterestPredicate
}

// Defaults mirrors the default column of spec.md §6's configuration table.
func Defaults() Config {
	return Config{
		DB:           "sqlite:///coverage.db",
		Parent:       "origin/master",
		Discover:     false,
		Report:       true,
		ReportOutput: "-",
		Record:       false,
		SkipMissing:  true,
		MaxDistance:  4,
		TestMissing:  true,
		Interest:     DefaultInterestPredicate,
	}
}

// DefaultInterestPredicate matches executable scripts and files with
// the project's source extension, per spec.md §4.5 step 1's "default:
// executable scripts and files with the project's source extension".
// Here "the project's source extension" is .go, matching this module's
// own domain; callers targeting another language supply their own
// InterestPredicate via Config.Interest.
func DefaultInterestPredicate(path string) bool {
	if strings.HasSuffix(path, ".go") {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&0o111 != 0
}

// envPrefix is the environment-variable namespace, following the
// teacher's LRC_* convention (main.go references LRC_API_KEY-style
// overrides) generalized to this tool's name.
const envPrefix = "KLEENEX_"

// Load reads path (a TOML file; missing is not an error, just means
// "use defaults") and layers environment-variable overrides on top,
// the same two-tier precedence loadConfigValues uses for ~/.lrc.toml.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return cfg, &kerrors.StorageFailure{Op: "load_config", Err: err}
			}
			applyKoanf(&cfg, k)
		}
	}

	applyEnv(&cfg)

	if cfg.Record && cfg.Discover {
		return cfg, &kerrors.ConfigConflict{Reason: "record and discover may not both be true in one run"}
	}
	return cfg, nil
}

func applyKoanf(cfg *Config, k *koanf.Koanf) {
	if k.Exists("db") {
		cfg.DB = k.String("db")
	}
	if k.Exists("parent") {
		cfg.Parent = k.String("parent")
	}
	if k.Exists("discover") {
		cfg.Discover = k.Bool("discover")
	}
	if k.Exists("report") {
		cfg.Report = k.Bool("report")
	}
	if k.Exists("report_output") {
		cfg.ReportOutput = k.String("report_output")
	}
	if k.Exists("record") {
		cfg.Record = k.Bool("record")
	}
	if k.Exists("skip_missing") {
		cfg.SkipMissing = k.Bool("skip_missing")
	}
	if k.Exists("max_distance") {
		cfg.MaxDistance = k.Int("max_distance")
	}
	if k.Exists("test_missing") {
		cfg.TestMissing = k.Bool("test_missing")
	}
}

func applyEnv(cfg *Config) {
	if v, ok := lookupEnv("DB"); ok {
		cfg.DB = v
	}
	if v, ok := lookupEnv("PARENT"); ok {
		cfg.Parent = v
	}
	if v, ok := lookupEnvBool("DISCOVER"); ok {
		cfg.Discover = v
	}
	if v, ok := lookupEnvBool("REPORT"); ok {
		cfg.Report = v
	}
	if v, ok := lookupEnv("REPORT_OUTPUT"); ok {
		cfg.ReportOutput = v
	}
	if v, ok := lookupEnvBool("RECORD"); ok {
		cfg.Record = v
	}
	if v, ok := lookupEnvBool("SKIP_MISSING"); ok {
		cfg.SkipMissing = v
	}
	if v, ok := lookupEnvInt("MAX_DISTANCE"); ok {
		cfg.MaxDistance = v
	}
	if v, ok := lookupEnvBool("TEST_MISSING"); ok {
		cfg.TestMissing = v
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	return v, ok && v != ""
}

func lookupEnvBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func lookupEnvInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
