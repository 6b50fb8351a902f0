package main

import "testing"

func TestSqlitePathStripsScheme(t *testing.T) {
	cases := map[string]string{
		"sqlite:///coverage.db":   "coverage.db",
		"sqlite:////tmp/cov.db":   "/tmp/cov.db",
		"sqlite://./local/cov.db": "./local/cov.db",
	}
	for dsn, want := range cases {
		got, err := sqlitePath(dsn)
		if err != nil {
			t.Fatalf("sqlitePath(%q): %v", dsn, err)
		}
		if got != want {
			t.Fatalf("sqlitePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestSqlitePathRejectsOtherSchemes(t *testing.T) {
	if _, err := sqlitePath("postgres://localhost/db"); err == nil {
		t.Fatalf("expected an error for a non-sqlite DSN")
	}
}
