package naming

import (
	"strings"
	"testing"
)

func TestGenerateFriendlyNameNonEmpty(t *testing.T) {
	name := GenerateFriendlyName()
	if name == "" {
		t.Fatalf("expected a non-empty friendly name")
	}
}

func TestGenerateAnonymousRevisionShape(t *testing.T) {
	rev := GenerateAnonymousRevision()
	if !strings.HasPrefix(rev, "anon-") {
		t.Fatalf("expected anon- prefix, got %q", rev)
	}
	if strings.Contains(rev, " ") {
		t.Fatalf("expected a space-free revision name, got %q", rev)
	}
	if rev != strings.ToLower(rev) {
		t.Fatalf("expected a lowercase revision name, got %q", rev)
	}
}
