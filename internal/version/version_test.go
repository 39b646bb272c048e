package version

import (
	"strings"
	"testing"
)

func TestStringUsesProvidedValues(t *testing.T) {
	got := Info{Version: "v1.2.3", Commit: "abc", Date: "2020-01-01T00:00:00Z"}.String()
	want := "v1.2.3 (abc) 2020-01-01T00:00:00Z"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStringOmitsUnknownFields(t *testing.T) {
	got := Info{Version: "v1.2.3", Commit: "unknown", Date: "unknown"}.String()
	if got != "v1.2.3" {
		t.Fatalf("got %q, want %q", got, "v1.2.3")
	}
}

func TestStringNeverEmpty(t *testing.T) {
	got := Info{}.String()
	if got == "" {
		t.Fatal("expected a non-empty version string")
	}
	if strings.Contains(got, "unknown") {
		t.Fatalf("placeholders leaked into %q", got)
	}
}
