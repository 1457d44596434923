// internal/util/util_test.go
package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sample.txt")
	data := []byte("test payload")

	if err := WriteFile(path, data); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if err := WriteFile(path, []byte("replaced")); err != nil {
		t.Fatalf("WriteFile overwrite returned error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(got) != "replaced" {
		t.Fatalf("unexpected file contents: got %q", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWriteAndReadJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.json")
	in := map[string]any{"text": "set a <timer>", "n": 2}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("WriteJSON error: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "<timer>") {
		t.Fatalf("expected HTML characters left unescaped, got %s", raw)
	}
	if !strings.HasSuffix(string(raw), "\n") {
		t.Fatal("expected trailing newline")
	}

	var out map[string]any
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON error: %v", err)
	}
	if out["text"] != "set a <timer>" {
		t.Fatalf("unexpected round trip value %v", out["text"])
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "no truncation", in: "hello", max: 10, want: "hello"},
		{name: "exact", in: "hello", max: 5, want: "hello"},
		{name: "truncated", in: "hello world", max: 5, want: "hello…"},
		{name: "multibyte", in: "héllo wörld", max: 4, want: "héll…"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	t.Parallel()
	if got := FirstLine("\n  \n  first error\nsecond"); got != "first error" {
		t.Fatalf("unexpected first line %q", got)
	}
	if got := FirstLine(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
