package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArchiveUpload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "adams cvr.jsonl")
	content := []byte("{\"contests\":[]}\n")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(dir, "uploads", "1")
	got, err := ArchiveUpload(src, archive)
	if err != nil {
		t.Fatalf("ArchiveUpload: %v", err)
	}
	sum := sha256.Sum256(content)
	if got.Digest != hex.EncodeToString(sum[:]) || got.Size != int64(len(content)) {
		t.Fatalf("unexpected archive: %+v", got)
	}
	if filepath.Dir(got.Path) != archive || !strings.HasSuffix(got.Path, "-adams_cvr.jsonl") {
		t.Fatalf("unexpected path %s", got.Path)
	}
	stored, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != string(content) {
		t.Fatalf("content mismatch: got %q", stored)
	}

	again, err := ArchiveUpload(src, archive)
	if err != nil {
		t.Fatalf("second ArchiveUpload: %v", err)
	}
	if again.Path != got.Path {
		t.Fatalf("identical content archived to %s and %s", got.Path, again.Path)
	}
	entries, err := os.ReadDir(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("archive holds %d entries, want 1", len(entries))
	}
}

func TestArchiveUploadRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := ArchiveUpload(dir, filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected directory upload to fail")
	}
	if _, err := ArchiveUpload(filepath.Join(dir, "missing"), filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected missing upload to fail")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"manifest.csv":    "manifest.csv",
		"Rio Grande#1.js": "Rio_Grande_1.js",
		"..":              "upload",
		"":                "upload",
	}
	for in, want := range tests {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
