package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalBackendArchiveMovesFile(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "session.mp4")
	if err := os.WriteFile(srcPath, []byte("fake mp4 bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	b := NewLocalBackend(destDir)
	if err := b.Archive(context.Background(), "front-door/session.mp4", srcPath); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Fatalf("source file still exists after Archive, err = %v", err)
	}

	destPath := filepath.Join(destDir, "front-door", "session.mp4")
	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("ReadFile(dest) failed: %v", err)
	}
	if string(data) != "fake mp4 bytes" {
		t.Fatalf("dest content = %q, want %q", data, "fake mp4 bytes")
	}
}

func TestLocalBackendArchiveMissingSource(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	err := b.Archive(context.Background(), "k", filepath.Join(t.TempDir(), "does-not-exist.mp4"))
	if err == nil {
		t.Fatalf("Archive with missing source succeeded, want error")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"a/b.mp4":   "video/mp4",
		"a/b.m3u8":  "application/vnd.apple.mpegurl",
		"a/b.m4s":   "video/iso.segment",
		"a/b.other": "application/octet-stream",
	}
	for name, want := range cases {
		if got := contentTypeFor(name); got != want {
			t.Fatalf("contentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}
