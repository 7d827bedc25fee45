package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.log")
	w, err := NewRotatingWriter(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("0123456789abcdefXYZ\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("after\n")); err != nil {
		t.Fatalf("write after rotate: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.Contains(backup, []byte("XYZ")) {
		t.Fatalf("expected first write in backup, got %q", backup)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "after\n" {
		t.Fatalf("expected fresh log file, got %q", current)
	}
}

func TestRotatingWriterTruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.log")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 64), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := NewRotatingWriter(path, 32)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated file, got %d bytes", info.Size())
	}
}
