package docwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherProcessesFileAlreadyPresentAtStart(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "decoder-manifest.json"), []byte(`{"syncId":"a"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got := make(chan []byte, 1)
	w := New(zerolog.Nop(), dir, map[string]Handler{
		"decoder-manifest.json": func(payload []byte) { got <- payload },
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	select {
	case payload := <-got:
		if string(payload) != `{"syncId":"a"}` {
			t.Errorf("payload = %s, want the file contents", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked for the pre-existing file")
	}
}

func TestWatcherProcessesFileWrittenAfterStart(t *testing.T) {
	dir := t.TempDir()

	got := make(chan []byte, 1)
	w := New(zerolog.Nop(), dir, map[string]Handler{
		"collection-schemes.json": func(payload []byte) { got <- payload },
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "collection-schemes.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case payload := <-got:
		if string(payload) != `[]` {
			t.Errorf("payload = %s, want []", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked after the file was written")
	}
}

func TestWatcherIgnoresUnregisteredFileNames(t *testing.T) {
	dir := t.TempDir()

	called := false
	w := New(zerolog.Nop(), dir, map[string]Handler{
		"decoder-manifest.json": func([]byte) { called = true },
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if called {
		t.Error("handler invoked for a file name it was not registered for")
	}
}
