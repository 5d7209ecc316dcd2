package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/except-pass/telltale/pkg/loader"
)

func TestIODocumentLoader_Caches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(`{"v": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewIODocumentLoader()
	file := loader.NewDocumentFile(path)

	got, err := l.GetFileText(context.Background(), file)
	if err != nil || string(got) != `{"v": 1}` {
		t.Fatalf("expected first read, got %q (%v)", got, err)
	}

	if err := os.WriteFile(path, []byte(`{"v": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, _ = l.GetFileText(context.Background(), file)
	if string(got) != `{"v": 1}` {
		t.Fatalf("expected cached content, got %q", got)
	}

	l.Invalidate(file)
	got, _ = l.GetFileText(context.Background(), file)
	if string(got) != `{"v": 2}` {
		t.Fatalf("expected fresh content after invalidate, got %q", got)
	}
}

func TestIODocumentLoader_MissingFile(t *testing.T) {
	l := NewIODocumentLoader()
	_, err := l.GetFileText(context.Background(), loader.NewDocumentFile(filepath.Join(t.TempDir(), "missing.json")))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIODocumentLoader_LoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	content := "failure_modes:\n  - name: Dead Battery\nobservations:\n  - name: No Music\nsensor_readings: []\n" +
		"evidence_relationships:\n  - observation: No Music\n    failure_mode: Dead Battery\n    when_true_strength: suggests\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := loader.LoadDocument(context.Background(), NewIODocumentLoader(), loader.NewDocumentFile(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := doc.Build(); err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
}
