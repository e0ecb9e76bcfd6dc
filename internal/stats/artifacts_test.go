package stats

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndReadRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()

	artifacts := RunArtifacts{
		Config: map[string]any{"fraction": 0.1},
		Summary: RunSummary{
			RunID:        "run-123",
			CreatedAtUTC: "2026-02-10T10:00:00Z",
			Raster:       "stack.tif",
			Table:        "hum.muestras",
			Candidates:   9,
			Sampled:      3,
			New:          3,
			Records:      6,
			Inserted:     6,
		},
		ClassCounts: []ClassCount{
			{Class: 1, Name: "Superficie agrícola", Candidates: 4, Sampled: 1, New: 1},
			{Class: 12, Name: "Vegas y mallines", Candidates: 5, Sampled: 2, New: 2},
		},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{"config.json", "summary.json", "class_counts.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	summary, ok, err := ReadRunSummary(baseDir, "run-123")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !ok || summary.Inserted != 6 || summary.Table != "hum.muestras" {
		t.Fatalf("unexpected summary: ok=%t %+v", ok, summary)
	}

	counts, ok, err := ReadClassCounts(baseDir, "run-123")
	if err != nil {
		t.Fatalf("read class counts: %v", err)
	}
	if !ok || len(counts) != 2 {
		t.Fatalf("unexpected class counts: ok=%t %+v", ok, counts)
	}
	if counts[1] != artifacts.ClassCounts[1] {
		t.Fatalf("class count mismatch: want %+v got %+v", artifacts.ClassCounts[1], counts[1])
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestReadMissingArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunSummary(baseDir, "nope"); err != nil || ok {
		t.Fatalf("expected missing summary, got ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadClassCounts(baseDir, "nope"); err != nil || ok {
		t.Fatalf("expected missing class counts, got ok=%t err=%v", ok, err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Raster:       "stack.tif",
		Sampled:      10,
		Inserted:     100,
		CreatedAtUTC: "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, IndexEntry(RunSummary{
		RunID:        "run-2",
		Raster:       "stack.tif",
		Sampled:      10,
		Inserted:     0,
		CreatedAtUTC: "2026-02-10T11:00:00Z",
	}))
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Raster:       "stack.tif",
		Sampled:      10,
		Inserted:     120,
		CreatedAtUTC: "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].Inserted != 120 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}
