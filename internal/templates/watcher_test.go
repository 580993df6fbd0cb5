package templates

import (
	"io"
	"log"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "hgv-daily.yaml", hgvDaily)

	r := NewRegistry(dir)
	if _, err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	w, err := NewWatcher(r, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeTemplate(t, dir, "plant.yaml", "name: plant-weekly\nitems:\n  - number: 1\n    description: Tracks\n")

	deadline := time.After(5 * time.Second)
	for r.Get("plant-weekly") == nil {
		select {
		case <-deadline:
			t.Fatal("new template not picked up")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWatcherIgnoresNonTemplateFiles(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "hgv-daily.yaml", hgvDaily)

	r := NewRegistry(dir)
	if _, err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	w, err := NewWatcher(r, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeTemplate(t, dir, "scratch.txt", "ignored")

	// Give the debounce window time to pass; the registry must be
	// unchanged.
	time.Sleep(500 * time.Millisecond)
	if len(r.Names()) != 1 {
		t.Errorf("Names() = %v, want only hgv-daily", r.Names())
	}
}

func TestWatcherStartStopLifecycle(t *testing.T) {
	r := NewRegistry(t.TempDir())
	w, err := NewWatcher(r, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start succeeded, want error")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
