package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherFiresOnCSVDrop(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	w.SetSettle(50 * time.Millisecond)

	var fired atomic.Int32
	done := make(chan struct{})
	w.OnChange = func(ctx context.Context) error {
		if fired.Add(1) == 1 {
			close(done)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// give the watch registration a moment
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "calls.csv"), []byte("Call Number\n1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire on CSV drop")
	}
}

func TestWatcherIgnoresNonCSV(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	w.SetSettle(50 * time.Millisecond)

	var fired atomic.Int32
	w.OnChange = func(ctx context.Context) error {
		fired.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := fired.Load(); n != 0 {
		t.Errorf("fired %d times on non-CSV write, want 0", n)
	}
}

func TestWatcherTickerFiresWithoutEvents(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	w.SetInterval(100 * time.Millisecond)

	var fired atomic.Int32
	done := make(chan struct{})
	w.OnChange = func(ctx context.Context) error {
		if fired.Add(1) == 1 {
			close(done)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fallback ticker did not fire")
	}
}

func TestWatcherQueuesTriggerDuringRun(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	w.SetSettle(50 * time.Millisecond)

	var fired atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	second := make(chan struct{})
	w.OnChange = func(ctx context.Context) error {
		switch fired.Add(1) {
		case 1:
			close(started)
			<-release
		case 2:
			close(second)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "first.csv"), []byte("Call Number\n1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start the first run")
	}

	// lands while the first run is blocked; must queue a follow-up
	if err := os.WriteFile(filepath.Join(dir, "second.csv"), []byte("Call Number\n2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	close(release)

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger during an active run was dropped instead of queued")
	}
}

func TestWatcherCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	w.SetSettle(150 * time.Millisecond)

	var fired atomic.Int32
	w.OnChange = func(ctx context.Context) error {
		fired.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "batch_"+string(rune('a'+i))+".csv")
		if err := os.WriteFile(name, []byte("Incident Number\n1\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if n := fired.Load(); n != 1 {
		t.Errorf("burst of 5 files fired %d times, want 1", n)
	}
}
