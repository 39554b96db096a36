package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDoReturnsJobResult(t *testing.T) {
	p := New(8)
	if err := p.Start(2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	boom := errors.New("boom")
	if err := p.Do(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
	var ran bool
	if err := p.Do(context.Background(), func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("Do = %v, ran = %v", err, ran)
	}
}

func TestDoBeforeStart(t *testing.T) {
	p := New(1)
	if err := p.Do(context.Background(), func() error { return nil }); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("got %v, want ErrPoolNotStarted", err)
	}
}

func TestDoAfterStop(t *testing.T) {
	p := New(1)
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	p.Stop()
	if err := p.Do(context.Background(), func() error { return nil }); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("got %v, want ErrPoolStopped", err)
	}
}

func TestStartTwice(t *testing.T) {
	p := New(1)
	defer p.Stop()
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(1); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestCancelledCallerDoesNotAbortJob(t *testing.T) {
	p := New(1)
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		})
	}()
	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	close(release)
	p.Stop()
	if !finished.Load() {
		t.Error("accepted job did not run to completion")
	}
}

func TestPanicBecomesError(t *testing.T) {
	p := New(1)
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	if err := p.Do(context.Background(), func() error { panic("bad") }); err == nil {
		t.Fatal("panic was swallowed")
	}
	if err := p.Do(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("worker died after panic: %v", err)
	}
}

func TestConcurrentDo(t *testing.T) {
	p := New(16)
	if err := p.Start(4); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Do(context.Background(), func() error {
				count.Add(1)
				return nil
			}); err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if count.Load() != 200 {
		t.Errorf("ran %d jobs, want 200", count.Load())
	}
}

func TestSubmitNotQueuedNeverRuns(t *testing.T) {
	p := New(1)
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := p.Submit(context.Background(), func() error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := p.Submit(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Bool
	if _, err := p.Submit(ctx, func() error { ran.Store(true); return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit on full queue = %v, want context.Canceled", err)
	}
	close(release)
	p.Stop()
	if ran.Load() {
		t.Error("job rejected by Submit still ran")
	}
}
