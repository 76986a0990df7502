package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerRunsFetcher(t *testing.T) {
	var calls int64
	p := NewPoller(time.Hour, func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})
	if !p.Trigger(context.Background(), "manual") {
		t.Fatalf("trigger dropped with nothing in flight")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("calls: %d", calls)
	}
}

func TestTriggerDropsWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewPoller(time.Hour, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	go p.Trigger(context.Background(), "slow")
	<-started

	if p.Trigger(context.Background(), "while busy") {
		t.Fatalf("expected concurrent trigger to be dropped")
	}
	close(release)
}

func TestIntervalLoop(t *testing.T) {
	var calls int64
	p := NewPoller(10*time.Millisecond, func(context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("interval fetches did not run: %d", atomic.LoadInt64(&calls))
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.Stop()
	settled := atomic.LoadInt64(&calls)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&calls) > settled+1 {
		t.Fatalf("loop still running after Stop")
	}
}

func TestDebouncerRunsLatestOnly(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var got int64
	for i := 1; i <= 5; i++ {
		v := int64(i)
		d.Submit(func() { atomic.StoreInt64(&got, v) })
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt64(&got) != 5 {
		t.Fatalf("expected only the final submission to run, got %d", got)
	}
}

func TestDebouncerFlush(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()

	var ran int64
	d.Submit(func() { atomic.AddInt64(&ran, 1) })
	d.Flush()
	if atomic.LoadInt64(&ran) != 1 {
		t.Fatalf("flush did not run pending work")
	}
	// nothing left to run
	d.Flush()
	if atomic.LoadInt64(&ran) != 1 {
		t.Fatalf("flush ran twice")
	}
}

func TestDebouncerStopDiscards(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var ran int64
	d.Submit(func() { atomic.AddInt64(&ran, 1) })
	d.Stop()
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&ran) != 0 {
		t.Fatalf("stopped debouncer still ran work")
	}
	d.Submit(func() { atomic.AddInt64(&ran, 1) })
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&ran) != 0 {
		t.Fatalf("submission after Stop ran")
	}
}
