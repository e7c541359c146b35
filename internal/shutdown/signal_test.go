package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSignalSetOnce(t *testing.T) {
	s := New()

	if s.IsSet() {
		t.Fatal("new signal should be unset")
	}
	if !s.Set("first") {
		t.Error("first Set() = false, want true")
	}
	if s.Set("second") {
		t.Error("second Set() = true, want false")
	}
	if !s.IsSet() {
		t.Error("IsSet() = false after Set")
	}
	if got := s.Reason(); got != "first" {
		t.Errorf("Reason() = %q, want %q", got, "first")
	}
}

func TestSignalConcurrentSet(t *testing.T) {
	s := New()

	var transitions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Set("race") {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := transitions.Load(); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestSignalDoneObservedByWaiters(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	var observed atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-s.Done()
			observed.Add(1)
		}()
	}

	s.Set("stop")
	s.Set("stop again")
	wg.Wait()

	if got := observed.Load(); got != 10 {
		t.Errorf("observed = %d, want 10", got)
	}
}

func TestSignalContextCancelledOnSet(t *testing.T) {
	s := New()
	ctx, cancel := s.Context(context.Background())
	defer cancel()

	s.Set("stop")

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after Set")
	}
}

func TestSignalContextParentCancelSetsSignal(t *testing.T) {
	s := New()
	parent, parentCancel := context.WithCancel(context.Background())
	ctx, cancel := s.Context(parent)
	defer cancel()

	parentCancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("signal not set after parent cancel")
	}
	if ctx.Err() == nil {
		t.Error("derived context should be cancelled")
	}
}

func TestSignalContextOwnCancelLeavesSignalUnset(t *testing.T) {
	s := New()
	_, cancel := s.Context(context.Background())
	cancel()

	time.Sleep(20 * time.Millisecond)
	if s.IsSet() {
		t.Error("cancelling the derived context should not set the signal")
	}
}

func TestNotifyOnInterruptStop(t *testing.T) {
	s := New()
	stop := s.NotifyOnInterrupt(zerolog.Nop())
	stop()
	stop()

	if s.IsSet() {
		t.Error("stop should not set the signal")
	}
}
