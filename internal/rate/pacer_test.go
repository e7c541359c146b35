package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewPacer(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"positive interval", 100 * time.Millisecond, 100 * time.Millisecond},
		{"zero interval", 0, 0},
		{"negative interval clamps to zero", -time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacer(tt.interval)
			if p.Interval() != tt.want {
				t.Errorf("Interval() = %v, want %v", p.Interval(), tt.want)
			}
		})
	}
}

func TestPacer_Wait_SleepsInterval(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 20*time.Millisecond {
		t.Errorf("Wait() returned after %v, want >= 20ms", elapsed)
	}
}

func TestPacer_Wait_ZeroIntervalImmediate(t *testing.T) {
	p := NewPacer(0)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("1000 zero-interval waits took %v", elapsed)
	}

	if got := p.Stats().Waits; got != 1000 {
		t.Errorf("Stats().Waits = %d, want 1000", got)
	}
}

func TestPacer_Wait_RespectsContext(t *testing.T) {
	p := NewPacer(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Wait(ctx)
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("Wait() should return early on cancel, took %v", elapsed)
	}
	if got := p.Stats().Cancelled; got != 1 {
		t.Errorf("Stats().Cancelled = %d, want 1", got)
	}
}

func TestPacer_Wait_AlreadyCancelled(t *testing.T) {
	p := NewPacer(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() error = %v, want Canceled", err)
	}
}

func TestPacer_IndependentSessions(t *testing.T) {
	// One slow pacer must not delay another.
	slow := NewPacer(time.Second)
	fast := NewPacer(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = slow.Wait(ctx)
	}()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := fast.Wait(ctx); err != nil {
			t.Fatalf("fast Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("fast pacer blocked by slow pacer: %v", elapsed)
	}

	cancel()
	wg.Wait()
}
