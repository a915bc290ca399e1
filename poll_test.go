package mwbridge

import (
	"context"
	"testing"
	"time"
)

func TestAdaptivePollBacksOffTowardSteady(t *testing.T) {
	p := NewAdaptivePoll(1*time.Millisecond, 4*time.Millisecond)
	if p.Cur != 1*time.Millisecond {
		t.Fatalf("initial Cur = %v, want 1ms", p.Cur)
	}
	p.Sleep()
	if p.Cur != 2*time.Millisecond {
		t.Errorf("Cur after one Sleep = %v, want 2ms", p.Cur)
	}
	p.Sleep()
	if p.Cur != 4*time.Millisecond {
		t.Errorf("Cur after two Sleeps = %v, want 4ms", p.Cur)
	}
	p.Sleep()
	if p.Cur != 4*time.Millisecond {
		t.Errorf("Cur should clamp at Steady (4ms), got %v", p.Cur)
	}
}

func TestAdaptivePollResetReturnsToFastAndSkipsNextSleep(t *testing.T) {
	p := NewAdaptivePoll(1*time.Millisecond, 8*time.Millisecond)
	p.Sleep()
	p.Sleep()
	p.Reset()
	if p.Cur != 1*time.Millisecond {
		t.Errorf("Cur after Reset = %v, want Fast (1ms)", p.Cur)
	}
	start := time.Now()
	p.Sleep()
	if elapsed := time.Since(start); elapsed > 500*time.Microsecond {
		t.Errorf("Sleep after Reset took %v, want ~0 (skip flag should suppress the wait)", elapsed)
	}
}

func TestAdaptivePollSleepCtxHonorsCancellation(t *testing.T) {
	p := NewAdaptivePoll(1*time.Second, 1*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.SleepCtx(ctx); err == nil {
		t.Fatal("expected SleepCtx to return the cancellation error immediately")
	}
}

func TestNewAdaptivePollDefaultsAndClampsSteady(t *testing.T) {
	p := NewAdaptivePoll(0, 0)
	if p.Fast != DefaultFastPoll {
		t.Errorf("Fast = %v, want DefaultFastPoll", p.Fast)
	}
	p2 := NewAdaptivePoll(10*time.Millisecond, 1*time.Millisecond)
	if p2.Steady != 10*time.Millisecond {
		t.Errorf("Steady = %v, want clamped up to Fast (10ms)", p2.Steady)
	}
}
