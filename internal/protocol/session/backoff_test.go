package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/avatarsvc/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := map[int]time.Duration{
		0: 250 * time.Millisecond,
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := NextBackoffDelay(cfg, attempt, nil); got != d {
			t.Fatalf("attempt%d got=%v want=%v", attempt, got, d)
		}
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: 10 * time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 2*time.Second || got > 6*time.Second {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != 2*time.Second {
		t.Fatalf("nil rng should use half delay, got %v", got)
	}
}

func TestNextBackoffDelayZeroInitial(t *testing.T) {
	testlog.Start(t)
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("expected zero delay, got %v", got)
	}
}

func TestSleepContextCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{FetchTimeout: 3 * time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.FetchTimeout != 3*time.Second {
		t.Fatalf("explicit fetch timeout overwritten: %v", cfg.FetchTimeout)
	}
	if cfg.ConnectTimeout != def.ConnectTimeout || cfg.WriteTimeout != def.WriteTimeout || cfg.MaxConnectAttempts != def.MaxConnectAttempts {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Backoff.InitialDelay != def.Backoff.InitialDelay || cfg.Backoff.Multiplier != def.Backoff.Multiplier {
		t.Fatalf("backoff defaults not applied: %+v", cfg.Backoff)
	}
	if DefaultConfig().FetchTimeout != 10*time.Second {
		t.Fatalf("unexpected default fetch timeout: %v", DefaultConfig().FetchTimeout)
	}
}
