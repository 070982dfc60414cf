package notify

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	maxBackoff := 60 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: 1 * time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 7, want: 60 * time.Second},
		{attempts: 200, want: 60 * time.Second},
	}

	for _, tc := range cases {
		if got := backoff(tc.attempts, maxBackoff); got != tc.want {
			t.Fatalf("attempts=%d: want %s got %s", tc.attempts, tc.want, got)
		}
	}
}

func TestJitterDeterministic(t *testing.T) {
	t.Parallel()

	maxJitter := 200 * time.Millisecond
	got := jitter(rand.New(rand.NewSource(7)), maxJitter)
	if got < 0 || got > maxJitter {
		t.Fatalf("jitter out of range: %s", got)
	}
	if again := jitter(rand.New(rand.NewSource(7)), maxJitter); again != got {
		t.Fatalf("expected deterministic jitter; got %s and %s", got, again)
	}
	if jitter(nil, maxJitter) != 0 {
		t.Fatal("nil source should yield no jitter")
	}
}

func TestTruncateError(t *testing.T) {
	t.Parallel()

	if got := truncateError(errors.New(strings.Repeat("é", 10)), 5); got != "éé" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
	if got := truncateError(nil, 10); got != "" {
		t.Fatalf("nil error gave %q", got)
	}
}
