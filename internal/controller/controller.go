// Package controller hosts the avatar's ambient motion: idle controllers
// loop autonomous animation cycles (blinking, breathing, body swing, mouth
// expression), one-shot controllers run on demand (lip-sync, expression
// sets), and a manager arbitrates their lifecycle and per-model tunables.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/tween"
	"github.com/stagehand-live/stagehand/pkg/easing"
	"github.com/stagehand-live/stagehand/pkg/vts"
)

// idlePriority is the tween priority of ambient motion. It must stay below
// the floor the action scheduler applies to queued animations, so anything
// deliberate (control-socket animations at 1+, lip-sync at 2, template
// animation at 3) displaces idle motion under the strict greater-than rule.
const idlePriority = 0

// Tweener is the parameter animation surface controllers drive.
// *tween.Tweener satisfies it.
type Tweener interface {
	Tween(ctx context.Context, req tween.Request) error
	Value(param string) (float64, bool)
}

// Idle is an autonomous looping controller.
type Idle interface {
	Name() string
	Running() bool
	Enabled() bool
	Start()
	Stop()
	StopNoWait()
}

// OneShot runs a single animation task to completion or cancellation.
type OneShot interface {
	Name() string
	Running() bool
	Execute(ctx context.Context, args ...any) error
}

// base carries the shared idle lifecycle: idempotent start, cooperative
// stop, and a cycle loop that survives per-cycle failures.
type base struct {
	name string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *base) Name() string { return b.name }

func (b *base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

// startLoop begins running cycle repeatedly. A second call while running is
// a no-op. Per-cycle errors are logged and the loop resumes; a lost avatar
// connection or cancellation ends the loop quietly.
func (b *base) startLoop(cycle func(context.Context) error) {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			b.mu.Lock()
			// A restart may already own the slots; only clear our own.
			if b.done == done {
				b.cancel = nil
				b.done = nil
			}
			b.mu.Unlock()
		}()

		for {
			if ctx.Err() != nil {
				return
			}
			if err := cycle(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if errors.Is(err, vts.ErrConnectionClosed) {
					slog.Debug("controller stopping, avatar connection closed", "controller", b.name)
					return
				}
				slog.Warn("controller cycle failed", "controller", b.name, "err", err)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current cycle to unwind.
func (b *base) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// StopNoWait cancels the loop without waiting for the cycle to finish.
func (b *base) StopNoWait() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// sleep waits for d or until ctx is cancelled, whichever first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// uniform returns a random float in [lo, hi]. Inverted bounds collapse to lo.
func uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Float64()*(hi-lo)
}

// uniformDuration returns a random duration in [lo, hi] seconds.
func uniformDuration(lo, hi float64) time.Duration {
	return time.Duration(uniform(lo, hi) * float64(time.Second))
}

// weightedEasing picks a random easing for ambient motion, favoring gentle
// sine curves over the sharper polynomial ones.
func weightedEasing() easing.Func {
	choices := []struct {
		fn     easing.Func
		weight int
	}{
		{easing.InOutSine, 4},
		{easing.InOutQuad, 2},
		{easing.InOutCubic, 1},
		{easing.Linear, 1},
	}
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	n := rand.IntN(total)
	for _, c := range choices {
		if n < c.weight {
			return c.fn
		}
		n -= c.weight
	}
	return easing.Linear
}
