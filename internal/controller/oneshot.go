package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/tween"
	"github.com/stagehand-live/stagehand/pkg/easing"
)

// ErrBadArgs reports that a one-shot controller was dispatched with
// arguments of the wrong shape.
var ErrBadArgs = errors.New("controller: bad one-shot arguments")

// mouthSyncPriority outranks idle motion so the lips follow speech, while
// template animations (priority 3) can still override it.
const mouthSyncPriority = 2

// mouthSyncCadence is the sample pacing of the lip-sync loop.
const mouthSyncCadence = 50 * time.Millisecond

// mouthSyncCloseDuration closes the mouth after the stream ends.
const mouthSyncCloseDuration = 200 * time.Millisecond

// runFlag is the shared Running bookkeeping for one-shots.
type runFlag struct {
	mu      sync.Mutex
	running bool
}

func (f *runFlag) set(v bool) {
	f.mu.Lock()
	f.running = v
	f.mu.Unlock()
}

func (f *runFlag) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// ── MouthSync ────────────────────────────────────────────────────────────────

// MouthSync drives the mouth-open parameter from a stream of loudness
// samples while synthesized speech plays. The stream ends when the channel
// closes; the mouth then eases shut.
type MouthSync struct {
	runFlag
	tw  Tweener
	cfg func() config.MouthSyncConfig
}

var _ OneShot = (*MouthSync)(nil)

func NewMouthSync(tw Tweener, cfg func() config.MouthSyncConfig) *MouthSync {
	return &MouthSync{tw: tw, cfg: cfg}
}

func (c *MouthSync) Name() string { return "MouthSync" }

// Execute consumes loudness samples (dB, see the audio package's loudness
// convention) from args[0], a <-chan float64. Samples at or above the
// configured threshold open the mouth to a random degree; quieter ones close
// it. Returns when the channel closes or ctx is cancelled.
func (c *MouthSync) Execute(ctx context.Context, args ...any) error {
	var ch <-chan float64
	if len(args) == 1 {
		switch v := args[0].(type) {
		case <-chan float64:
			ch = v
		case chan float64:
			ch = v
		}
	}
	if ch == nil {
		return fmt.Errorf("%w: MouthSync expects a loudness channel", ErrBadArgs)
	}

	c.set(true)
	defer c.set(false)

	cfg := c.cfg()
	defer c.close(cfg)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-ch:
			if !ok {
				return nil
			}
			target := cfg.OpenMin
			if sample >= cfg.Threshold {
				target = uniform(cfg.OpenMin, cfg.OpenMax)
			}
			// Fire the frame tween asynchronously; the cadence sleep paces
			// the loop, not the tween completion.
			go func() {
				_ = c.tw.Tween(context.Background(), tween.Request{
					Param:    cfg.OpenParam,
					End:      target,
					Duration: mouthSyncCadence,
					Easing:   easing.Linear,
					Priority: mouthSyncPriority,
				})
			}()
			if err := sleep(ctx, mouthSyncCadence); err != nil {
				return err
			}
		}
	}
}

// close eases the mouth shut. Runs on its own context so cancellation of the
// sync loop still leaves the avatar with a closed mouth.
func (c *MouthSync) close(cfg config.MouthSyncConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := tween.Request{
		Param:    cfg.OpenParam,
		End:      cfg.OpenMin,
		Duration: mouthSyncCloseDuration,
		Easing:   easing.Linear,
		Priority: mouthSyncPriority,
	}
	_ = c.tw.Tween(ctx, req)
	// The last frame tween may still hold the parameter at the same
	// priority, silently rejecting the first attempt. Retry once after its
	// window so the mouth always ends shut.
	time.Sleep(mouthSyncCadence)
	_ = c.tw.Tween(ctx, req)
}

// ── ExpressionApply ──────────────────────────────────────────────────────────

// ExpressionToggle names one expression file and its desired state.
type ExpressionToggle struct {
	File   string
	Active bool
}

// ExpressionActivator is the avatar surface ExpressionApply needs.
// *vts.Client satisfies it.
type ExpressionActivator interface {
	SetExpression(ctx context.Context, file string, active bool) error
}

// ExpressionApply switches a list of expressions on or off in one shot.
type ExpressionApply struct {
	runFlag
	avatar ExpressionActivator
}

var _ OneShot = (*ExpressionApply)(nil)

func NewExpressionApply(avatar ExpressionActivator) *ExpressionApply {
	return &ExpressionApply{avatar: avatar}
}

func (c *ExpressionApply) Name() string { return "ExpressionApply" }

// Execute applies args[0], a []ExpressionToggle. Individual activation
// failures are collected; the remaining toggles still run.
func (c *ExpressionApply) Execute(ctx context.Context, args ...any) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: ExpressionApply expects a toggle list", ErrBadArgs)
	}
	toggles, ok := args[0].([]ExpressionToggle)
	if !ok {
		return fmt.Errorf("%w: ExpressionApply expects a toggle list", ErrBadArgs)
	}

	c.set(true)
	defer c.set(false)

	var errs []error
	for _, t := range toggles {
		if err := c.avatar.SetExpression(ctx, t.File, t.Active); err != nil {
			errs = append(errs, fmt.Errorf("expression %q: %w", t.File, err))
		}
	}
	return errors.Join(errs...)
}
