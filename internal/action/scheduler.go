package action

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/stagehand-live/stagehand/internal/audio"
	"github.com/stagehand-live/stagehand/internal/observe"
	"github.com/stagehand-live/stagehand/internal/tween"
	"github.com/stagehand-live/stagehand/pkg/easing"
)

// Tweener drives animation actions. *tween.Tweener satisfies it.
type Tweener interface {
	Tween(ctx context.Context, req tween.Request) error
}

// ExpressionSetter toggles avatar expressions. *vts.Client satisfies it.
type ExpressionSetter interface {
	SetExpression(ctx context.Context, file string, active bool) error
}

// SoundPlayer plays sound effects. *audio.Player satisfies it.
type SoundPlayer interface {
	Play(sound string, opts audio.PlayOptions) (id int, ok bool)
	Stop(id int)
}

// SayRunner executes say actions. The say handler satisfies it.
type SayRunner interface {
	Run(ctx context.Context, s Say, latch *Latch) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler buffers actions and executes them in concurrent batches.
// Add and Execute may be called concurrently: an Add during a running
// Execute lands in the next batch, never the running snapshot.
type Scheduler struct {
	tweener Tweener
	exprs   ExpressionSetter
	sounds  SoundPlayer
	say     SayRunner
	metrics *observe.Metrics

	mu    sync.Mutex
	queue []Action
}

// NewScheduler wires a scheduler to its action handlers. Any handler may be
// nil; actions of that kind then fail with a log line instead of executing.
func NewScheduler(tw Tweener, exprs ExpressionSetter, sounds SoundPlayer, say SayRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		tweener: tw,
		exprs:   exprs,
		sounds:  sounds,
		say:     say,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add appends a to the pending batch and returns the action's estimated
// completion time: delay plus any static duration. Say actions estimate
// zero; their true duration is unknown until synthesis streams.
func (s *Scheduler) Add(a Action) time.Duration {
	s.mu.Lock()
	s.queue = append(s.queue, a)
	s.mu.Unlock()

	switch v := a.(type) {
	case Animation:
		return v.Delay + v.Duration
	case Expression:
		return v.Delay + v.Duration
	case SoundPlay:
		return v.Delay + v.Duration
	default:
		return 0
	}
}

// Pending reports the number of buffered actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Execute snapshots and clears the pending batch, then runs the snapshot
// loop+1 times. Within one iteration every action runs on its own task,
// sleeping its own delay first; iteration n+1 starts only after every task
// of iteration n has finished. Per-action failures are logged and do not
// stop the batch. Execute returns when all iterations are done or ctx is
// cancelled.
func (s *Scheduler) Execute(ctx context.Context, loop int) error {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if loop < 0 {
		loop = 0
	}

	for iter := 0; iter <= loop; iter++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The latch exists only when this iteration will actually speak.
		var latch *Latch
		for _, a := range batch {
			if say, ok := a.(Say); ok && say.TTSText != "" {
				latch = NewLatch()
				break
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, a := range batch {
			g.Go(func() error {
				if err := sleepCtx(gctx, a.StartDelay()); err != nil {
					return err
				}
				s.metrics.ActionDelay.Record(gctx, a.StartDelay().Seconds(),
					metric.WithAttributes(observe.Attr("kind", a.Kind())))
				err := s.dispatch(gctx, a, latch)
				status := "ok"
				if err != nil {
					status = "error"
					slog.Warn("action failed", "kind", a.Kind(), "iteration", iter, "err", err)
				}
				s.metrics.RecordActionExecuted(gctx, a.Kind(), status)
				// Failures stay in the iteration; only cancellation aborts.
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, a Action, latch *Latch) error {
	switch v := a.(type) {
	case Say:
		if s.say == nil {
			return errNoHandler("say")
		}
		return s.say.Run(ctx, v, latch)
	case Animation:
		if s.tweener == nil {
			return errNoHandler("animation")
		}
		priority := v.Priority
		if priority < 1 {
			priority = 1
		}
		return s.tweener.Tween(ctx, tween.Request{
			Param:    v.Parameter,
			Start:    v.From,
			End:      v.Target,
			Duration: v.Duration,
			Easing:   easing.ForName(v.Easing),
			Priority: priority,
		})
	case Expression:
		if s.exprs == nil {
			return errNoHandler("expression")
		}
		if err := s.exprs.SetExpression(ctx, v.Name, true); err != nil {
			return err
		}
		if v.Duration <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, v.Duration); err != nil {
			return err
		}
		return s.exprs.SetExpression(ctx, v.Name, false)
	case SoundPlay:
		if s.sounds == nil {
			return errNoHandler("sound_play")
		}
		id, ok := s.sounds.Play(v.Path, audio.PlayOptions{Volume: v.Volume, Speed: v.Speed})
		if !ok {
			return errSoundFailed
		}
		// Playback is fire-and-forget; a positive duration cuts it short.
		if v.Duration > 0 {
			go func() {
				timer := time.NewTimer(v.Duration)
				defer timer.Stop()
				select {
				case <-timer.C:
					s.sounds.Stop(id)
				case <-ctx.Done():
				}
			}()
		}
		return nil
	default:
		return errNoHandler(a.Kind())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
