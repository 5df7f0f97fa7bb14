// Package tween animates avatar parameters over time.
//
// A [Tweener] owns every parameter the server writes: it arbitrates
// concurrent animations per parameter by priority, interpolates values frame
// by frame through an easing curve, and keeps a background refresh alive so
// the avatar host's own tracker does not reclaim parameters between tweens.
package tween

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/observe"
	"github.com/stagehand-live/stagehand/pkg/easing"
	"github.com/stagehand-live/stagehand/pkg/vts"
)

const (
	// DefaultFPS is the interpolation rate when a request does not set one.
	DefaultFPS = 60

	// DefaultKeepAliveInterval is the refresh period for parameters that
	// have no active tween.
	DefaultKeepAliveInterval = 800 * time.Millisecond
)

// Sink receives interpolated parameter frames. *vts.Client satisfies it.
type Sink interface {
	InjectParameters(ctx context.Context, values []vts.ParameterValue, mode string) error
}

// Request describes one parameter animation.
type Request struct {
	// Param is the avatar input parameter name.
	Param string

	// End is the target value.
	End float64

	// Duration is the animation length. Zero or negative writes End once
	// and returns immediately.
	Duration time.Duration

	// Easing shapes the interpolation. Nil means linear.
	Easing easing.Func

	// Start overrides the starting value. Nil starts from the last value
	// this Tweener wrote for Param (zero if never written).
	Start *float64

	// Mode is the host inject mode. Empty means "set".
	Mode string

	// FPS overrides the interpolation rate. Zero means [DefaultFPS].
	FPS int

	// Priority arbitrates against a tween already animating Param: strictly
	// higher displaces it, equal or lower is rejected.
	Priority int
}

// task is the bookkeeping entry for one in-flight tween.
type task struct {
	priority   int
	cancel     chan struct{}
	cancelOnce sync.Once
}

func (t *task) stop() {
	t.cancelOnce.Do(func() { close(t.cancel) })
}

// Option configures a [Tweener] during construction.
type Option func(*Tweener)

// WithKeepAliveInterval overrides the keep-alive refresh period.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(tw *Tweener) {
		if d > 0 {
			tw.keepAliveInterval = d
		}
	}
}

// WithMetrics overrides the metrics instance (tests use a manual reader).
func WithMetrics(m *observe.Metrics) Option {
	return func(tw *Tweener) { tw.metrics = m }
}

// Tweener animates avatar parameters through a [Sink]. All exported methods
// are safe for concurrent use.
//
// mu guards the bookkeeping AND serialises sink writes: a tween must verify
// it still owns its parameter immediately before every write, and a
// displaced tween must never write after its successor's first frame. One
// lock gives both orderings; the sink is a single websocket anyway.
type Tweener struct {
	sink    Sink
	metrics *observe.Metrics

	mu     sync.Mutex
	values map[string]float64 // last value written per parameter
	active map[string]*task   // in-flight tween per parameter

	keepAliveInterval time.Duration
	done              chan struct{}
	stopOnce          sync.Once
}

// New creates a Tweener writing to sink and starts the keep-alive goroutine.
// Call [Tweener.Close] to stop it.
func New(sink Sink, opts ...Option) *Tweener {
	tw := &Tweener{
		sink:              sink,
		metrics:           observe.DefaultMetrics(),
		values:            make(map[string]float64),
		active:            make(map[string]*task),
		keepAliveInterval: DefaultKeepAliveInterval,
		done:              make(chan struct{}),
	}
	for _, o := range opts {
		o(tw)
	}
	go tw.keepAlive()
	return tw
}

// Close stops the keep-alive goroutine and cancels every in-flight tween.
func (tw *Tweener) Close() {
	tw.stopOnce.Do(func() { close(tw.done) })

	tw.mu.Lock()
	defer tw.mu.Unlock()
	for _, t := range tw.active {
		t.stop()
	}
}

// Value returns the last value written for param and whether the parameter is
// currently held at all.
func (tw *Tweener) Value(param string) (float64, bool) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	v, ok := tw.values[param]
	return v, ok
}

// ReleaseAll forgets every held parameter so the keep-alive stops refreshing
// them and the host's tracker takes over again. In-flight tweens are not
// cancelled; they notice the missing bookkeeping on their own cleanup paths.
func (tw *Tweener) ReleaseAll() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.values = make(map[string]float64)
}

// Tween runs one parameter animation to completion and blocks until it
// finishes, is displaced, or ctx is cancelled. Rejection by a higher- or
// equal-priority holder returns nil: losing an idle-motion skirmish is
// normal operation, not an error.
func (tw *Tweener) Tween(ctx context.Context, req Request) error {
	if req.Param == "" {
		return nil
	}
	fps := req.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	ease := req.Easing
	if ease == nil {
		ease = easing.Linear
	}
	mode := req.Mode
	if mode == "" {
		mode = vts.InjectModeSet
	}

	// Admission, under the lock.
	tw.mu.Lock()
	start := tw.values[req.Param]
	if req.Start != nil {
		start = *req.Start
	}
	if cur, ok := tw.active[req.Param]; ok {
		if req.Priority <= cur.priority {
			tw.mu.Unlock()
			tw.metrics.RecordTweenAdmission(ctx, req.Param, "rejected")
			return nil
		}
		cur.stop()
		delete(tw.active, req.Param)
		tw.metrics.RecordTweenAdmission(ctx, req.Param, "preempted")
	}

	// Fast path: nothing to interpolate. Write once, install no entry.
	if req.Duration <= 0 || start == req.End {
		tw.values[req.Param] = req.End
		err := tw.sink.InjectParameters(ctx, []vts.ParameterValue{{ID: req.Param, Value: req.End}}, mode)
		tw.mu.Unlock()
		tw.metrics.RecordTweenAdmission(ctx, req.Param, "started")
		if err != nil {
			return err
		}
		return nil
	}

	t := &task{priority: req.Priority, cancel: make(chan struct{})}
	tw.active[req.Param] = t
	tw.mu.Unlock()

	tw.metrics.RecordTweenAdmission(ctx, req.Param, "started")
	tw.metrics.ActiveTweens.Add(ctx, 1)
	began := time.Now()
	err := tw.run(ctx, t, req, start, ease, mode, fps)
	tw.metrics.ActiveTweens.Add(ctx, -1)
	if err == nil {
		tw.metrics.TweenDuration.Record(ctx, time.Since(began).Seconds())
	}

	// Clean up our entry if we still own it.
	tw.mu.Lock()
	if tw.active[req.Param] == t {
		delete(tw.active, req.Param)
	}
	tw.mu.Unlock()
	return err
}

// run interpolates frames on a monotonic schedule anchored at the start
// time, so slow sink writes shorten later sleeps instead of stretching the
// whole animation.
func (tw *Tweener) run(ctx context.Context, t *task, req Request, start float64, ease easing.Func, mode string, fps int) error {
	steps := int(math.Round(req.Duration.Seconds() * float64(fps)))
	if steps < 1 {
		steps = 1
	}
	interval := req.Duration / time.Duration(steps)
	anchor := time.Now()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for k := 1; k <= steps; k++ {
		next := anchor.Add(time.Duration(k) * interval)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-t.cancel:
			return nil
		case <-tw.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		frac := ease(float64(k) / float64(steps))
		value := start + (req.End-start)*frac
		ok, err := tw.writeOwned(ctx, t, req.Param, value, mode)
		if err != nil {
			return err
		}
		if !ok {
			// Displaced between frames. Never touch the parameter again.
			return nil
		}
	}
	return nil
}

// writeOwned re-checks ownership under the lock and, still holding it,
// writes the frame. Returns false without writing when the task has been
// displaced.
func (tw *Tweener) writeOwned(ctx context.Context, t *task, param string, value float64, mode string) (bool, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.active[param] != t {
		return false, nil
	}
	tw.values[param] = value
	if err := tw.sink.InjectParameters(ctx, []vts.ParameterValue{{ID: param, Value: value}}, mode); err != nil {
		return true, err
	}
	tw.metrics.ParametersInjected.Add(ctx, 1)
	return true, nil
}

// keepAlive periodically re-sends the held value of every parameter without
// an active tween. The host's tracker reasserts control over parameters it
// stops hearing about; this loop is what makes a finished pose stick.
func (tw *Tweener) keepAlive() {
	ticker := time.NewTicker(tw.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tw.done:
			return
		case <-ticker.C:
			tw.refreshIdle()
		}
	}
}

func (tw *Tweener) refreshIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), tw.keepAliveInterval)
	defer cancel()

	tw.mu.Lock()
	defer tw.mu.Unlock()

	batch := make([]vts.ParameterValue, 0, len(tw.values))
	for param, v := range tw.values {
		if _, busy := tw.active[param]; busy {
			continue
		}
		batch = append(batch, vts.ParameterValue{ID: param, Value: v})
	}
	if len(batch) == 0 {
		return
	}
	if err := tw.sink.InjectParameters(ctx, batch, vts.InjectModeSet); err != nil {
		slog.Warn("keep-alive refresh failed", "params", len(batch), "err", err)
		return
	}
	tw.metrics.ParametersInjected.Add(ctx, int64(len(batch)))
}
