package controller

import (
	"context"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/tween"
	"github.com/stagehand-live/stagehand/pkg/easing"
	"golang.org/x/sync/errgroup"
)

// ── Blink ────────────────────────────────────────────────────────────────────

// Blink closes and reopens both eyes on a randomised schedule.
type Blink struct {
	base
	tw  Tweener
	cfg func() config.BlinkConfig
}

var _ Idle = (*Blink)(nil)

// NewBlink creates the blink controller. cfg is consulted at every cycle so
// hot-reloaded tunables apply without a restart.
func NewBlink(tw Tweener, cfg func() config.BlinkConfig) *Blink {
	return &Blink{base: base{name: "Blink"}, tw: tw, cfg: cfg}
}

func (c *Blink) Enabled() bool { return c.cfg().Enabled }

func (c *Blink) Start() { c.startLoop(c.cycle) }

func (c *Blink) cycle(ctx context.Context) error {
	cfg := c.cfg()

	// Close both lids together, from wherever they are now.
	if err := c.both(ctx, cfg, cfg.Min, cfg.CloseDuration, easing.OutSine); err != nil {
		return err
	}
	if err := sleep(ctx, time.Duration(cfg.ClosedHold*float64(time.Second))); err != nil {
		return err
	}
	if err := c.both(ctx, cfg, cfg.Max, cfg.OpenDuration, easing.InSine); err != nil {
		return err
	}
	return sleep(ctx, uniformDuration(cfg.MinInterval, cfg.MaxInterval))
}

// both tweens the left and right lid concurrently to the same target.
func (c *Blink) both(ctx context.Context, cfg config.BlinkConfig, target, seconds float64, ease easing.Func) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, param := range []string{cfg.LeftParam, cfg.RightParam} {
		g.Go(func() error {
			return c.tw.Tween(ctx, tween.Request{
				Param:    param,
				End:      target,
				Duration: time.Duration(seconds * float64(time.Second)),
				Easing:   ease,
				Priority: idlePriority,
			})
		})
	}
	return g.Wait()
}

// ── Breathing ────────────────────────────────────────────────────────────────

// Breathing oscillates the breath parameter between its bounds.
type Breathing struct {
	base
	tw  Tweener
	cfg func() config.BreathingConfig
}

var _ Idle = (*Breathing)(nil)

func NewBreathing(tw Tweener, cfg func() config.BreathingConfig) *Breathing {
	return &Breathing{base: base{name: "Breathing"}, tw: tw, cfg: cfg}
}

func (c *Breathing) Enabled() bool { return c.cfg().Enabled }

func (c *Breathing) Start() { c.startLoop(c.cycle) }

func (c *Breathing) cycle(ctx context.Context) error {
	cfg := c.cfg()

	if err := c.tw.Tween(ctx, tween.Request{
		Param:    cfg.Param,
		End:      cfg.Max,
		Duration: time.Duration(cfg.InhaleDuration * float64(time.Second)),
		Easing:   easing.InOutSine,
		Priority: idlePriority,
	}); err != nil {
		return err
	}
	return c.tw.Tween(ctx, tween.Request{
		Param:    cfg.Param,
		End:      cfg.Min,
		Duration: time.Duration(cfg.ExhaleDuration * float64(time.Second)),
		Easing:   easing.InOutSine,
		Priority: idlePriority,
	})
}

// ── BodySwing ────────────────────────────────────────────────────────────────

// BodySwing drifts the head/body angles toward random targets, optionally
// dragging the gaze along.
type BodySwing struct {
	base
	tw  Tweener
	cfg func() config.BodySwingConfig
}

var _ Idle = (*BodySwing)(nil)

func NewBodySwing(tw Tweener, cfg func() config.BodySwingConfig) *BodySwing {
	return &BodySwing{base: base{name: "BodySwing"}, tw: tw, cfg: cfg}
}

func (c *BodySwing) Enabled() bool { return c.cfg().Enabled }

func (c *BodySwing) Start() { c.startLoop(c.cycle) }

func (c *BodySwing) cycle(ctx context.Context) error {
	cfg := c.cfg()

	targetX := uniform(cfg.XMin, cfg.XMax)
	targetZ := uniform(cfg.ZMin, cfg.ZMax)
	duration := uniformDuration(cfg.MinDuration, cfg.MaxDuration)
	ease := weightedEasing()

	moves := []tween.Request{
		{Param: cfg.XParam, End: targetX, Duration: duration, Easing: ease, Priority: idlePriority},
		{Param: cfg.ZParam, End: targetZ, Duration: duration, Easing: ease, Priority: idlePriority},
	}

	if cfg.EyeFollow {
		eyeX := mapLinear(targetX, cfg.XMin, cfg.XMax, cfg.EyeXMin, cfg.EyeXMax)
		// Z maps inversely: a rising head sends the gaze down.
		eyeY := mapLinear(targetZ, cfg.ZMin, cfg.ZMax, cfg.EyeYMax, cfg.EyeYMin)
		moves = append(moves,
			tween.Request{Param: cfg.EyeLeftXParam, End: eyeX, Duration: duration, Easing: ease, Priority: idlePriority},
			tween.Request{Param: cfg.EyeRightXParam, End: eyeX, Duration: duration, Easing: ease, Priority: idlePriority},
			tween.Request{Param: cfg.EyeLeftYParam, End: eyeY, Duration: duration, Easing: ease, Priority: idlePriority},
			tween.Request{Param: cfg.EyeRightYParam, End: eyeY, Duration: duration, Easing: ease, Priority: idlePriority},
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, req := range moves {
		g.Go(func() error { return c.tw.Tween(ctx, req) })
	}
	return g.Wait()
}

// mapLinear maps v from [inLo, inHi] onto [outLo, outHi]. outLo > outHi
// inverts the mapping.
func mapLinear(v, inLo, inHi, outLo, outHi float64) float64 {
	if inHi == inLo {
		return outLo
	}
	frac := (v - inLo) / (inHi - inLo)
	return outLo + frac*(outHi-outLo)
}

// ── MouthExpression ──────────────────────────────────────────────────────────

// MouthExpression wanders the resting mouth between random smile/open poses.
type MouthExpression struct {
	base
	tw  Tweener
	cfg func() config.MouthExpressionConfig
}

var _ Idle = (*MouthExpression)(nil)

func NewMouthExpression(tw Tweener, cfg func() config.MouthExpressionConfig) *MouthExpression {
	return &MouthExpression{base: base{name: "MouthExpression"}, tw: tw, cfg: cfg}
}

func (c *MouthExpression) Enabled() bool { return c.cfg().Enabled }

func (c *MouthExpression) Start() { c.startLoop(c.cycle) }

func (c *MouthExpression) cycle(ctx context.Context) error {
	cfg := c.cfg()

	smile := uniform(cfg.SmileMin, cfg.SmileMax)
	open := uniform(cfg.OpenMin, cfg.OpenMax)
	duration := uniformDuration(cfg.MinDuration, cfg.MaxDuration)
	ease := weightedEasing()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.tw.Tween(ctx, tween.Request{
			Param: cfg.SmileParam, End: smile, Duration: duration, Easing: ease, Priority: idlePriority,
		})
	})
	g.Go(func() error {
		return c.tw.Tween(ctx, tween.Request{
			Param: cfg.OpenParam, End: open, Duration: duration, Easing: ease, Priority: idlePriority,
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return sleep(ctx, uniformDuration(cfg.MinInterval, cfg.MaxInterval))
}
