// Package action defines the typed actions the server can execute and the
// scheduler that batches and runs them. Actions accumulate in a pending
// queue; executing snapshots the queue and runs every action of the snapshot
// concurrently, aligned by per-action delays, optionally looping the same
// snapshot several times.
package action

import (
	"context"
	"sync"
	"time"
)

// Action is one element of a batch. Implementations are the concrete
// variants below.
type Action interface {
	// Kind is the wire discriminator of the action ("say", "animation", …).
	Kind() string
	// StartDelay is how long the action's task sleeps before dispatching.
	StartDelay() time.Duration
}

// Say displays text and optionally speaks it.
type Say struct {
	// Text is the subtitle shown to viewers.
	Text string `json:"text"`
	// TTSText, when non-empty, is synthesized and played; lip-sync follows
	// the audio.
	TTSText string `json:"tts_text"`
	// Volume overrides playback volume when in (0, 1].
	Volume float64 `json:"volume,omitempty"`
}

func (Say) Kind() string              { return "say" }
func (Say) StartDelay() time.Duration { return 0 }

// Animation tweens one avatar parameter.
type Animation struct {
	Parameter string
	// From overrides the tween start; nil continues from the current value.
	From     *float64
	Target   float64
	Duration time.Duration
	Delay    time.Duration
	Easing   string
	Priority int
}

func (Animation) Kind() string                { return "animation" }
func (a Animation) StartDelay() time.Duration { return a.Delay }

// Expression activates an avatar expression, and deactivates it again after
// Duration when Duration is positive.
type Expression struct {
	Name     string
	Duration time.Duration
	Delay    time.Duration
}

func (Expression) Kind() string                { return "expression" }
func (e Expression) StartDelay() time.Duration { return e.Delay }

// SoundPlay plays a sound effect. Duration, when positive, stops the sound
// early.
type SoundPlay struct {
	Path     string
	Duration time.Duration
	Volume   float64
	Speed    float64
	Delay    time.Duration
}

func (SoundPlay) Kind() string                { return "sound_play" }
func (s SoundPlay) StartDelay() time.Duration { return s.Delay }

// Latch is the speech-start gate of one batch iteration. It is set once,
// when the first synthesized audio of the iteration actually begins playing;
// subtitle-only say actions wait on it so their subtitles align to the
// spoken audio.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch returns an unset latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set releases every waiter. Subsequent calls are no-ops.
func (l *Latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

// Wait blocks until the latch is set or ctx is cancelled.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
