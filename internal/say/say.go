// Package say runs the speech path: synthesize text, stream the audio into
// playback while lip-sync follows its loudness, and broadcast subtitles to
// viewers in time with the spoken audio.
package say

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/stagehand-live/stagehand/internal/action"
	"github.com/stagehand-live/stagehand/internal/audio"
	"github.com/stagehand-live/stagehand/internal/observe"
)

// SubtitlePath is the hub path subtitle frames broadcast to.
const SubtitlePath = "/ws/subtitles"

// lipSyncController is the one-shot controller name driving the mouth.
const lipSyncController = "MouthSync"

// ErrNoAudio is returned when synthesis produced a stream that ended before
// any audio played.
var ErrNoAudio = errors.New("say: synthesis produced no audio")

// Synthesizer streams synthesized speech. *tts.Client satisfies it.
type Synthesizer interface {
	Stream(ctx context.Context, model, text string) (io.ReadCloser, error)
}

// StreamPlayer plays a WAV byte stream. *audio.Player satisfies it.
type StreamPlayer interface {
	PlayStream(ctx context.Context, r io.Reader) *audio.Stream
}

// Broadcaster fans frames out to subtitle subscribers. *hub.Hub satisfies
// it.
type Broadcaster interface {
	BroadcastJSON(path string, v any) error
}

// LipSyncer dispatches one-shot controllers. *controller.Manager satisfies
// it.
type LipSyncer interface {
	ExecuteOneShot(ctx context.Context, name string, args ...any) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler executes say actions. One synthesis runs at a time; concurrent
// speaking says queue on the handler mutex so their audio never overlaps.
type Handler struct {
	tts     Synthesizer
	player  StreamPlayer
	hub     Broadcaster
	lipSync LipSyncer
	voice   func() string
	metrics *observe.Metrics

	// mu serialises the speech path.
	mu sync.Mutex
}

var _ action.SayRunner = (*Handler)(nil)

// NewHandler wires the speech path. voice resolves the synthesis voice
// model at call time so config reloads take effect without rewiring.
func NewHandler(tts Synthesizer, player StreamPlayer, hub Broadcaster, lipSync LipSyncer, voice func() string, opts ...Option) *Handler {
	h := &Handler{
		tts:     tts,
		player:  player,
		hub:     hub,
		lipSync: lipSync,
		voice:   voice,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// subtitleFrame is the JSON shape broadcast to subtitle subscribers.
type subtitleFrame struct {
	Type    string  `json:"type"`
	Text    string  `json:"text"`
	TTSText string  `json:"tts_text"`
	Volume  float64 `json:"volume,omitempty"`
}

// finishedFrame closes out a spoken subtitle.
type finishedFrame struct {
	Type string `json:"type"`
}

// Run executes one say action. A say with synthesis text speaks it and
// gates the latch on audio start; a subtitle-only say waits for the latch
// (when present) and broadcasts its text.
func (h *Handler) Run(ctx context.Context, s action.Say, latch *action.Latch) error {
	if s.TTSText == "" {
		if latch != nil {
			if err := latch.Wait(ctx); err != nil {
				return err
			}
		}
		return h.broadcast(s)
	}
	return h.speak(ctx, s, latch)
}

func (h *Handler) speak(ctx context.Context, s action.Say, latch *action.Latch) error {
	if h.tts == nil {
		return errors.New("say: no synthesis backend configured")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	body, err := h.tts.Stream(ctx, h.voice(), s.TTSText)
	if err != nil {
		return fmt.Errorf("say: synthesize: %w", err)
	}
	defer body.Close()
	h.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())

	stream := h.player.PlayStream(ctx, body)

	// Lip-sync runs for as long as the loudness channel stays open; the
	// channel closes when the stream ends, so the controller always
	// terminates.
	lipSyncDone := make(chan error, 1)
	go func() {
		lipSyncDone <- h.lipSync.ExecuteOneShot(ctx, lipSyncController, stream.Loudness())
	}()

	select {
	case <-stream.Started():
	case <-stream.Finished():
		// Finished before any audio started: synthesis failed.
		<-lipSyncDone
		if err := stream.Err(); err != nil {
			return fmt.Errorf("say: %w: %w", ErrNoAudio, err)
		}
		return ErrNoAudio
	case <-ctx.Done():
		<-lipSyncDone
		return ctx.Err()
	}

	if latch != nil {
		latch.Set()
	}
	if err := h.broadcast(s); err != nil {
		slog.Warn("subtitle broadcast failed", "err", err)
	}

	select {
	case <-stream.Finished():
	case <-ctx.Done():
		<-lipSyncDone
		return ctx.Err()
	}
	if err := h.hub.BroadcastJSON(SubtitlePath, finishedFrame{Type: "finished"}); err != nil {
		slog.Warn("subtitle finish broadcast failed", "err", err)
	}
	if err := <-lipSyncDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("lip-sync ended with error", "err", err)
	}

	h.metrics.SayDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("spoken", "true")))
	return stream.Err()
}

func (h *Handler) broadcast(s action.Say) error {
	return h.hub.BroadcastJSON(SubtitlePath, subtitleFrame{
		Type:    "say",
		Text:    s.Text,
		TTSText: s.TTSText,
		Volume:  s.Volume,
	})
}
