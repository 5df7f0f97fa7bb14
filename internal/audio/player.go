package audio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/observe"
)

// Output is the playback device boundary. The default [RealtimeOutput]
// paces writes in real time without touching hardware; a production build
// points this at the host's audio pipeline.
type Output interface {
	// Play renders pcm in the given format and returns when playback ends
	// or ctx is cancelled.
	Play(ctx context.Context, f Format, pcm []byte) error
}

// RealtimeOutput consumes PCM at its natural rate. It is the stand-in
// device used when no platform output is wired up.
type RealtimeOutput struct{}

func (RealtimeOutput) Play(ctx context.Context, f Format, pcm []byte) error {
	bps := f.bytesPerSecond()
	if bps <= 0 || len(pcm) == 0 {
		return nil
	}
	d := time.Duration(float64(len(pcm)) / float64(bps) * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a [Player].
type Option func(*Player)

// WithOutput replaces the playback device.
func WithOutput(out Output) Option {
	return func(p *Player) { p.out = out }
}

// WithMaxChannels caps concurrent playback channels (default 30).
func WithMaxChannels(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.maxChannels = n
		}
	}
}

// WithVolume sets the default playback volume in [0, 1].
func WithVolume(v float64) Option {
	return func(p *Player) {
		if v >= 0 && v <= 1 {
			p.volume = v
		}
	}
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// Player is a polyphonic sound player. Sounds resolve against a base
// directory; each play occupies one channel, identified by a monotonically
// increasing id starting at 0. All methods are safe for concurrent use.
type Player struct {
	dir         string
	out         Output
	volume      float64
	maxChannels int
	metrics     *observe.Metrics

	mu      sync.Mutex
	nextID  int
	playing map[int]context.CancelFunc
}

// NewPlayer creates a player resolving sound names against dir.
func NewPlayer(dir string, opts ...Option) *Player {
	p := &Player{
		dir:         dir,
		out:         RealtimeOutput{},
		volume:      1,
		maxChannels: 30,
		metrics:     observe.DefaultMetrics(),
		playing:     make(map[int]context.CancelFunc),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PlayOptions tune a single playback.
type PlayOptions struct {
	// Volume overrides the player default when in (0, 1].
	Volume float64
	// Speed scales playback rate; 0 means 1.
	Speed float64
}

// Play starts sound on the next free channel and returns its play id.
// ok is false when the file is missing or undecodable, or every channel is
// busy; failures are logged, never raised.
func (p *Player) Play(sound string, opts PlayOptions) (id int, ok bool) {
	f, pcm, err := p.load(sound)
	if err != nil {
		slog.Warn("cannot play sound", "sound", sound, "err", err)
		return 0, false
	}

	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	pcm = resample16(pcm, f.Channels, speed)

	volume := p.volume
	if opts.Volume > 0 && opts.Volume <= 1 {
		volume = opts.Volume
	}
	applyVolume(pcm, volume)

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if len(p.playing) >= p.maxChannels {
		p.mu.Unlock()
		cancel()
		slog.Warn("all playback channels busy", "sound", sound, "channels", p.maxChannels)
		return 0, false
	}
	id = p.nextID
	p.nextID++
	p.playing[id] = cancel
	p.mu.Unlock()

	p.metrics.ActiveSounds.Add(ctx, 1)
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.playing, id)
			p.mu.Unlock()
			cancel()
			p.metrics.ActiveSounds.Add(context.Background(), -1)
		}()
		if err := p.out.Play(ctx, f, pcm); err != nil && ctx.Err() == nil {
			slog.Warn("sound playback failed", "sound", sound, "id", id, "err", err)
		}
	}()
	return id, true
}

// Stop stops the channel with the given play id, if it is still playing.
func (p *Player) Stop(id int) {
	p.mu.Lock()
	cancel, ok := p.playing[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll stops every playing channel.
func (p *Player) StopAll() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.playing))
	for _, c := range p.playing {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Active reports the number of occupied channels.
func (p *Player) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.playing)
}

// Duration reports how long sound would play at the given speed. Missing or
// undecodable files report zero with a log line.
func (p *Player) Duration(sound string, speed float64) time.Duration {
	f, pcm, err := p.load(sound)
	if err != nil {
		slog.Warn("cannot measure sound", "sound", sound, "err", err)
		return 0
	}
	if speed <= 0 {
		speed = 1
	}
	bps := f.bytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(len(pcm)) / float64(bps) / speed * float64(time.Second))
}

// List returns the names of every playable file in the sound directory.
func (p *Player) List() []string {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		slog.Warn("cannot list sound directory", "dir", p.dir, "err", err)
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".wav" {
			names = append(names, e.Name())
		}
	}
	return names
}

func (p *Player) load(sound string) (Format, []byte, error) {
	path := filepath.Join(p.dir, filepath.Base(sound))
	data, err := os.ReadFile(path)
	if err != nil {
		return Format{}, nil, err
	}
	return DecodeWAV(data)
}
