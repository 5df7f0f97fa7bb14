package say

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stagehand-live/stagehand/internal/action"
	"github.com/stagehand-live/stagehand/internal/audio"
)

// makeWAV builds a minimal mono 16-bit RIFF file around pcm.
func makeWAV(sampleRate int, pcm []byte) []byte {
	var buf bytes.Buffer
	write := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	buf.WriteString("RIFF")
	write(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1))
	write(uint16(1))
	write(uint32(sampleRate))
	write(uint32(sampleRate * 2))
	write(uint16(2))
	write(uint16(16))
	buf.WriteString("data")
	write(uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func loudPCM(sampleRate int, seconds float64) []byte {
	n := int(float64(sampleRate) * seconds)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(20000)
		if i%2 == 0 {
			v = -20000
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

type fakeTTS struct {
	body []byte
	err  error

	mu    sync.Mutex
	texts []string
}

func (f *fakeTTS) Stream(_ context.Context, _, text string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

type fakeHub struct {
	mu     sync.Mutex
	frames []any
	paths  []string
}

func (f *fakeHub) BroadcastJSON(path string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeHub) broadcasts() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

// fakeLipSync drains the loudness channel like the real controller.
type fakeLipSync struct {
	mu      sync.Mutex
	samples []float64
	calls   int
}

func (f *fakeLipSync) ExecuteOneShot(_ context.Context, _ string, args ...any) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	ch, ok := args[0].(<-chan float64)
	if !ok {
		return errors.New("unexpected args")
	}
	for v := range ch {
		f.mu.Lock()
		f.samples = append(f.samples, v)
		f.mu.Unlock()
	}
	return nil
}

type instantOutput struct{}

func (instantOutput) Play(context.Context, audio.Format, []byte) error { return nil }

func newHandler(t *testing.T, tts *fakeTTS) (*Handler, *fakeHub, *fakeLipSync) {
	t.Helper()
	hub := &fakeHub{}
	lip := &fakeLipSync{}
	player := audio.NewPlayer(t.TempDir(), audio.WithOutput(instantOutput{}))
	h := NewHandler(tts, player, hub, lip, func() string { return "mika" })
	return h, hub, lip
}

func TestRun_SubtitleOnly(t *testing.T) {
	t.Parallel()

	h, hub, lip := newHandler(t, &fakeTTS{})
	if err := h.Run(context.Background(), action.Say{Text: "caption"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	frames := hub.broadcasts()
	if len(frames) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(frames))
	}
	frame, ok := frames[0].(subtitleFrame)
	if !ok || frame.Type != "say" || frame.Text != "caption" {
		t.Errorf("frame = %+v", frames[0])
	}
	if lip.calls != 0 {
		t.Error("lip-sync ran for a subtitle-only say")
	}
}

func TestRun_SubtitleOnlyWaitsForLatch(t *testing.T) {
	t.Parallel()

	h, hub, _ := newHandler(t, &fakeTTS{})
	latch := action.NewLatch()

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background(), action.Say{Text: "caption"}, latch) }()

	select {
	case <-done:
		t.Fatal("subtitle broadcast before the latch was set")
	case <-time.After(80 * time.Millisecond):
	}
	if len(hub.broadcasts()) != 0 {
		t.Fatal("broadcast happened while the latch was unset")
	}

	latch.Set()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run never returned after the latch was set")
	}
	if len(hub.broadcasts()) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(hub.broadcasts()))
	}
}

func TestRun_SpeaksAndFinishes(t *testing.T) {
	t.Parallel()

	tts := &fakeTTS{body: makeWAV(22050, loudPCM(22050, 0.2))}
	h, hub, lip := newHandler(t, tts)
	latch := action.NewLatch()

	err := h.Run(context.Background(), action.Say{Text: "hello", TTSText: "hello there"}, latch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := latch.Wait(context.Background()); err != nil {
		t.Error("latch never set")
	}
	if tts.texts[0] != "hello there" {
		t.Errorf("synthesized %q", tts.texts[0])
	}

	frames := hub.broadcasts()
	if len(frames) != 2 {
		t.Fatalf("broadcasts = %d, want say + finished", len(frames))
	}
	if f, ok := frames[0].(subtitleFrame); !ok || f.Type != "say" || f.Text != "hello" {
		t.Errorf("first frame = %+v", frames[0])
	}
	if f, ok := frames[1].(finishedFrame); !ok || f.Type != "finished" {
		t.Errorf("second frame = %+v", frames[1])
	}

	lip.mu.Lock()
	defer lip.mu.Unlock()
	if lip.calls != 1 {
		t.Errorf("lip-sync calls = %d, want 1", lip.calls)
	}
	if len(lip.samples) == 0 {
		t.Error("lip-sync saw no loudness samples")
	}
}

func TestRun_GarbageAudioFailsWithoutBroadcast(t *testing.T) {
	t.Parallel()

	tts := &fakeTTS{body: []byte("definitely not a wav")}
	h, hub, _ := newHandler(t, tts)
	latch := action.NewLatch()

	err := h.Run(context.Background(), action.Say{Text: "hello", TTSText: "hello"}, latch)
	if !errors.Is(err, ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
	if len(hub.broadcasts()) != 0 {
		t.Error("broadcast despite failed synthesis")
	}

	// The latch must stay unset so sibling subtitles do not fire.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := latch.Wait(ctx); err == nil {
		t.Error("latch was set despite failed synthesis")
	}
}

func TestRun_SynthesizerError(t *testing.T) {
	t.Parallel()

	tts := &fakeTTS{err: errors.New("backend down")}
	h, hub, lip := newHandler(t, tts)

	if err := h.Run(context.Background(), action.Say{TTSText: "hi"}, nil); err == nil {
		t.Fatal("Run succeeded despite synthesis error")
	}
	if len(hub.broadcasts()) != 0 {
		t.Error("broadcast despite synthesis error")
	}
	if lip.calls != 0 {
		t.Error("lip-sync ran despite synthesis error")
	}
}
