package audio

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Stream is a speech playback in flight. Started fires when the first
// sample begins playing; Finished fires when the stream ends (also on
// failure, so Finished-before-Started signals that synthesis produced no
// audio). Loudness carries one sample per played chunk and closes at
// end-of-stream, which doubles as the lip-sync stop sentinel.
type Stream struct {
	started  chan struct{}
	finished chan struct{}
	loud     chan float64

	startedOnce  sync.Once
	finishedOnce sync.Once

	mu  sync.Mutex
	err error
}

func newStream() *Stream {
	return &Stream{
		started:  make(chan struct{}),
		finished: make(chan struct{}),
		// Size 1 with drop-oldest: lip-sync wants the freshest sample, not
		// a backlog.
		loud: make(chan float64, 1),
	}
}

// Started fires once the first audio sample is playing.
func (s *Stream) Started() <-chan struct{} { return s.started }

// Finished fires when playback ends for any reason.
func (s *Stream) Finished() <-chan struct{} { return s.finished }

// Loudness yields per-chunk loudness samples and closes at end-of-stream.
func (s *Stream) Loudness() <-chan float64 { return s.loud }

// Err reports the failure that ended the stream, if any. Valid after
// Finished fires.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) signalStarted() {
	s.startedOnce.Do(func() { close(s.started) })
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.finishedOnce.Do(func() {
		close(s.loud)
		close(s.finished)
	})
}

func (s *Stream) pushLoudness(v float64) {
	select {
	case s.loud <- v:
	default:
		// Drop the stale sample and retry once; a concurrent close cannot
		// happen before finish, which only runs after the last push.
		select {
		case <-s.loud:
		default:
		}
		select {
		case s.loud <- v:
		default:
		}
	}
}

// streamChunkSeconds is the chunk granularity of speech playback: 50 ms
// matches the lip-sync cadence.
const streamChunkSeconds = 0.05

// PlayStream decodes a WAV byte stream from r (typically a TTS response
// body) and plays it chunk by chunk, publishing loudness as it goes. It
// returns immediately; observe progress through the returned [Stream].
func (p *Player) PlayStream(ctx context.Context, r io.Reader) *Stream {
	s := newStream()
	go p.runStream(ctx, r, s)
	return s
}

func (p *Player) runStream(ctx context.Context, r io.Reader, s *Stream) {
	f, err := readWAVHeader(r)
	if err != nil {
		s.finish(err)
		return
	}

	chunkBytes := int(float64(f.bytesPerSecond()) * streamChunkSeconds)
	// Keep sample frames intact.
	frame := f.Channels * 2
	if frame > 0 {
		chunkBytes -= chunkBytes % frame
	}
	if chunkBytes <= 0 {
		s.finish(errors.New("audio: degenerate stream format"))
		return
	}

	buf := make([]byte, chunkBytes)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			applyVolume(chunk, p.volume)
			s.pushLoudness(Loudness(chunk))
			s.signalStarted()
			if err := p.out.Play(ctx, f, chunk); err != nil {
				s.finish(err)
				return
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				s.finish(nil)
			} else {
				s.finish(readErr)
			}
			return
		}
		if ctx.Err() != nil {
			s.finish(ctx.Err())
			return
		}
	}
}
