package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stagehand-live/stagehand/internal/audio"
	"github.com/stagehand-live/stagehand/internal/tween"
	"github.com/stagehand-live/stagehand/pkg/vts"
)

type nullSink struct{}

func (nullSink) InjectParameters(context.Context, []vts.ParameterValue, string) error { return nil }

type fakeTweener struct {
	mu   sync.Mutex
	reqs []tween.Request
	err  error
}

func (f *fakeTweener) Tween(_ context.Context, req tween.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

func (f *fakeTweener) requests() []tween.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tween.Request(nil), f.reqs...)
}

type exprCall struct {
	file   string
	active bool
}

type fakeExprs struct {
	mu    sync.Mutex
	calls []exprCall
}

func (f *fakeExprs) SetExpression(_ context.Context, file string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, exprCall{file, active})
	return nil
}

type fakeSounds struct {
	mu      sync.Mutex
	played  []string
	stopped []int
	nextID  int
	refuse  bool
}

func (f *fakeSounds) Play(sound string, _ audio.PlayOptions) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return 0, false
	}
	id := f.nextID
	f.nextID++
	f.played = append(f.played, sound)
	return id, true
}

func (f *fakeSounds) Stop(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
}

// fakeSay records run order and exercises the latch the way the real
// handler does: a speaking say sets it, a subtitle-only say waits on it.
type fakeSay struct {
	mu      sync.Mutex
	order   []string
	speakIn time.Duration
}

func (f *fakeSay) Run(ctx context.Context, s Say, latch *Latch) error {
	if s.TTSText != "" {
		if f.speakIn > 0 {
			time.Sleep(f.speakIn)
		}
		if latch != nil {
			latch.Set()
		}
		f.record("spoken:" + s.Text)
		return nil
	}
	if latch != nil {
		if err := latch.Wait(ctx); err != nil {
			return err
		}
	}
	f.record("subtitle:" + s.Text)
	return nil
}

func (f *fakeSay) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, s)
}

func (f *fakeSay) runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// ── Add ──────────────────────────────────────────────────────────────────────

func TestAdd_Estimates(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&fakeTweener{}, &fakeExprs{}, &fakeSounds{}, &fakeSay{})

	if got := s.Add(Animation{Parameter: "P", Duration: time.Second, Delay: 500 * time.Millisecond}); got != 1500*time.Millisecond {
		t.Errorf("animation estimate = %v", got)
	}
	if got := s.Add(Expression{Name: "wink", Duration: 2 * time.Second}); got != 2*time.Second {
		t.Errorf("expression estimate = %v", got)
	}
	if got := s.Add(SoundPlay{Path: "ding.wav", Duration: 300 * time.Millisecond, Delay: 100 * time.Millisecond}); got != 400*time.Millisecond {
		t.Errorf("sound estimate = %v", got)
	}
	if got := s.Add(Say{Text: "hi", TTSText: "hi"}); got != 0 {
		t.Errorf("say estimate = %v, want 0", got)
	}
	if s.Pending() != 4 {
		t.Errorf("Pending = %d, want 4", s.Pending())
	}
}

// ── Execute ──────────────────────────────────────────────────────────────────

func TestExecute_ClearsQueueAndLoops(t *testing.T) {
	t.Parallel()

	tw := &fakeTweener{}
	s := NewScheduler(tw, nil, nil, nil)
	s.Add(Animation{Parameter: "P", Target: 1})

	if err := s.Execute(context.Background(), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := len(tw.requests()); got != 2 {
		t.Errorf("tween count = %d, want 2 (loop=1 runs twice)", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d after Execute, want 0", s.Pending())
	}

	// Second Execute has nothing left to run.
	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := len(tw.requests()); got != 2 {
		t.Errorf("tween count = %d after empty Execute, want 2", got)
	}
}

func TestExecute_DelayOrdersActions(t *testing.T) {
	t.Parallel()

	tw := &fakeTweener{}
	s := NewScheduler(tw, nil, nil, nil)
	s.Add(Animation{Parameter: "late", Target: 1, Delay: 80 * time.Millisecond})
	s.Add(Animation{Parameter: "early", Target: 1})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	reqs := tw.requests()
	if len(reqs) != 2 {
		t.Fatalf("tween count = %d", len(reqs))
	}
	if reqs[0].Param != "early" || reqs[1].Param != "late" {
		t.Errorf("dispatch order = %s, %s; want early, late", reqs[0].Param, reqs[1].Param)
	}
}

func TestExecute_FailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	tw := &fakeTweener{err: errors.New("boom")}
	sounds := &fakeSounds{}
	s := NewScheduler(tw, nil, sounds, nil)
	s.Add(Animation{Parameter: "P", Target: 1})
	s.Add(SoundPlay{Path: "ding.wav", Delay: 20 * time.Millisecond})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sounds.played) != 1 {
		t.Errorf("sound did not play after sibling failure")
	}
}

func TestExecute_AnimationPriorityFloor(t *testing.T) {
	t.Parallel()

	tw := &fakeTweener{}
	s := NewScheduler(tw, nil, nil, nil)
	s.Add(Animation{Parameter: "P", Target: 1, Priority: 0})
	s.Add(Animation{Parameter: "Q", Target: 1, Priority: 4})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, req := range tw.requests() {
		switch req.Param {
		case "P":
			if req.Priority != 1 {
				t.Errorf("priority 0 dispatched as %d, want 1", req.Priority)
			}
		case "Q":
			if req.Priority != 4 {
				t.Errorf("priority 4 dispatched as %d", req.Priority)
			}
		}
	}
}

func TestExecute_DefaultPriorityDisplacesIdleMotion(t *testing.T) {
	t.Parallel()

	tw := tween.New(nullSink{}, tween.WithKeepAliveInterval(time.Hour))
	t.Cleanup(tw.Close)

	// An ambient controller holds the parameter at priority 0, mid-tween.
	idleDone := make(chan struct{})
	go func() {
		defer close(idleDone)
		_ = tw.Tween(context.Background(), tween.Request{
			Param:    "MouthOpen",
			End:      1,
			Duration: 5 * time.Second,
			Priority: 0,
		})
	}()
	deadline := time.Now().Add(time.Second)
	for {
		if _, held := tw.Value("MouthOpen"); held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle tween never started writing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A default-priority animation is floored to 1 and must win.
	s := NewScheduler(tw, nil, nil, nil)
	s.Add(Animation{Parameter: "MouthOpen", Target: -1, Duration: 50 * time.Millisecond})
	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case <-idleDone:
	case <-time.After(time.Second):
		t.Fatal("idle tween was not displaced")
	}
	if v, _ := tw.Value("MouthOpen"); v != -1 {
		t.Errorf("final value = %g, want -1 (queued animation lost to idle motion)", v)
	}
}

func TestExecute_ExpressionDeactivatesAfterDuration(t *testing.T) {
	t.Parallel()

	exprs := &fakeExprs{}
	s := NewScheduler(nil, exprs, nil, nil)
	s.Add(Expression{Name: "wink", Duration: 30 * time.Millisecond})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []exprCall{{"wink", true}, {"wink", false}}
	if len(exprs.calls) != 2 || exprs.calls[0] != want[0] || exprs.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", exprs.calls, want)
	}
}

func TestExecute_ExpressionWithoutDurationStaysActive(t *testing.T) {
	t.Parallel()

	exprs := &fakeExprs{}
	s := NewScheduler(nil, exprs, nil, nil)
	s.Add(Expression{Name: "glasses"})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(exprs.calls) != 1 || !exprs.calls[0].active {
		t.Errorf("calls = %v, want one activation", exprs.calls)
	}
}

func TestExecute_SoundDurationStopsPlayback(t *testing.T) {
	t.Parallel()

	sounds := &fakeSounds{}
	s := NewScheduler(nil, nil, sounds, nil)
	s.Add(SoundPlay{Path: "long.wav", Duration: 20 * time.Millisecond})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sounds.mu.Lock()
		n := len(sounds.stopped)
		sounds.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("sound never stopped after its duration")
}

func TestExecute_SubtitleWaitsForSpeech(t *testing.T) {
	t.Parallel()

	say := &fakeSay{speakIn: 60 * time.Millisecond}
	s := NewScheduler(nil, nil, nil, say)
	s.Add(Say{Text: "caption"})
	s.Add(Say{Text: "line", TTSText: "line"})

	if err := s.Execute(context.Background(), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	runs := say.runs()
	if len(runs) != 2 || runs[0] != "spoken:line" || runs[1] != "subtitle:caption" {
		t.Errorf("run order = %v, want spoken before subtitle", runs)
	}
}

func TestExecute_NoLatchWithoutSpeech(t *testing.T) {
	t.Parallel()

	// A subtitle-only batch must not wait on a latch nobody will set.
	say := &fakeSay{}
	s := NewScheduler(nil, nil, nil, say)
	s.Add(Say{Text: "caption"})

	done := make(chan error, 1)
	go func() { done <- s.Execute(context.Background(), 0) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute hung on a latch that cannot be set")
	}
}

func TestExecute_CancelAborts(t *testing.T) {
	t.Parallel()

	tw := &fakeTweener{}
	s := NewScheduler(tw, nil, nil, nil)
	s.Add(Animation{Parameter: "P", Target: 1, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Execute(ctx, 0) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
	if len(tw.requests()) != 0 {
		t.Error("cancelled action still dispatched")
	}
}

func TestLatch_SetIsIdempotent(t *testing.T) {
	t.Parallel()

	l := NewLatch()
	l.Set()
	l.Set()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
