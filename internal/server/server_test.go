package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stagehand-live/stagehand/internal/action"
	"github.com/stagehand-live/stagehand/internal/hub"
	"github.com/stagehand-live/stagehand/internal/template"
	"github.com/stagehand-live/stagehand/pkg/vts"
)

type fakeScheduler struct {
	mu       sync.Mutex
	added    []action.Action
	executed []int
}

func (f *fakeScheduler) Add(a action.Action) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a)
	switch v := a.(type) {
	case action.Animation:
		return v.Delay + v.Duration
	default:
		return 0
	}
}

func (f *fakeScheduler) Execute(_ context.Context, loop int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, loop)
	return nil
}

func (f *fakeScheduler) actions() []action.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]action.Action(nil), f.added...)
}

type fakeTemplates struct {
	infos   []template.Info
	playErr error
	played  []string
}

func (f *fakeTemplates) List() ([]template.Info, error) { return f.infos, nil }

func (f *fakeTemplates) Play(name string, _ map[string]any, _ time.Duration, _ template.ActionAdder) (time.Duration, error) {
	if f.playErr != nil {
		return 0, f.playErr
	}
	f.played = append(f.played, name)
	return 1500 * time.Millisecond, nil
}

type fakeSounds struct{ names []string }

func (f *fakeSounds) List() []string { return f.names }

func (f *fakeSounds) Duration(string, float64) time.Duration { return 1200 * time.Millisecond }

type fakeAvatar struct {
	exprs []vts.Expression
	err   error
}

func (f *fakeAvatar) Expressions(context.Context) ([]vts.Expression, error) {
	return f.exprs, f.err
}

type fixture struct {
	sched  *fakeScheduler
	tmpl   *fakeTemplates
	hub    *hub.Hub
	url    string
	server *Server
}

func startServer(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched: &fakeScheduler{},
		tmpl:  &fakeTemplates{infos: []template.Info{{Name: "nod"}}},
		hub:   hub.New(),
	}
	f.server = New(context.Background(), f.sched, f.tmpl,
		&fakeSounds{names: []string{"ding.wav"}},
		&fakeAvatar{exprs: []vts.Expression{{Name: "Smile", File: "smile.exp3.json"}}},
		f.hub)
	srv := httptest.NewServer(f.server.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(f.hub.CloseAll)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

func dialControl(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url+ControlPath, nil)
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) controlReply {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var rep controlReply
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("parse reply %q: %v", data, err)
	}
	return rep
}

func TestControl_AnimationQueued(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn := dialControl(t, f)

	rep := roundTrip(t, conn, `{"type":"animation","parameter":"FaceAngleX","target":10,"duration":2,"delay":0.5,"easing":"in_out_sine","priority":2}`)
	if rep.Status != "success" {
		t.Fatalf("reply = %+v", rep)
	}
	data := rep.Data.(map[string]any)
	if data["duration"] != 2.5 {
		t.Errorf("duration estimate = %v, want 2.5", data["duration"])
	}

	acts := f.sched.actions()
	if len(acts) != 1 {
		t.Fatalf("queued = %d actions", len(acts))
	}
	anim := acts[0].(action.Animation)
	if anim.Parameter != "FaceAngleX" || anim.Target != 10 || anim.Duration != 2*time.Second ||
		anim.Easing != "in_out_sine" || anim.Priority != 2 {
		t.Errorf("queued animation = %+v", anim)
	}
}

func TestControl_MalformedFrameKeepsConnection(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn := dialControl(t, f)

	rep := roundTrip(t, conn, `{"type": oops`)
	if rep.Status != "error" {
		t.Fatalf("reply = %+v, want error", rep)
	}

	// The connection must survive the bad frame.
	rep = roundTrip(t, conn, `{"type":"say","text":"still alive"}`)
	if rep.Status != "success" {
		t.Errorf("follow-up reply = %+v", rep)
	}
}

func TestControl_Validation(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn := dialControl(t, f)

	cases := []string{
		`{"type":"unknown_thing"}`,
		`{"text":"typeless"}`,
		`{"type":"say"}`,
		`{"type":"say","text":"x","volume":2}`,
		`{"type":"animation","target":1,"duration":1}`,
		`{"type":"animation","parameter":"P","target":1,"duration":-1}`,
		`{"type":"expression"}`,
		`{"type":"sound_play"}`,
		`{"type":"sound_play","path":"a.wav","volume":3,"speed":1}`,
		`{"type":"sound_play","path":"a.wav","speed":0}`,
		`{"type":"sound_play","path":"a.wav","speed":-1}`,
		`{"type":"execute","loop":-1}`,
		`{"type":"play_preformed_animation"}`,
	}
	for _, frame := range cases {
		if rep := roundTrip(t, conn, frame); rep.Status != "error" {
			t.Errorf("frame %s: reply = %+v, want error", frame, rep)
		}
	}
	if got := len(f.sched.actions()); got != 0 {
		t.Errorf("invalid frames queued %d actions", got)
	}
}

func TestControl_ExecuteRunsBatch(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn := dialControl(t, f)

	rep := roundTrip(t, conn, `{"type":"execute","loop":2}`)
	if rep.Status != "success" {
		t.Fatalf("reply = %+v", rep)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.sched.mu.Lock()
		n := len(f.sched.executed)
		f.sched.mu.Unlock()
		if n == 1 {
			f.sched.mu.Lock()
			loop := f.sched.executed[0]
			f.sched.mu.Unlock()
			if loop != 2 {
				t.Errorf("loop = %d, want 2", loop)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Execute never ran")
}

func TestControl_ListAndQueries(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn := dialControl(t, f)

	rep := roundTrip(t, conn, `{"type":"list_preformed_animations"}`)
	if rep.Status != "success" {
		t.Fatalf("list reply = %+v", rep)
	}
	if !strings.Contains(mustJSON(t, rep.Data), "nod") {
		t.Errorf("animations data = %v", rep.Data)
	}

	rep = roundTrip(t, conn, `{"type":"get_sounds"}`)
	if !strings.Contains(mustJSON(t, rep.Data), "ding.wav") {
		t.Errorf("sounds data = %v", rep.Data)
	}

	rep = roundTrip(t, conn, `{"type":"get_expressions"}`)
	if !strings.Contains(mustJSON(t, rep.Data), "Smile") {
		t.Errorf("expressions data = %v", rep.Data)
	}
}

func TestControl_PlayTemplate(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn := dialControl(t, f)

	rep := roundTrip(t, conn, `{"type":"play_preformed_animation","name":"nod","params":{"depth":5}}`)
	if rep.Status != "success" {
		t.Fatalf("reply = %+v", rep)
	}
	if data := rep.Data.(map[string]any); data["duration"] != 1.5 {
		t.Errorf("duration = %v, want 1.5", data["duration"])
	}
	if len(f.tmpl.played) != 1 || f.tmpl.played[0] != "nod" {
		t.Errorf("played = %v", f.tmpl.played)
	}
}

func TestControl_PlayTemplateFailureReportsZeroDuration(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	f.tmpl.playErr = errors.New("missing required parameter")
	conn := dialControl(t, f)

	rep := roundTrip(t, conn, `{"type":"play_preformed_animation","name":"nod"}`)
	if rep.Status != "error" {
		t.Fatalf("reply = %+v, want error", rep)
	}
	if data := rep.Data.(map[string]any); data["duration"] != 0.0 {
		t.Errorf("duration = %v, want 0", data["duration"])
	}
}

func TestSubtitleSocketReceivesBroadcasts(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.url+"/ws/subtitles", nil)
	if err != nil {
		t.Fatalf("dial subtitles: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for f.hub.Count("/ws/subtitles") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f.hub.Broadcast("/ws/subtitles", []byte(`{"type":"finished"}`))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"type":"finished"}` {
		t.Errorf("got %q", data)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := startServer(t)
	resp, err := http.Get("http" + strings.TrimPrefix(f.url, "ws") + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
