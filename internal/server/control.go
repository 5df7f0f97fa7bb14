package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stagehand-live/stagehand/internal/action"
)

// controlFrame is the superset of fields a control message may carry; the
// type discriminator selects which ones apply.
type controlFrame struct {
	Type string `json:"type"`

	// say
	Text    string  `json:"text"`
	TTSText string  `json:"tts_text"`
	Volume  float64 `json:"volume"`

	// animation
	Parameter string   `json:"parameter"`
	From      *float64 `json:"from"`
	Target    float64  `json:"target"`
	Easing    string   `json:"easing"`
	Priority  int      `json:"priority"`

	// expression / play_preformed_animation
	Name string `json:"name"`

	// sound_play
	Path  string  `json:"path"`
	Speed float64 `json:"speed"`

	// shared timing, in seconds
	Duration float64 `json:"duration"`
	Delay    float64 `json:"delay"`

	// execute
	Loop int `json:"loop"`

	// play_preformed_animation
	Params map[string]any `json:"params"`
}

// controlReply is the uniform reply shape of the control socket.
type controlReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func successReply(message string, data any) controlReply {
	return controlReply{Status: "success", Message: message, Data: data}
}

func errorReply(message string) controlReply {
	return controlReply{Status: "error", Message: message}
}

// handleControl serves one control connection: read a JSON frame, dispatch,
// reply. Validation failures reply with an error frame and keep the
// connection open.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Connection id correlates log lines across concurrent control clients.
	connID := uuid.NewString()
	slog.Debug("control client connected", "conn", connID, "remote", r.RemoteAddr)

	// Replies and any concurrent use share one writer.
	var writeMu sync.Mutex
	reply := func(rep controlReply) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(rep); err != nil {
			slog.Debug("control reply failed", "err", err)
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("control client disconnected", "conn", connID)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			reply(errorReply("malformed frame: " + err.Error()))
			continue
		}
		reply(s.dispatch(frame))
	}
}

func (s *Server) dispatch(frame controlFrame) controlReply {
	switch frame.Type {
	case "say":
		return s.handleSay(frame)
	case "animation":
		return s.handleAnimation(frame)
	case "expression":
		return s.handleExpression(frame)
	case "sound_play":
		return s.handleSoundPlay(frame)
	case "execute":
		return s.handleExecute(frame)
	case "list_preformed_animations":
		return s.handleListTemplates()
	case "play_preformed_animation":
		return s.handlePlayTemplate(frame)
	case "get_expressions":
		return s.handleGetExpressions()
	case "get_sounds":
		return s.handleGetSounds()
	case "":
		return errorReply("frame has no type")
	default:
		return errorReply(fmt.Sprintf("unknown action type %q", frame.Type))
	}
}

func (s *Server) handleSay(frame controlFrame) controlReply {
	if frame.Text == "" && frame.TTSText == "" {
		return errorReply("say requires text or tts_text")
	}
	if frame.Volume < 0 || frame.Volume > 1 {
		return errorReply("volume must be within [0, 1]")
	}
	s.sched.Add(action.Say{Text: frame.Text, TTSText: frame.TTSText, Volume: frame.Volume})
	return successReply("say queued", map[string]any{"duration": 0.0})
}

func (s *Server) handleAnimation(frame controlFrame) controlReply {
	if frame.Parameter == "" {
		return errorReply("animation requires a parameter")
	}
	if frame.Duration < 0 {
		return errorReply("duration must not be negative")
	}
	if frame.Delay < 0 {
		return errorReply("delay must not be negative")
	}
	estimate := s.sched.Add(action.Animation{
		Parameter: frame.Parameter,
		From:      frame.From,
		Target:    frame.Target,
		Duration:  seconds(frame.Duration),
		Delay:     seconds(frame.Delay),
		Easing:    frame.Easing,
		Priority:  frame.Priority,
	})
	return successReply("animation queued", map[string]any{"duration": estimate.Seconds()})
}

func (s *Server) handleExpression(frame controlFrame) controlReply {
	if frame.Name == "" {
		return errorReply("expression requires a name")
	}
	if frame.Duration < 0 || frame.Delay < 0 {
		return errorReply("duration and delay must not be negative")
	}
	estimate := s.sched.Add(action.Expression{
		Name:     frame.Name,
		Duration: seconds(frame.Duration),
		Delay:    seconds(frame.Delay),
	})
	return successReply("expression queued", map[string]any{"duration": estimate.Seconds()})
}

func (s *Server) handleSoundPlay(frame controlFrame) controlReply {
	if frame.Path == "" {
		return errorReply("sound_play requires a path")
	}
	if frame.Volume < 0 || frame.Volume > 1 {
		return errorReply("volume must be within [0, 1]")
	}
	if frame.Speed <= 0 {
		return errorReply("speed must be positive")
	}
	if frame.Delay < 0 {
		return errorReply("delay must not be negative")
	}
	estimate := s.sched.Add(action.SoundPlay{
		Path:     frame.Path,
		Duration: seconds(frame.Duration),
		Volume:   frame.Volume,
		Speed:    frame.Speed,
		Delay:    seconds(frame.Delay),
	})
	return successReply("sound queued", map[string]any{"duration": estimate.Seconds()})
}

func (s *Server) handleExecute(frame controlFrame) controlReply {
	if frame.Loop < 0 {
		return errorReply("loop must not be negative")
	}
	// The batch runs in the background under the process context so slow
	// batches do not block the control socket.
	go func(loop int) {
		if err := s.sched.Execute(s.baseCtx, loop); err != nil {
			slog.Warn("batch execution ended early", "err", err)
		}
	}(frame.Loop)
	return successReply("batch started", nil)
}

func (s *Server) handleListTemplates() controlReply {
	infos, err := s.templates.List()
	if err != nil {
		return errorReply("cannot list animations: " + err.Error())
	}
	return successReply("animations listed", map[string]any{"animations": infos})
}

func (s *Server) handlePlayTemplate(frame controlFrame) controlReply {
	if frame.Name == "" {
		return errorReply("play_preformed_animation requires a name")
	}
	if frame.Delay < 0 {
		return errorReply("delay must not be negative")
	}
	completion, err := s.templates.Play(frame.Name, frame.Params, seconds(frame.Delay), s.sched)
	if err != nil {
		slog.Warn("template expansion failed", "name", frame.Name, "err", err)
		return controlReply{
			Status:  "error",
			Message: err.Error(),
			Data:    map[string]any{"duration": 0.0},
		}
	}
	return successReply("animation queued", map[string]any{"duration": completion.Seconds()})
}

func (s *Server) handleGetExpressions() controlReply {
	exprs, err := s.avatar.Expressions(s.baseCtx)
	if err != nil {
		return errorReply("cannot list expressions: " + err.Error())
	}
	return successReply("expressions listed", map[string]any{"expressions": exprs})
}

type soundInfo struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
}

func (s *Server) handleGetSounds() controlReply {
	names := s.sounds.List()
	infos := make([]soundInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, soundInfo{
			Name:     name,
			Duration: s.sounds.Duration(name, 1).Seconds(),
		})
	}
	return successReply("sounds listed", map[string]any{"sounds": infos})
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
