package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one raw frame from the chat service.
type Event struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

// Event kinds recognised by the bridge.
const (
	CmdDanmaku   = "danmaku"
	CmdInteract  = "interact"
	CmdSuperChat = "super_chat"
	CmdGift      = "gift"
)

type emote struct {
	Keyword string `json:"keyword"`
	URL     string `json:"url"`
}

type danmakuData struct {
	UID       int64   `json:"uid"`
	Username  string  `json:"uname"`
	Text      string  `json:"msg"`
	Timestamp int64   `json:"timestamp"`
	Emotes    []emote `json:"emots,omitempty"`
}

type interactData struct {
	UID       int64  `json:"uid"`
	Username  string `json:"uname"`
	Kind      int    `json:"msg_type"` // 1 entry, 2 follow, 3 share
	Timestamp int64  `json:"timestamp"`
}

type superChatData struct {
	UID       int64   `json:"uid"`
	Username  string  `json:"uname"`
	Message   string  `json:"message"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

type giftData struct {
	UID       int64  `json:"uid"`
	Username  string `json:"uname"`
	GiftName  string `json:"gift_name"`
	Count     int    `json:"num"`
	Timestamp int64  `json:"timestamp"`
}

// parseEvent maps a raw service event onto the uniform message record.
// Trigger flags for danmaku are assigned later by the batcher; system kinds
// carry their fixed trigger semantics here.
func parseEvent(room string, ev Event) (Message, error) {
	switch ev.Cmd {
	case CmdDanmaku:
		var d danmakuData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return Message{}, fmt.Errorf("chat: parse danmaku: %w", err)
		}
		text, urls := extractEmotes(d.Text, d.Emotes)
		return Message{
			Room:      room,
			UID:       d.UID,
			Username:  d.Username,
			Text:      text,
			Timestamp: time.Unix(d.Timestamp, 0),
			ImageURLs: urls,
		}, nil
	case CmdInteract:
		var d interactData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return Message{}, fmt.Errorf("chat: parse interact: %w", err)
		}
		return Message{
			Room:      room,
			UID:       d.UID,
			Username:  d.Username,
			Text:      interactText(d.Kind, d.Username),
			Timestamp: time.Unix(d.Timestamp, 0),
			IsSystem:  true,
		}, nil
	case CmdSuperChat:
		var d superChatData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return Message{}, fmt.Errorf("chat: parse super chat: %w", err)
		}
		return Message{
			Room:      room,
			UID:       d.UID,
			Username:  d.Username,
			Text:      fmt.Sprintf("[SC %.0f] %s", d.Price, d.Message),
			Timestamp: time.Unix(d.Timestamp, 0),
			IsSystem:  true,
			IsTrigger: true,
		}, nil
	case CmdGift:
		var d giftData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return Message{}, fmt.Errorf("chat: parse gift: %w", err)
		}
		return Message{
			Room:      room,
			UID:       d.UID,
			Username:  d.Username,
			Text:      fmt.Sprintf("%s sent %s x%d", d.Username, d.GiftName, d.Count),
			Timestamp: time.Unix(d.Timestamp, 0),
			IsSystem:  true,
			IsTrigger: true,
		}, nil
	default:
		return Message{}, fmt.Errorf("chat: unknown event %q", ev.Cmd)
	}
}

// extractEmotes strips inline emote keywords from text and collects their
// image URLs.
func extractEmotes(text string, emotes []emote) (string, []string) {
	if len(emotes) == 0 {
		return text, nil
	}
	var urls []string
	for _, e := range emotes {
		if e.Keyword == "" || !strings.Contains(text, e.Keyword) {
			continue
		}
		text = strings.ReplaceAll(text, e.Keyword, "")
		urls = append(urls, e.URL)
	}
	return strings.TrimSpace(text), urls
}

func interactText(kind int, username string) string {
	switch kind {
	case 1:
		return username + " entered the room"
	case 2:
		return username + " followed"
	case 3:
		return username + " shared the room"
	default:
		return username + " interacted"
	}
}
