package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/mdp/qrterminal/v3"
)

const (
	qrPollInterval = 2 * time.Second
	qrPollTimeout  = 3 * time.Minute
)

// ErrLoginExpired is returned when the QR login code expires before it is
// scanned.
var ErrLoginExpired = errors.New("chat: login QR code expired")

// Source delivers raw chat events. The channel closes when the connection
// is lost; the bridge reconnects by calling Connect again.
type Source interface {
	Connect(ctx context.Context) (<-chan Event, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithQRWriter redirects QR code rendering (default stderr).
func WithQRWriter(w io.Writer) ClientOption {
	return func(c *Client) { c.qrWriter = w }
}

// Client connects to the chat service over WebSocket, driving a QR login
// on the operator's terminal when no valid credentials are cached.
type Client struct {
	baseURL    string
	room       string
	creds      *CredentialStore
	httpClient *http.Client
	qrWriter   io.Writer
}

var _ Source = (*Client)(nil)

// NewClient creates a client for the chat service at baseURL (e.g.
// "http://localhost:8080"), joining the given room. Credentials persist
// through store.
func NewClient(baseURL, room string, store *CredentialStore, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		room:       room,
		creds:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		qrWriter:   os.Stderr,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect authenticates (reusing cached credentials when still valid) and
// opens the event stream for the room.
func (c *Client) Connect(ctx context.Context) (<-chan Event, error) {
	creds, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") +
		"/sub?room=" + url.QueryEscape(c.room) + "&token=" + url.QueryEscape(creds.Token)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: dial %s: %w", c.baseURL, err)
	}
	conn.SetReadLimit(-1)

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("chat connection lost", "room", c.room, "err", err)
				}
				return
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Debug("dropping malformed chat frame", "err", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// authenticate returns valid credentials, refreshing via QR login when the
// cached ones are absent or expiring.
func (c *Client) authenticate(ctx context.Context) (Credentials, error) {
	creds, err := c.creds.Load()
	if err != nil {
		slog.Warn("cannot load chat credentials, forcing login", "err", err)
	}
	if creds.Valid() {
		return creds, nil
	}

	creds, err = c.qrLogin(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if err := c.creds.Save(creds); err != nil {
		slog.Warn("cannot persist chat credentials", "err", err)
	}
	return creds, nil
}

type qrChallenge struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

type qrPollResponse struct {
	Status    string `json:"status"` // pending, ok, expired
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// qrLogin drives the interactive login: fetch a challenge, render its QR
// code on the operator's terminal, and poll until the scan is confirmed.
func (c *Client) qrLogin(ctx context.Context) (Credentials, error) {
	var challenge qrChallenge
	if err := c.getJSON(ctx, "/auth/qr", &challenge); err != nil {
		return Credentials{}, err
	}

	slog.Info("chat login required, scan the QR code", "room", c.room)
	qrterminal.GenerateHalfBlock(challenge.URL, qrterminal.L, c.qrWriter)

	deadline := time.Now().Add(qrPollTimeout)
	for time.Now().Before(deadline) {
		var poll qrPollResponse
		if err := c.getJSON(ctx, "/auth/qr/poll?key="+url.QueryEscape(challenge.Key), &poll); err != nil {
			return Credentials{}, err
		}
		switch poll.Status {
		case "ok":
			return Credentials{
				Token:     poll.Token,
				ExpiresAt: time.Unix(poll.ExpiresAt, 0),
			}, nil
		case "expired":
			return Credentials{}, ErrLoginExpired
		}

		timer := time.NewTimer(qrPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Credentials{}, ctx.Err()
		}
	}
	return Credentials{}, ErrLoginExpired
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat: GET %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat: decode %s response: %w", path, err)
	}
	return nil
}
