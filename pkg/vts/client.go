// Package vts implements a client for the avatar host's JSON-over-WebSocket
// public API (the VTube-Studio-style parameter injection protocol).
//
// The client is a request/response correspondent over one websocket: every
// outbound request carries a fresh request ID, a pending-request table maps
// IDs to one-shot completion slots, and a background receive loop completes
// slots, dispatches subscribed events, and fails everything with
// [ErrConnectionClosed] when the socket drops. Typed methods wrap each API
// operation the server uses.
package vts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultRequestTimeout = 30 * time.Second

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithRequestTimeout overrides the per-request deadline (default 30 s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithPluginIcon sets the base64 PNG icon sent with the token request.
func WithPluginIcon(icon string) Option {
	return func(c *Client) { c.pluginIcon = icon }
}

// Client talks to the avatar host. Create one with [New], open the socket
// with [Client.Connect], then call [Client.Authenticate]. All exported
// methods are safe for concurrent use.
type Client struct {
	endpoint        string
	pluginName      string
	pluginDeveloper string
	pluginIcon      string
	requestTimeout  time.Duration

	// writeMu serialises socket writes and guards the pending table; the
	// host answers by request ID so one lock covers both.
	writeMu sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan pendingResult

	handlerMu sync.RWMutex
	handlers  map[string][]EventHandler

	stateMu   sync.Mutex
	token     string
	connected bool

	recvCancel context.CancelFunc
	recvDone   chan struct{}
}

type pendingResult struct {
	data json.RawMessage
	err  error
}

// New creates a client for the host at endpoint (e.g. "ws://127.0.0.1:8001").
// pluginName and pluginDeveloper identify this plugin to the host's approval
// dialog.
func New(endpoint, pluginName, pluginDeveloper string, opts ...Option) *Client {
	c := &Client{
		endpoint:        endpoint,
		pluginName:      pluginName,
		pluginDeveloper: pluginDeveloper,
		requestTimeout:  defaultRequestTimeout,
		pending:         make(map[string]chan pendingResult),
		handlers:        make(map[string][]EventHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials the host and starts the background receive loop. It does not
// authenticate; call [Client.Authenticate] next. Connect on an already
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.connected {
		c.stateMu.Unlock()
		return nil
	}
	c.stateMu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("vts: dial %s: %w", c.endpoint, err)
	}
	// The host streams parameter data continuously; never limit frame size.
	conn.SetReadLimit(-1)

	recvCtx, cancel := context.WithCancel(context.Background())

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.stateMu.Lock()
	c.connected = true
	c.stateMu.Unlock()

	c.recvCancel = cancel
	c.recvDone = make(chan struct{})
	go c.receiveLoop(recvCtx, conn)

	return nil
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connected
}

// Token returns the cached authentication token, if any. Preserved across
// disconnects so a reconnect can skip the approval prompt.
func (c *Client) Token() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.token
}

// Close cancels the receive loop and closes the socket. Pending requests fail
// with [ErrConnectionClosed].
func (c *Client) Close() error {
	if c.recvCancel != nil {
		c.recvCancel()
	}

	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	if c.recvDone != nil {
		<-c.recvDone
	}
	return nil
}

// ── Authentication ───────────────────────────────────────────────────────────

// Authenticate performs the host's session authentication flow:
//
//  1. Query API state; if the session is already authenticated, succeed.
//  2. If token is empty and no token is cached, request one (the host may
//     prompt the operator for approval).
//  3. Submit the authentication request with the token.
//
// It returns true when the session is authenticated, false when the host
// rejected the token (also wrapped in [ErrAuthenticationFailed]). Transport
// failures surface as their typed errors.
func (c *Client) Authenticate(ctx context.Context, token string) (bool, error) {
	state, err := c.APIState(ctx)
	if err != nil {
		return false, err
	}
	if state.CurrentSessionAuthenticated {
		return true, nil
	}

	if token == "" {
		token = c.Token()
	}
	if token == "" {
		var resp authTokenResponse
		err := c.request(ctx, "AuthenticationTokenRequest", authTokenRequest{
			PluginName:      c.pluginName,
			PluginDeveloper: c.pluginDeveloper,
			PluginIcon:      c.pluginIcon,
		}, &resp)
		if err != nil {
			return false, err
		}
		token = resp.AuthenticationToken
	}

	var resp authResponse
	err = c.request(ctx, "AuthenticationRequest", authRequest{
		PluginName:          c.pluginName,
		PluginDeveloper:     c.pluginDeveloper,
		AuthenticationToken: token,
	}, &resp)
	if err != nil {
		return false, err
	}
	if !resp.Authenticated {
		slog.Warn("avatar host rejected authentication", "reason", resp.Reason)
		return false, fmt.Errorf("%w: %s", ErrAuthenticationFailed, resp.Reason)
	}

	c.stateMu.Lock()
	c.token = token
	c.stateMu.Unlock()
	return true, nil
}

// ── Request plumbing ─────────────────────────────────────────────────────────

// request sends one API request and decodes the response data into out
// (which may be nil when the caller only cares about success).
func (c *Client) request(ctx context.Context, messageType string, data, out any) error {
	id := uuid.NewString()

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("vts: marshal %s: %w", messageType, err)
		}
		raw = encoded
	}

	frame, err := json.Marshal(envelope{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   id,
		MessageType: messageType,
		Data:        raw,
	})
	if err != nil {
		return fmt.Errorf("vts: marshal envelope: %w", err)
	}

	slot := make(chan pendingResult, 1)

	c.writeMu.Lock()
	conn := c.conn
	if conn == nil {
		c.writeMu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[id] = slot
	writeErr := conn.Write(ctx, websocket.MessageText, frame)
	c.writeMu.Unlock()

	if writeErr != nil {
		c.removePending(id)
		return fmt.Errorf("vts: write %s: %w", messageType, ErrConnectionClosed)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		if res.err != nil {
			return res.err
		}
		if out != nil {
			if err := json.Unmarshal(res.data, out); err != nil {
				return fmt.Errorf("vts: decode %s response: %w", messageType, err)
			}
		}
		return nil
	case <-timer.C:
		c.removePending(id)
		return fmt.Errorf("vts: %s: %w", messageType, ErrResponseTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return ctx.Err()
	}
}

func (c *Client) removePending(id string) {
	c.writeMu.Lock()
	delete(c.pending, id)
	c.writeMu.Unlock()
}

// receiveLoop reads frames until the socket closes, completing pending slots
// and dispatching subscribed events. On exit every pending request fails with
// ErrConnectionClosed and the client is marked disconnected.
func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.recvDone)
	defer c.failAllPending()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("avatar host connection lost", "err", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("dropping undecodable frame from avatar host", "err", err)
			continue
		}

		if env.RequestID != "" {
			if slot, ok := c.takePending(env.RequestID); ok {
				slot <- c.resultFor(&env)
				continue
			}
		}

		if c.dispatchEvent(&env) {
			continue
		}

		slog.Debug("dropping unexpected frame from avatar host",
			"message_type", env.MessageType, "request_id", env.RequestID)
	}
}

func (c *Client) takePending(id string) (chan pendingResult, bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	slot, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return slot, ok
}

func (c *Client) resultFor(env *envelope) pendingResult {
	if env.MessageType == messageTypeAPIError {
		var detail apiErrorData
		if err := json.Unmarshal(env.Data, &detail); err != nil {
			return pendingResult{err: fmt.Errorf("vts: undecodable api error: %w", err)}
		}
		return pendingResult{err: &APIError{ID: detail.ErrorID, Message: detail.Message}}
	}
	return pendingResult{data: env.Data}
}

func (c *Client) failAllPending() {
	c.writeMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan pendingResult)
	c.conn = nil
	c.writeMu.Unlock()

	c.stateMu.Lock()
	c.connected = false
	c.stateMu.Unlock()

	for _, slot := range pending {
		slot <- pendingResult{err: ErrConnectionClosed}
	}
}

// dispatchEvent runs the registered handlers for an event frame. Handlers run
// concurrently with the receive loop. Returns false when no handler is
// registered for the message type.
func (c *Client) dispatchEvent(env *envelope) bool {
	c.handlerMu.RLock()
	handlers := c.handlers[env.MessageType]
	c.handlerMu.RUnlock()

	if len(handlers) == 0 {
		return false
	}
	ev := Event{Type: env.MessageType, Data: env.Data}
	for _, h := range handlers {
		go h(ev)
	}
	return true
}

// OnEvent registers a handler for the given event message type (e.g.
// "ModelLoadedEvent"). Register before calling [Client.SubscribeEvent].
func (c *Client) OnEvent(eventType string, h EventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// ── Typed operations ─────────────────────────────────────────────────────────

// APIState queries the host's API status for this session.
func (c *Client) APIState(ctx context.Context) (*APIState, error) {
	var out APIState
	if err := c.request(ctx, "APIStateRequest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Statistics fetches the host's runtime statistics.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	var out Statistics
	if err := c.request(ctx, "StatisticsRequest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FolderInfo fetches the host's content directory names.
func (c *Client) FolderInfo(ctx context.Context) (*FolderInfo, error) {
	var out FolderInfo
	if err := c.request(ctx, "VTSFolderInfoRequest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentModel reports the model currently loaded in the host.
func (c *Client) CurrentModel(ctx context.Context) (*CurrentModel, error) {
	var out CurrentModel
	if err := c.request(ctx, "CurrentModelRequest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AvailableModels lists every model the host can load.
func (c *Client) AvailableModels(ctx context.Context) ([]ModelInfo, error) {
	var out availableModelsResponse
	if err := c.request(ctx, "AvailableModelsRequest", nil, &out); err != nil {
		return nil, err
	}
	return out.AvailableModels, nil
}

// LoadModel asks the host to load the model with the given ID.
func (c *Client) LoadModel(ctx context.Context, modelID string) error {
	var out modelLoadResponse
	return c.request(ctx, "ModelLoadRequest", modelLoadRequest{ModelID: modelID}, &out)
}

// MoveModel moves, rotates or resizes the current model.
func (c *Client) MoveModel(ctx context.Context, req MoveModelRequest) error {
	return c.request(ctx, "MoveModelRequest", req, nil)
}

// InputParameters lists the host's default and custom input parameters.
func (c *Client) InputParameters(ctx context.Context) (*InputParameterList, error) {
	var out InputParameterList
	if err := c.request(ctx, "InputParameterListRequest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Live2DParameters lists the current model's Live2D parameters.
func (c *Client) Live2DParameters(ctx context.Context) ([]Parameter, error) {
	var out live2DParameterListResponse
	if err := c.request(ctx, "Live2DParameterListRequest", nil, &out); err != nil {
		return nil, err
	}
	return out.Parameters, nil
}

// ParameterValue fetches the current value of one input parameter.
func (c *Client) ParameterValue(ctx context.Context, name string) (*Parameter, error) {
	var out Parameter
	if err := c.request(ctx, "ParameterValueRequest", parameterValueRequest{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetParameter injects a single parameter value with the given mode
// ([InjectModeSet] or [InjectModeAdd]).
func (c *Client) SetParameter(ctx context.Context, name string, value float64, mode string) error {
	return c.InjectParameters(ctx, []ParameterValue{{ID: name, Value: value}}, mode)
}

// InjectParameters injects a batch of parameter values in one frame. The
// tween engine's keep-alive uses this to refresh every held parameter at
// once.
func (c *Client) InjectParameters(ctx context.Context, values []ParameterValue, mode string) error {
	if len(values) == 0 {
		return nil
	}
	if mode == "" {
		mode = InjectModeSet
	}
	return c.request(ctx, "InjectParameterDataRequest", injectParameterDataRequest{
		FaceFound:       false,
		Mode:            mode,
		ParameterValues: values,
	}, nil)
}

// CreateParameter registers a new custom parameter with the host.
func (c *Client) CreateParameter(ctx context.Context, req CreateParameterRequest) error {
	var out createParameterResponse
	return c.request(ctx, "ParameterCreationRequest", req, &out)
}

// Expressions lists the current model's expressions.
func (c *Client) Expressions(ctx context.Context) ([]Expression, error) {
	var out expressionStateResponse
	if err := c.request(ctx, "ExpressionStateRequest", expressionStateRequest{Details: true}, &out); err != nil {
		return nil, err
	}
	return out.Expressions, nil
}

// SetExpression activates or deactivates an expression by file name.
func (c *Client) SetExpression(ctx context.Context, file string, active bool) error {
	return c.request(ctx, "ExpressionActivationRequest", expressionActivationRequest{
		ExpressionFile: file,
		Active:         active,
	}, nil)
}

// Hotkeys lists the current model's hotkeys.
func (c *Client) Hotkeys(ctx context.Context) ([]Hotkey, error) {
	var out hotkeyListResponse
	if err := c.request(ctx, "HotkeysInCurrentModelRequest", nil, &out); err != nil {
		return nil, err
	}
	return out.AvailableHotkeys, nil
}

// TriggerHotkey fires the hotkey with the given ID.
func (c *Client) TriggerHotkey(ctx context.Context, hotkeyID string) error {
	var out hotkeyTriggerResponse
	return c.request(ctx, "HotkeyTriggerRequest", hotkeyTriggerRequest{HotkeyID: hotkeyID}, &out)
}

// FaceFound reports whether the host's face tracker currently sees a face.
func (c *Client) FaceFound(ctx context.Context) (bool, error) {
	var out faceFoundResponse
	if err := c.request(ctx, "FaceFoundRequest", nil, &out); err != nil {
		return false, err
	}
	return out.Found, nil
}

// SubscribeEvent subscribes to (or unsubscribes from) a host event type.
func (c *Client) SubscribeEvent(ctx context.Context, eventName string, subscribe bool, config any) error {
	var out eventSubscriptionResponse
	return c.request(ctx, "EventSubscriptionRequest", eventSubscriptionRequest{
		EventName: eventName,
		Subscribe: subscribe,
		Config:    config,
	}, &out)
}
