// Package tts is a streaming client for the speech synthesis HTTP backend.
// Synthesis is a single GET returning a WAV byte stream; the body is handed
// back as-is so playback can start before synthesis finishes.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHeaderTimeout = 30 * time.Second

// ErrSynthesisFailed is returned when the backend answers with a non-200
// status.
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithVoice sets the reference voice id sent with every request.
func WithVoice(id string) Option {
	return func(c *Client) { c.voice = id }
}

// WithLanguage sets the language code sent with every request (e.g. "zh",
// "en").
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHeaderTimeout bounds how long the backend may take to start
// responding. The body itself is never time-limited: synthesis of a long
// utterance streams for as long as it needs.
func WithHeaderTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{ResponseHeaderTimeout: d}
	}
}

// Client talks to the synthesis backend. It is safe for concurrent use;
// each Stream call is an independent HTTP request.
type Client struct {
	baseURL    string
	voice      string
	language   string
	httpClient *http.Client
}

// New creates a client for the backend at baseURL (e.g.
// "http://localhost:9880").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("tts: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Header-only timeout: the streaming body must stay unbounded.
			Transport: &http.Transport{ResponseHeaderTimeout: defaultHeaderTimeout},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Stream requests synthesis of text with the given voice model and returns
// the WAV byte stream as soon as response headers arrive. The caller owns
// the reader and must close it.
func (c *Client) Stream(ctx context.Context, model, text string) (io.ReadCloser, error) {
	if text == "" {
		return nil, errors.New("tts: text must not be empty")
	}

	params := url.Values{}
	params.Set("text", text)
	if c.voice != "" {
		params.Set("id", c.voice)
	}
	params.Set("format", "wav")
	if c.language != "" {
		params.Set("lang", c.language)
	}
	params.Set("streaming", "true")

	reqURL := c.baseURL + "/voice/" + url.PathEscape(model) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: GET /voice/%s: %w", model, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrSynthesisFailed, resp.StatusCode)
	}
	return resp.Body, nil
}
