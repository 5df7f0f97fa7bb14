package tts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStream_RequestShape(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte("RIFFfake"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithVoice("3"), WithLanguage("zh"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Stream(context.Background(), "mika", "你好")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	if gotPath != "/voice/mika" {
		t.Errorf("path = %q", gotPath)
	}
	want := map[string]string{
		"text":      "你好",
		"id":        "3",
		"format":    "wav",
		"lang":      "zh",
		"streaming": "true",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query[%s] = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestStream_ReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	body, err := c.Stream(context.Background(), "m", "hello")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestStream_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	if _, err := c.Stream(context.Background(), "nope", "hi"); !errors.Is(err, ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", err)
	}
}

func TestStream_HeaderTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(srv.URL, WithHeaderTimeout(100*time.Millisecond))
	start := time.Now()
	if _, err := c.Stream(context.Background(), "m", "hi"); err == nil {
		t.Fatal("Stream succeeded despite the stalled backend")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout took too long to fire")
	}
}

func TestStream_BodyNotTimeLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("late chunk"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithHeaderTimeout(100*time.Millisecond))
	body, err := c.Stream(context.Background(), "m", "hi")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "late chunk" {
		t.Errorf("body = %q", data)
	}
}

func TestNew_EmptyBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New accepted an empty base URL")
	}
}

func TestStream_EmptyText(t *testing.T) {
	t.Parallel()

	c, _ := New("http://localhost:1")
	if _, err := c.Stream(context.Background(), "m", ""); err == nil {
		t.Error("Stream accepted empty text")
	}
}
