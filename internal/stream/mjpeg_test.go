package stream

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBroadcasterPublishWithoutClients(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	// Must not block or panic with nobody listening.
	b.Publish([]byte("frame"))
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", b.ClientCount())
	}
}

func TestBroadcasterStreamsFrames(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(rec, req)
	}()

	// Wait for the client to subscribe, then publish two frames.
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	b.Publish([]byte("frame-one"))
	b.Publish([]byte("frame-two"))

	// Give the handler a moment to flush, then disconnect.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %q", got)
	}
	if !strings.Contains(body, "frame-one") || !strings.Contains(body, "frame-two") {
		t.Errorf("stream body missing frames: %q", body)
	}
	if !strings.Contains(body, "--frame") || !strings.Contains(body, "Content-Type: image/jpeg") {
		t.Errorf("stream body missing multipart framing: %q", body)
	}
}

func TestBroadcasterCloseDisconnectsClients(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	req := httptest.NewRequest("GET", "/stream", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(rec, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	b.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after Close")
	}

	// New clients are refused after shutdown.
	rec2 := httptest.NewRecorder()
	b.ServeHTTP(rec2, httptest.NewRequest("GET", "/stream", nil))
	if rec2.Code != 503 {
		t.Errorf("post-close status = %d, want 503", rec2.Code)
	}
	if bytes.Contains(rec2.Body.Bytes(), []byte("--frame")) {
		t.Error("post-close response should not contain stream data")
	}
}
