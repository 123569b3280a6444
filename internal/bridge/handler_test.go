package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/rentline/voicebridge/internal/agent"
	"github.com/rentline/voicebridge/internal/greeting"
)

// TestHandler_EndToEnd drives a full call through a real WebSocket: start,
// caller media up to the (fake) agent, agent audio back down as telephony
// media frames, then stop.
func TestHandler_EndToEnd(t *testing.T) {
	agentSess := newFakeAgentSession(true)
	summaries := make(chan CallSummary, 1)

	h := NewHandler(SessionParams{
		Resolver: &fakeResolver{},
		Dial: func(ctx context.Context, cfg greeting.SessionConfig, info agent.CallInfo) (AgentSession, error) {
			return agentSess, nil
		},
		PostCall: func(s CallSummary) { summaries <- s },
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	send := func(v any) {
		t.Helper()
		data, _ := json.Marshal(v)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ999",
			"callSid":          "CA999",
			"customParameters": map[string]string{"caller_number": "+14045551234"},
		},
	})

	frame := bytes.Repeat([]byte{0xFF}, 320)
	send(map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(frame)},
	})

	waitFor(t, func() bool { return agentSess.sentCount() == 1 }, "uplink frame through handler")
	if got := len(agentSess.sentFrames()[0]); got != 1280 {
		t.Errorf("uplink chunk = %d bytes, want 1280", got)
	}

	// Agent speaks; the caller should receive a media frame with 160 mu-law
	// bytes (640 bytes of 16kHz PCM halved and companded).
	agentSess.audio <- make([]byte, 640)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read downlink frame: %v", err)
	}
	var out struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal downlink frame: %v", err)
	}
	if out.Event != "media" || out.StreamSid != "MZ999" {
		t.Errorf("downlink frame = %+v", out)
	}
	payload, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload) != 160 {
		t.Errorf("downlink payload = %d bytes, want 160", len(payload))
	}

	send(map[string]any{"event": "stop"})

	select {
	case s := <-summaries:
		if s.CallSid != "CA999" {
			t.Errorf("summary call sid = %q, want CA999", s.CallSid)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no post-call notification")
	}
}

// TestHandler_MalformedEnvelopeDropped verifies a non-JSON frame does not
// kill the session.
func TestHandler_MalformedEnvelopeDropped(t *testing.T) {
	agentSess := newFakeAgentSession(true)

	h := NewHandler(SessionParams{
		Resolver: &fakeResolver{},
		Dial: func(ctx context.Context, cfg greeting.SessionConfig, info agent.CallInfo) (AgentSession, error) {
			return agentSess, nil
		},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := conn.Write(ctx, websocket.MessageText, []byte("{garbage")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	start, _ := json.Marshal(map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"customParameters": map[string]string{"caller_number": "4045551234"},
		},
	})
	if err := conn.Write(ctx, websocket.MessageText, start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	media, _ := json.Marshal(map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString([]byte{0xFF})},
	})
	if err := conn.Write(ctx, websocket.MessageText, media); err != nil {
		t.Fatalf("write media: %v", err)
	}

	waitFor(t, func() bool { return agentSess.sentCount() == 1 }, "session survived garbage envelope")
}
