package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// StreamEvent is one inbound message on the telephony media stream,
// externally tagged by Event. Only the variant matching the tag is populated.
type StreamEvent struct {
	Event string `json:"event"`

	StreamSid string      `json:"streamSid,omitempty"`
	Start     *StartEvent `json:"start,omitempty"`
	Media     *MediaEvent `json:"media,omitempty"`
	Mark      *MarkEvent  `json:"mark,omitempty"`
}

// StartEvent opens a call: stream and call identifiers plus the custom
// parameters configured on the telephony side.
type StartEvent struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaEvent carries one chunk of base64-encoded mu-law audio, 8kHz mono.
type MediaEvent struct {
	Payload string `json:"payload"`
}

// MarkEvent acknowledges a previously sent mark. The bridge sends no marks,
// so these are tolerated and ignored.
type MarkEvent struct {
	Name string `json:"name"`
}

// Custom parameter keys set on the telephony stream.
const (
	paramCallerNumber = "caller_number"
	paramLeadName     = "lead_name"
)

// outboundMedia is the frame sent back to the telephony stream.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// outboundClear tells the telephony side to discard buffered outbound audio.
// Sent on agent barge-in.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// MediaSender is the caller-side write half as seen by the relay. Fakes
// record frames in tests; [twilioSender] is the production implementation.
type MediaSender interface {
	// SendMedia forwards one mu-law chunk to the telephony stream.
	SendMedia(streamSid string, mulaw []byte) error

	// SendClear asks the telephony side to drop any audio it has buffered.
	SendClear(streamSid string) error
}

// twilioSender writes outbound frames to the media-stream WebSocket.
type twilioSender struct {
	ctx  context.Context
	conn *websocket.Conn
}

var _ MediaSender = (*twilioSender)(nil)

func (t *twilioSender) SendMedia(streamSid string, mulaw []byte) error {
	msg := outboundMedia{
		Event:     "media",
		StreamSid: streamSid,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	return t.writeJSON(msg)
}

func (t *twilioSender) SendClear(streamSid string) error {
	return t.writeJSON(outboundClear{Event: "clear", StreamSid: streamSid})
}

func (t *twilioSender) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: marshal: %w", err)
	}
	return t.conn.Write(t.ctx, websocket.MessageText, data)
}
