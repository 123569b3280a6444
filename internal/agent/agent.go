// Package agent connects call sessions to the ElevenLabs Conversational AI
// service.
//
// Each call gets its own WebSocket session, opened through a fresh signed URL
// fetched per call (the URL is single-use and time-boxed, so it is never
// cached or shared). Immediately on connect the session sends one
// conversation_initiation_client_data message carrying the greeting, the
// system-prompt override and the caller metadata; audio then flows as
// base64-encoded PCM16 at 16kHz in both directions.
package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/rentline/voicebridge/internal/greeting"
)

const defaultAPIBaseURL = "https://api.elevenlabs.io"

// ToolTransferToHuman is the client tool the agent invokes when the caller
// should be handed to a team member. The transfer itself is carried out by an
// external collaborator; the bridge only surfaces the request.
const ToolTransferToHuman = "transfer_to_human"

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIBaseURL overrides the ElevenLabs API base URL. Primarily used in
// tests to point at a local mock server.
func WithAPIBaseURL(url string) Option {
	return func(p *Provider) { p.apiBaseURL = url }
}

// WithHTTPClient overrides the HTTP client used for the signed-URL fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider opens agent sessions for one configured ElevenLabs agent.
type Provider struct {
	apiKey     string
	agentID    string
	apiBaseURL string
	httpClient *http.Client
}

// New creates a Provider for the given API key and agent identifier.
func New(apiKey, agentID string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		agentID:    agentID,
		apiBaseURL: defaultAPIBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CallInfo is the structured caller metadata forwarded to the agent in the
// initiation message.
type CallInfo struct {
	CallerName       string
	CallerPhone      string
	CallerProperty   string
	CallerStage      string
	HasScheduledCall bool
}

// signedURLResponse is the body of the get_signed_url endpoint.
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// signedURL fetches a fresh single-use WebSocket URL for one conversation.
// Called once per call; the returned URL must not be reused.
func (p *Provider) signedURL(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get_signed_url?agent_id=%s",
		p.apiBaseURL, url.QueryEscape(p.agentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("agent: signed url request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent: signed url fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("agent: signed url fetch: status %d: %s", resp.StatusCode, body)
	}

	var sr signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("agent: signed url decode: %w", err)
	}
	if sr.SignedURL == "" {
		return "", fmt.Errorf("agent: signed url fetch: empty signed_url in response")
	}
	return sr.SignedURL, nil
}

// Connect fetches a signed URL, opens the agent session and sends the
// one-time initiation message. The returned Session is not ready to relay
// audio until [Session.Ready] is signalled.
func (p *Provider) Connect(ctx context.Context, cfg greeting.SessionConfig, info CallInfo) (*Session, error) {
	wsURL, err := p.signedURL(ctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("agent: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:        conn,
		audioCh:     make(chan []byte, 64),
		readyCh:     make(chan struct{}),
		interruptCh: make(chan struct{}, 4),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	if err := sess.sendInitiation(cfg, info); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "initiation failed")
		return nil, fmt.Errorf("agent: initiation: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type initiationMessage struct {
	Type string         `json:"type"`
	Data initiationData `json:"conversation_initiation_client_data"`
}

type initiationData struct {
	ConfigOverride     configOverride `json:"conversation_config_override"`
	CustomLLMExtraBody map[string]any `json:"custom_llm_extra_body"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	Prompt       promptOverride `json:"prompt"`
	FirstMessage string         `json:"first_message"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type userAudioChunkMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// audio: chunk lives under audio_event.audio_base_64 or, on some
	// protocol versions, directly under audio.
	AudioEvent *audioEvent `json:"audio_event,omitempty"`
	Audio      string      `json:"audio,omitempty"`

	AgentResponseEvent     *agentResponseEvent     `json:"agent_response_event,omitempty"`
	UserTranscriptionEvent *userTranscriptionEvent `json:"user_transcription_event,omitempty"`
	ClientToolCall         *clientToolCall         `json:"client_tool_call,omitempty"`
	PingEvent              *pingEvent              `json:"ping_event,omitempty"`
}

type audioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type userTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type clientToolCall struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	Parameters json.RawMessage `json:"parameters"`
}

type pingEvent struct {
	EventID int `json:"event_id"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live agent conversation. Audio sent with [Session.SendAudio]
// must be raw little-endian PCM16 at 16kHz; audio received on
// [Session.Audio] is in the same format.
type Session struct {
	conn        *websocket.Conn
	audioCh     chan []byte
	readyCh     chan struct{}
	interruptCh chan struct{}

	mu        sync.Mutex
	errVal    error
	closed    bool
	readyOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendInitiation sends the one-time conversation_initiation_client_data
// message. It must go out before any audio.
func (s *Session) sendInitiation(cfg greeting.SessionConfig, info CallInfo) error {
	return s.writeJSON(initiationMessage{
		Type: "conversation_initiation_client_data",
		Data: initiationData{
			ConfigOverride: configOverride{
				Agent: agentOverride{
					Prompt:       promptOverride{Prompt: cfg.InstructionOverride},
					FirstMessage: cfg.Greeting,
				},
			},
			CustomLLMExtraBody: map[string]any{
				"caller_name":        info.CallerName,
				"caller_phone":       info.CallerPhone,
				"caller_property":    info.CallerProperty,
				"caller_stage":       info.CallerStage,
				"has_scheduled_call": info.HasScheduledCall,
			},
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("agent: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// audioCh: it closes it when it exits.
func (s *Session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("agent: malformed event dropped", "err", err)
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *Session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "conversation_initiation_metadata":
		s.readyOnce.Do(func() { close(s.readyCh) })

	case "audio":
		payload := evt.Audio
		if evt.AudioEvent != nil && evt.AudioEvent.AudioBase64 != "" {
			payload = evt.AudioEvent.AudioBase64
		}
		if payload == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(payload)
		if err != nil || len(audioData) == 0 {
			return
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "agent_response":
		if evt.AgentResponseEvent != nil {
			slog.Debug("agent: response", "text", evt.AgentResponseEvent.AgentResponse)
		}

	case "user_transcript":
		if evt.UserTranscriptionEvent != nil {
			slog.Debug("agent: user transcript", "text", evt.UserTranscriptionEvent.UserTranscript)
		}

	case "interruption":
		select {
		case s.interruptCh <- struct{}{}:
		default:
		}

	case "client_tool_call":
		if evt.ClientToolCall == nil {
			return
		}
		// Tool execution is an external collaborator boundary. Surface the
		// request and keep the conversation going.
		slog.Info("agent: client tool call",
			"tool", evt.ClientToolCall.ToolName,
			"tool_call_id", evt.ClientToolCall.ToolCallID,
			"params", string(evt.ClientToolCall.Parameters))

	case "ping":
		if evt.PingEvent != nil {
			_ = s.writeJSON(pongMessage{Type: "pong", EventID: evt.PingEvent.EventID})
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
	})
}

// SendAudio delivers one 16kHz PCM16 chunk to the agent.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("agent: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(userAudioChunkMessage{
		UserAudioChunk: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Audio returns the channel on which the agent's synthesized audio arrives.
// Closed when the session ends.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Ready is closed once the agent has acknowledged the initiation message.
// Caller audio should be held until then so early speech lands after the
// instruction override takes effect.
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

// Interruptions signals barge-in events from the agent service. Receivers
// should discard any queued downlink audio.
func (s *Session) Interruptions() <-chan struct{} { return s.interruptCh }

// Err returns the first non-nil error that caused the session to terminate.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
