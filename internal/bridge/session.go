// Package bridge relays live phone audio between a telephony media stream
// and an ElevenLabs agent session.
//
// Each call is one [Session] driving an explicit state machine:
//
//	AWAITING_START → RESOLVING_CONTEXT → CONNECTING_AGENT → STREAMING → CLOSING → CLOSED
//
// The session owns exactly two peers and shares no mutable state with other
// sessions. Uplink audio (caller → agent) is mu-law decoded and upsampled to
// 16kHz PCM; downlink audio (agent → caller) is downsampled to 8kHz and
// mu-law encoded. Per-direction frame order is preserved: each direction has
// a single producer and a single consumer, no reordering buffer.
package bridge

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rentline/voicebridge/internal/agent"
	"github.com/rentline/voicebridge/internal/directory"
	"github.com/rentline/voicebridge/internal/greeting"
	"github.com/rentline/voicebridge/internal/observe"
	"github.com/rentline/voicebridge/pkg/audio"
)

// ContextResolver resolves a raw caller number into a caller context.
// *directory.Resolver is the production implementation.
type ContextResolver interface {
	Resolve(ctx context.Context, rawPhone string) directory.CallerContext
}

// AgentSession is the upstream agent peer as seen by the relay. Satisfied by
// *agent.Session; tests supply fakes.
type AgentSession interface {
	SendAudio(chunk []byte) error
	Audio() <-chan []byte
	Ready() <-chan struct{}
	Interruptions() <-chan struct{}
	Err() error
	Close() error
}

// AgentDialer opens one agent session for one call.
type AgentDialer func(ctx context.Context, cfg greeting.SessionConfig, info agent.CallInfo) (AgentSession, error)

const (
	defaultConnectTimeout     = 10 * time.Second
	defaultDownlinkQueueDepth = 64
	defaultUplinkHoldDepth    = 50
)

// SessionParams carries the collaborators and tuning knobs for one Session.
type SessionParams struct {
	Resolver ContextResolver
	Dial     AgentDialer

	// PostCall receives the call summary on transition into CLOSED. Called
	// exactly once per session that saw a start event. Optional.
	PostCall PostCallFunc

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// ConnectTimeout bounds the credential fetch plus agent connect. A hung
	// connect transitions the session to CLOSING instead of stalling the
	// caller indefinitely.
	ConnectTimeout time.Duration

	// DownlinkQueueDepth bounds the agent → caller frame queue
	// (drop-oldest on overflow).
	DownlinkQueueDepth int

	// UplinkHoldDepth bounds the caller audio held back until the agent
	// signals readiness (drop-oldest on overflow).
	UplinkHoldDepth int

	// Clock is stubbed in tests.
	Clock func() time.Time
}

// Session is one live call. Create with [NewSession], drive with
// [Session.Run].
type Session struct {
	id string
	p  SessionParams

	mu          sync.Mutex
	state       State
	streamSid   string
	callSid     string
	callerPhone string
	callerCtx   directory.CallerContext
	startedAt   time.Time

	uplinkFrames   atomic.Int64
	downlinkFrames atomic.Int64

	notifyOnce sync.Once
	logger     *slog.Logger
}

// NewSession creates a session in AWAITING_START.
func NewSession(p SessionParams) *Session {
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	if p.DownlinkQueueDepth <= 0 {
		p.DownlinkQueueDepth = defaultDownlinkQueueDepth
	}
	if p.UplinkHoldDepth <= 0 {
		p.UplinkHoldDepth = defaultUplinkHoldDepth
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	s := &Session{
		id:    uuid.NewString(),
		p:     p,
		state: StateAwaitingStart,
	}
	s.logger = p.Logger.With("session_id", s.id)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FrameCounts returns the number of frames relayed per direction.
// Diagnostic only.
func (s *Session) FrameCounts() (uplink, downlink int64) {
	return s.uplinkFrames.Load(), s.downlinkFrames.Load()
}

// transition moves the session to the given state if the transition is
// permitted. Repeated moves into the current or an unreachable state are
// ignored, which makes teardown paths idempotent.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("bridge: state transition", "from", from.String(), "to", to.String())
	return true
}

// Run drives the session until both peers are closed. events is the inbound
// telephony event stream (closed when the telephony socket goes away);
// sender is the telephony write half. Run blocks for the call's lifetime
// and always leaves the session in CLOSED.
func (s *Session) Run(ctx context.Context, events <-chan StreamEvent, sender MediaSender) {
	defer s.finish(ctx)

	start := s.awaitStart(ctx, events)
	if start == nil {
		return
	}

	s.mu.Lock()
	s.streamSid = start.StreamSid
	s.callSid = start.CallSid
	s.callerPhone = start.CustomParameters[paramCallerNumber]
	s.startedAt = s.p.Clock()
	s.mu.Unlock()

	s.p.Metrics.CallsStarted.Add(ctx, 1)
	s.p.Metrics.ActiveCalls.Add(ctx, 1)
	defer s.p.Metrics.ActiveCalls.Add(context.Background(), -1)

	s.logger.Info("bridge: call started",
		"stream_sid", start.StreamSid,
		"call_sid", start.CallSid,
		"caller", s.callerPhone)

	// Resolve the caller. Never fails; worst case is the anonymous context.
	s.transition(StateResolvingContext)
	resolveStart := s.p.Clock()
	cc := s.p.Resolver.Resolve(ctx, s.callerPhone)
	observe.RecordStageDuration(ctx, s.p.Metrics.ResolveDuration, resolveStart)

	// The telephony side may carry a display name the directory lacks.
	if cc.Name == "" {
		cc.Name = start.CustomParameters[paramLeadName]
	}
	s.mu.Lock()
	s.callerCtx = cc
	s.mu.Unlock()

	// Connect the agent with the one-time session config.
	s.transition(StateConnectingAgent)
	cfg := greeting.Build(cc, s.p.Clock())
	info := agent.CallInfo{
		CallerName:       cc.Name,
		CallerPhone:      cc.Phone,
		CallerProperty:   cc.PropertyAddress,
		CallerStage:      cc.Stage,
		HasScheduledCall: cc.HasScheduledCall,
	}

	connectStart := s.p.Clock()
	connectCtx, cancel := context.WithTimeout(ctx, s.p.ConnectTimeout)
	agentSess, err := s.p.Dial(connectCtx, cfg, info)
	cancel()
	observe.RecordStageDuration(ctx, s.p.Metrics.ConnectDuration, connectStart)
	if err != nil {
		s.p.Metrics.ConnectFailures.Add(ctx, 1)
		s.logger.Error("bridge: agent connect failed", "call_sid", s.callSid, "err", err)
		return
	}

	s.transition(StateStreaming)
	s.stream(ctx, events, sender, agentSess)
}

// awaitStart consumes events until the start variant arrives. Returns nil
// when the stream ends first.
func (s *Session) awaitStart(ctx context.Context, events <-chan StreamEvent) *StartEvent {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug("bridge: stream closed before start")
				return nil
			}
			switch ev.Event {
			case "start":
				if ev.Start == nil {
					s.logger.Warn("bridge: start event without payload, dropped")
					continue
				}
				return ev.Start
			case "stop":
				s.logger.Debug("bridge: stop before start")
				return nil
			default:
				// Media before start has no session to land in.
				s.logger.Debug("bridge: event before start dropped", "event", ev.Event)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// stream pumps audio both ways until either peer goes away. Single producer
// and single consumer per direction keeps arrival order intact.
func (s *Session) stream(ctx context.Context, events <-chan StreamEvent, sender MediaSender, agentSess AgentSession) {
	done := make(chan struct{})
	var closeOnce sync.Once
	shutdown := func() { closeOnce.Do(func() { close(done) }) }

	queue := newFrameQueue(s.p.DownlinkQueueDepth)
	var wg sync.WaitGroup

	// Downlink producer: agent audio → transcode → queue.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer queue.Close()
		for chunk := range agentSess.Audio() {
			mulaw := audio.EncodeMuLaw(audio.Downsample16kTo8k(chunk))
			if len(mulaw) == 0 {
				continue
			}
			if queue.Push(mulaw) {
				s.p.Metrics.RecordDrop(ctx, "downlink", "queue_full")
			}
		}
		if err := agentSess.Err(); err != nil {
			s.logger.Warn("bridge: agent session ended", "call_sid", s.callSid, "err", err)
		}
		shutdown()
	}()

	// Downlink consumer: queue → telephony stream.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			frame, ok := queue.Pop(done)
			if !ok {
				return
			}
			if err := sender.SendMedia(s.streamSid, frame); err != nil {
				s.logger.Warn("bridge: media send failed", "call_sid", s.callSid, "err", err)
				shutdown()
				return
			}
			s.downlinkFrames.Add(1)
			s.p.Metrics.RecordFrame(ctx, "downlink")
		}
	}()

	// Barge-in: discard queued agent audio on interruption so the caller
	// does not hear a reply the agent already abandoned.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case _, ok := <-agentSess.Interruptions():
				if !ok {
					return
				}
				n := queue.Clear()
				if err := sender.SendClear(s.streamSid); err != nil {
					s.logger.Debug("bridge: clear send failed", "err", err)
				}
				s.logger.Debug("bridge: interruption, downlink flushed", "dropped", n)
				for range n {
					s.p.Metrics.RecordDrop(ctx, "downlink", "interruption")
				}
			case <-done:
				return
			}
		}
	}()

	s.runUplink(ctx, events, agentSess, done)

	shutdown()
	agentSess.Close()
	queue.Close()
	wg.Wait()
}

// runUplink forwards caller audio to the agent. Frames arriving before the
// agent's readiness signal are held in a bounded buffer and flushed in order
// once the initiation is acknowledged, so early caller speech still lands
// after the instruction override takes effect.
func (s *Session) runUplink(ctx context.Context, events <-chan StreamEvent, agentSess AgentSession, done <-chan struct{}) {
	readyCh := agentSess.Ready()
	var hold [][]byte

	flush := func() bool {
		for _, frame := range hold {
			if err := agentSess.SendAudio(frame); err != nil {
				s.logger.Warn("bridge: uplink send failed", "call_sid", s.callSid, "err", err)
				return false
			}
			s.uplinkFrames.Add(1)
			s.p.Metrics.RecordFrame(ctx, "uplink")
		}
		hold = nil
		return true
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug("bridge: telephony stream closed", "call_sid", s.callSid)
				return
			}
			switch ev.Event {
			case "media":
				if ev.Media == nil {
					continue
				}
				mulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
				if err != nil || len(mulaw) == 0 {
					s.logger.Warn("bridge: undecodable media frame dropped", "call_sid", s.callSid, "err", err)
					s.p.Metrics.RecordDrop(ctx, "uplink", "decode")
					continue
				}
				pcm := audio.Upsample8kTo16k(audio.DecodeMuLaw(mulaw))

				if readyCh != nil {
					if len(hold) >= s.p.UplinkHoldDepth {
						hold = hold[1:]
						s.p.Metrics.RecordDrop(ctx, "uplink", "hold_full")
					}
					hold = append(hold, pcm)
					continue
				}
				if err := agentSess.SendAudio(pcm); err != nil {
					s.logger.Warn("bridge: uplink send failed", "call_sid", s.callSid, "err", err)
					return
				}
				s.uplinkFrames.Add(1)
				s.p.Metrics.RecordFrame(ctx, "uplink")

			case "stop":
				s.logger.Info("bridge: stop received", "call_sid", s.callSid)
				return

			case "mark":
				// The bridge sends no marks; acknowledge silently.

			case "start":
				s.logger.Warn("bridge: duplicate start dropped", "call_sid", s.callSid)

			default:
				s.logger.Warn("bridge: unknown event dropped", "event", ev.Event)
			}

		case <-readyCh:
			readyCh = nil
			if !flush() {
				return
			}

		case <-done:
			return

		case <-ctx.Done():
			return
		}
	}
}

// finish walks the session into CLOSED and fires the post-call notification
// exactly once. Sessions that never saw a start event have no call to
// report.
func (s *Session) finish(ctx context.Context) {
	s.transition(StateClosing)
	s.transition(StateClosed)

	s.mu.Lock()
	callSid := s.callSid
	streamSid := s.streamSid
	phone := s.callerPhone
	cc := s.callerCtx
	startedAt := s.startedAt
	s.mu.Unlock()

	if callSid == "" && streamSid == "" {
		return
	}

	endedAt := s.p.Clock()
	observe.RecordStageDuration(ctx, s.p.Metrics.CallDuration, startedAt)

	s.notifyOnce.Do(func() {
		up, down := s.FrameCounts()
		s.logger.Info("bridge: call closed",
			"call_sid", callSid,
			"uplink_frames", up,
			"downlink_frames", down)
		if s.p.PostCall != nil {
			s.p.PostCall(CallSummary{
				CallSid:        callSid,
				StreamSid:      streamSid,
				CallerPhone:    phone,
				CallerName:     cc.Name,
				CallerStage:    cc.Stage,
				CallerProperty: cc.PropertyAddress,
				StartedAt:      startedAt,
				EndedAt:        endedAt,
			})
		}
	})
}
