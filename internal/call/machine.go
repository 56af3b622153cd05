// Package call implements the call-session orchestration core: one
// state machine per local party that turns asynchronous signaling and
// transport events into a single coherent session lifecycle.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

var (
	ErrBusy         = errors.New("a session already exists; dispose it first")
	ErrNoSession    = errors.New("no active session")
	ErrInvalidState = errors.New("operation not valid in current state")
)

// Config wires the machine to its collaborators. Channel, Media and
// NewTransport are required; zero Policy and nil Clock get defaults.
type Config struct {
	LocalID     domain.PartyID
	DisplayName string

	Channel      core.SignalChannel
	Media        core.MediaSource
	NewTransport func() core.PeerTransport

	Constraints core.MediaConstraints
	Policy      RecoveryPolicy
	Clock       core.Scheduler
}

// Machine owns at most one CallSession at a time. Every input — public
// API calls, signaling events, transport callbacks, timer fires, async
// completions — is a transition that runs to completion under one
// mutex; there is no interleaving within a transition. The snapshot
// callback is invoked inside the transition and must not call back
// into the machine.
type Machine struct {
	localID     domain.PartyID
	displayName string
	channel     core.SignalChannel
	media       core.MediaSource
	newTrans    func() core.PeerTransport
	constraints core.MediaConstraints
	policy      RecoveryPolicy
	clock       core.Scheduler
	log         zerolog.Logger

	mu         sync.Mutex
	sess       *session
	snap       Snapshot
	onSnapshot func(Snapshot)
}

func New(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = core.WallClock()
	}
	if cfg.Policy == (RecoveryPolicy{}) {
		cfg.Policy = DefaultRecoveryPolicy()
	}
	if cfg.Constraints == (core.MediaConstraints{}) {
		cfg.Constraints = core.MediaConstraints{Audio: true, Video: true}
	}
	m := &Machine{
		localID:     cfg.LocalID,
		displayName: cfg.DisplayName,
		channel:     cfg.Channel,
		media:       cfg.Media,
		newTrans:    cfg.NewTransport,
		constraints: cfg.Constraints,
		policy:      cfg.Policy,
		clock:       cfg.Clock,
		log:         log.With().Str("module", "call").Str("party", string(cfg.LocalID)).Logger(),
	}
	m.snap = Snapshot{State: StateIdle, Negotiation: NegotiationNone}
	m.bindChannel()
	return m
}

// OnSnapshot registers the UI-facing change listener.
func (m *Machine) OnSnapshot(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSnapshot = fn
}

// Snapshot returns the latest session projection.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Start begins an outgoing call to remote. attach is an opaque context
// blob passed to the peer unmodified; it may be nil.
func (m *Machine) Start(remote domain.PartyID, attach json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return ErrBusy
	}
	now := m.clock.Now()
	s := &session{
		id:               domain.NewSessionID(),
		local:            m.localID,
		remote:           remote,
		role:             domain.RoleInitiator,
		state:            StateOutgoingRinging,
		negotiation:      NegotiationNone,
		transportSt:      core.TransportNew,
		context:          attach,
		createdAt:        now,
		lastTransitionAt: now,
	}
	s.buffer = newCandidateBuffer(m.sinkFor(s), m.log)
	m.sess = s
	m.log.Info().Str("session", string(s.id)).Str("to", string(remote)).Msg("starting outgoing call")
	m.acquireMedia(s.id)
	m.publish()
	return nil
}

// Accept answers the current incoming invitation.
func (m *Machine) Accept() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ErrNoSession
	}
	if m.sess.state != StateIncomingRinging || m.sess.accepting {
		return ErrInvalidState
	}
	m.sess.accepting = true
	m.log.Info().Str("session", string(m.sess.id)).Msg("accepting incoming call")
	m.acquireMedia(m.sess.id)
	return nil
}

// Reject declines the current incoming invitation.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ErrNoSession
	}
	if m.sess.state != StateIncomingRinging {
		return ErrInvalidState
	}
	m.send(core.EventRejectCall, core.CallResponsePayload{SessionID: m.sess.id, To: m.sess.remote}, m.sess.remote)
	m.terminate(StateEnded, domain.ReasonHangup, "")
	return nil
}

// End hangs up (or cancels) the current session. Valid in any
// non-terminal state; it aborts an in-flight start/accept.
func (m *Machine) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ErrNoSession
	}
	if m.sess.state.Terminal() {
		return ErrInvalidState
	}
	s := m.sess
	switch s.state {
	case StateIncomingRinging:
		m.send(core.EventRejectCall, core.CallResponsePayload{SessionID: s.id, To: s.remote}, s.remote)
	default:
		if s.peerAware {
			m.send(core.EventEndCall, core.EndCallPayload{SessionID: s.id}, s.remote)
		}
	}
	m.terminate(StateEnded, domain.ReasonHangup, "")
	return nil
}

// Dispose clears a terminated session, returning the machine to idle.
// A new call always gets a new session id.
func (m *Machine) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	if !m.sess.state.Terminal() {
		return ErrInvalidState
	}
	m.sess = nil
	m.publish()
	return nil
}

// SetAudioEnabled toggles every local audio track.
func (m *Machine) SetAudioEnabled(enabled bool) error {
	return m.setKindEnabled(core.TrackKindAudio, enabled)
}

// SetVideoEnabled toggles every local video track.
func (m *Machine) SetVideoEnabled(enabled bool) error {
	return m.setKindEnabled(core.TrackKindVideo, enabled)
}

func (m *Machine) setKindEnabled(kind core.TrackKind, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ErrNoSession
	}
	for _, t := range m.sess.localTracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
	m.publish()
	return nil
}

// ---- signaling channel wiring ----

func (m *Machine) bindChannel() {
	m.channel.On(core.EventIncomingCall, m.handleIncomingCall)
	m.channel.On(core.EventCallAccepted, m.handleCallAccepted)
	m.channel.On(core.EventCallRejected, m.handleCallRejected)
	m.channel.On(core.EventOffer, m.handleOffer)
	m.channel.On(core.EventAnswer, m.handleAnswer)
	m.channel.On(core.EventICECandidate, m.handleCandidate)
	m.channel.On(core.EventEndCall, m.handleRemoteEnd)
	m.channel.OnError(m.handleChannelError)
	m.channel.OnClosed(m.handleChannelClosed)
}

// handleChannelError surfaces relay trouble as a non-fatal annotation.
// An unreachable relay never ends an active call on its own.
func (m *Machine) handleChannelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Warn().Err(err).Msg("signal channel error")
	m.setError("signaling unavailable")
	m.publish()
}

func (m *Machine) handleIncomingCall(data []byte) {
	var p core.IncomingCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad incoming-call payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		m.log.Warn().Str("session", string(p.SessionID)).Str("from", string(p.From)).Msg("busy, rejecting incoming call")
		m.send(core.EventRejectCall, core.CallResponsePayload{SessionID: p.SessionID, To: p.From}, p.From)
		return
	}
	now := m.clock.Now()
	s := &session{
		id:               p.SessionID,
		local:            m.localID,
		remote:           p.From,
		role:             domain.RoleRecipient,
		state:            StateIncomingRinging,
		negotiation:      NegotiationNone,
		transportSt:      core.TransportNew,
		context:          p.Context,
		peerAware:        true,
		createdAt:        now,
		lastTransitionAt: now,
	}
	s.buffer = newCandidateBuffer(m.sinkFor(s), m.log)
	m.sess = s
	m.log.Info().Str("session", string(s.id)).Str("from", string(p.From)).Str("from_name", p.FromName).Msg("incoming call")
	m.publish()
}

func (m *Machine) handleCallAccepted(data []byte) {
	var p core.CallResponsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad call-accepted payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(p.SessionID, "call-accepted")
	if s == nil {
		return
	}
	if s.state != StateOutgoingRinging {
		m.log.Warn().Str("session", string(s.id)).Str("state", string(s.state)).Msg("duplicate call-accepted ignored")
		return
	}
	if err := m.ensureTransport(s); err != nil {
		m.failNegotiation(err)
		return
	}
	sdp, err := s.transport.CreateOffer()
	if err != nil {
		m.failNegotiation(err)
		return
	}
	m.send(core.EventOffer, core.DescriptionPayload{SessionID: s.id, SDP: sdp}, s.remote)
	s.negotiation = NegotiationOfferSent
	m.transition(s, StateNegotiating)
}

func (m *Machine) handleCallRejected(data []byte) {
	var p core.CallResponsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad call-rejected payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(p.SessionID, "call-rejected")
	if s == nil {
		return
	}
	if s.state != StateOutgoingRinging {
		m.log.Warn().Str("session", string(s.id)).Msg("late call-rejected ignored")
		return
	}
	m.terminate(StateEnded, domain.ReasonRemoteRejected, "")
}

func (m *Machine) handleOffer(data []byte) {
	var p core.DescriptionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad offer payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(p.SessionID, "offer")
	if s == nil {
		return
	}
	switch s.state {
	case StateNegotiating, StateConnected, StateDegraded:
	default:
		m.log.Warn().Str("session", string(s.id)).Str("state", string(s.state)).Msg("offer in unexpected state ignored")
		return
	}
	if err := m.ensureTransport(s); err != nil {
		m.failNegotiation(err)
		return
	}
	if err := s.transport.ApplyRemoteOffer(p.SDP); err != nil {
		m.failNegotiation(err)
		return
	}
	if s.negotiation == NegotiationNone {
		s.negotiation = NegotiationOfferReceived
		s.buffer.Flush()
	}
	sdp, err := s.transport.CreateAnswer()
	if err != nil {
		m.failNegotiation(err)
		return
	}
	m.send(core.EventAnswer, core.DescriptionPayload{SessionID: s.id, SDP: sdp}, s.remote)
	if s.negotiation == NegotiationOfferReceived {
		s.negotiation = NegotiationAnswerSent
	}
	// A renegotiation offer while in-call is a fresh sub-cycle; the
	// externally observed state does not change.
	m.publish()
}

func (m *Machine) handleAnswer(data []byte) {
	var p core.DescriptionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad answer payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(p.SessionID, "answer")
	if s == nil {
		return
	}
	if s.transport == nil {
		m.log.Warn().Str("session", string(s.id)).Msg("answer before transport ignored")
		return
	}
	if err := s.transport.ApplyRemoteAnswer(p.SDP); err != nil {
		m.failNegotiation(err)
		return
	}
	if s.negotiation == NegotiationOfferSent {
		s.buffer.Flush()
		s.negotiation = NegotiationAnswerReceived
	}
	m.publish()
}

func (m *Machine) handleCandidate(data []byte) {
	var p core.CandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad candidate payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(p.SessionID, "ice-candidate")
	if s == nil {
		return
	}
	c := core.Candidate{Candidate: p.Candidate, SDPMid: p.SDPMid, SDPMLineIndex: p.SDPMLineIndex}
	if d := s.buffer.Offer(c); d == DispositionBuffered {
		m.log.Debug().Str("session", string(s.id)).Int("pending", s.buffer.Len()).Msg("candidate buffered")
	}
}

func (m *Machine) handleRemoteEnd(data []byte) {
	var p core.EndCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Error().Err(err).Msg("bad end-call payload")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(p.SessionID, "end-call")
	if s == nil {
		return
	}
	m.terminate(StateEnded, domain.ReasonRemoteHangup, "")
}

func (m *Machine) handleChannelClosed(voluntary bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !voluntary {
		// Involuntary drops never end a call by themselves; only the
		// transport timers do.
		m.log.Warn().Msg("signal channel dropped, keeping session")
		return
	}
	if m.sess != nil && !m.sess.state.Terminal() {
		m.log.Info().Str("session", string(m.sess.id)).Msg("channel closed by user, ending session")
		m.terminate(StateEnded, domain.ReasonHangup, "")
	}
}

// ---- media acquisition ----

func (m *Machine) acquireMedia(sid domain.SessionID) {
	go func() {
		tracks, err := m.media.Acquire(context.Background(), m.constraints)
		if err != nil {
			m.onMediaFailed(sid, err)
			return
		}
		m.onMediaAcquired(sid, tracks)
	}()
}

func (m *Machine) onMediaAcquired(sid domain.SessionID, tracks []core.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if s == nil || s.id != sid || s.state.Terminal() {
		// The session this acquisition belonged to is gone; never bind
		// tracks to a torn-down call.
		m.log.Warn().Str("session", string(sid)).Msg("media resolved for dead session, stopping tracks")
		for _, t := range tracks {
			t.Stop()
		}
		return
	}
	s.localTracks = tracks
	switch s.role {
	case domain.RoleInitiator:
		m.send(core.EventStartCall, core.StartCallPayload{
			To: s.remote, From: s.local, SessionID: s.id, Context: s.context,
		}, s.remote)
		s.peerAware = true
		m.publish()
	case domain.RoleRecipient:
		if err := m.ensureTransport(s); err != nil {
			m.abortAttempt(err)
			return
		}
		m.send(core.EventAcceptCall, core.CallResponsePayload{SessionID: s.id, To: s.remote}, s.remote)
		m.transition(s, StateNegotiating)
	}
}

func (m *Machine) onMediaFailed(sid domain.SessionID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if s == nil || s.id != sid || s.state.Terminal() {
		return
	}
	m.log.Error().Err(err).Str("session", string(sid)).Msg("media acquisition failed")
	m.abortAttempt(err)
}

// abortAttempt fails an in-progress start/accept, telling the peer if
// it already knows about the call.
func (m *Machine) abortAttempt(err error) {
	s := m.sess
	if s.peerAware {
		switch s.role {
		case domain.RoleRecipient:
			m.send(core.EventRejectCall, core.CallResponsePayload{SessionID: s.id, To: s.remote}, s.remote)
		case domain.RoleInitiator:
			m.send(core.EventEndCall, core.EndCallPayload{SessionID: s.id}, s.remote)
		}
	}
	m.terminate(StateFailed, domain.ReasonLocalError, err.Error())
}

// ---- transport wiring ----

// ensureTransport creates, configures and binds the peer transport for
// the session. Safe to call again once one exists.
func (m *Machine) ensureTransport(s *session) error {
	if s.transport != nil {
		return nil
	}
	t := m.newTrans()
	sid := s.id
	t.OnStateChange(func(ts core.TransportState) { m.onTransportState(sid, ts) })
	t.OnLocalCandidate(func(c core.Candidate) { m.onLocalCandidate(sid, c) })
	t.OnRemoteTrack(func(rt core.RemoteTrack) { m.onRemoteTrack(sid, rt) })
	t.OnAnnotation(func(note string) { m.onAnnotation(sid, note) })
	t.OnRestartNeeded(func() { m.onRestartNeeded(sid) })
	if err := t.Create(context.Background()); err != nil {
		return err
	}
	if err := t.BindLocalTracks(s.localTracks); err != nil {
		t.Release()
		return err
	}
	s.transport = t
	return nil
}

func (m *Machine) onTransportState(sid domain.SessionID, ts core.TransportState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "transport-state")
	if s == nil {
		return
	}
	s.transportSt = ts
	m.log.Info().Str("session", string(s.id)).Str("transport_state", string(ts)).Msg("transport state")
	switch ts {
	case core.TransportConnected:
		s.stopTimers()
		s.restartUsed = false
		m.setError("")
		if s.state == StateNegotiating || s.state == StateDegraded {
			s.inCall = true
			m.transition(s, StateConnected)
			return
		}
		m.publish()
	case core.TransportDisconnected:
		if s.state == StateConnected {
			m.enterGrace(s, m.policy.GraceFor(ts))
			m.transition(s, StateDegraded)
			return
		}
		m.publish()
	case core.TransportFailed:
		// A brief flap is tolerated: short final grace, re-checked at
		// fire time.
		m.enterGrace(s, m.policy.GraceFor(ts))
		if s.state == StateConnected {
			m.transition(s, StateDegraded)
			return
		}
		m.publish()
	case core.TransportClosed:
		if !s.state.Terminal() {
			m.log.Warn().Str("session", string(s.id)).Msg("transport closed outside teardown")
		}
	default:
		m.publish()
	}
}

// enterGrace (re)arms the recovery timers for the current outage.
func (m *Machine) enterGrace(s *session, window time.Duration) {
	s.stopTimers()
	sid := s.id
	if !s.restartUsed && window > m.policy.RestartDelay {
		s.restartTimer = m.clock.AfterFunc(m.policy.RestartDelay, func() { m.onRestartTimer(sid) })
	}
	s.graceTimer = m.clock.AfterFunc(window, func() { m.onGraceExpiry(sid) })
}

func (m *Machine) onRestartTimer(sid domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "restart-timer")
	if s == nil {
		return
	}
	if m.policy.AtRestart(s.transportSt) != ActionRestartDiscovery || s.restartUsed {
		return
	}
	s.restartUsed = true
	m.restartDiscovery(s)
}

func (m *Machine) onGraceExpiry(sid domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "grace-expiry")
	if s == nil {
		return
	}
	if m.policy.AtExpiry(s.transportSt) != ActionTeardown {
		m.log.Info().Str("session", string(s.id)).Msg("transport recovered before grace expiry")
		return
	}
	if s.peerAware {
		m.send(core.EventEndCall, core.EndCallPayload{SessionID: s.id}, s.remote)
	}
	m.terminate(StateFailed, domain.ReasonTransportFailure, "transport grace window expired")
}

func (m *Machine) onRestartNeeded(sid domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "restart-needed")
	if s == nil {
		return
	}
	m.restartDiscovery(s)
}

func (m *Machine) restartDiscovery(s *session) {
	sdp, err := s.transport.RestartDiscovery()
	if err != nil {
		m.log.Error().Err(err).Str("session", string(s.id)).Msg("discovery restart failed")
		return
	}
	m.log.Info().Str("session", string(s.id)).Msg("restarting path discovery")
	m.send(core.EventOffer, core.DescriptionPayload{SessionID: s.id, SDP: sdp}, s.remote)
}

func (m *Machine) onLocalCandidate(sid domain.SessionID, c core.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "local-candidate")
	if s == nil {
		return
	}
	m.send(core.EventICECandidate, core.CandidatePayload{
		SessionID: s.id, Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex,
	}, s.remote)
}

func (m *Machine) onRemoteTrack(sid domain.SessionID, rt core.RemoteTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "remote-track")
	if s == nil {
		return
	}
	for _, have := range s.remoteTracks {
		if have.ID == rt.ID {
			return
		}
	}
	s.remoteTracks = append(s.remoteTracks, rt)
	m.publish()
}

func (m *Machine) onAnnotation(sid domain.SessionID, note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(sid, "annotation")
	if s == nil {
		return
	}
	m.setError(note)
	m.publish()
}

// ---- internals ----

// live resolves an event's session id, logging and dropping events for
// unknown or already-terminated sessions. They never resurrect a
// disposed session.
func (m *Machine) live(sid domain.SessionID, event string) *session {
	if m.sess == nil || m.sess.id != sid {
		m.log.Warn().Str("session", string(sid)).Str("event", event).Msg("event for unknown session ignored")
		return nil
	}
	if m.sess.state.Terminal() {
		m.log.Warn().Str("session", string(sid)).Str("event", event).Msg("event for terminated session ignored")
		return nil
	}
	return m.sess
}

func (m *Machine) send(event core.EventName, payload any, to domain.PartyID) {
	if err := m.channel.Send(event, payload, to); err != nil {
		m.log.Warn().Err(err).Str("event", string(event)).Msg("signal send failed")
	}
}

func (m *Machine) failNegotiation(err error) {
	m.log.Error().Err(err).Str("session", string(m.sess.id)).Msg("negotiation failed")
	s := m.sess
	if s.peerAware {
		m.send(core.EventEndCall, core.EndCallPayload{SessionID: s.id}, s.remote)
	}
	m.terminate(StateFailed, domain.ReasonNegotiationFailed, err.Error())
}

// terminate releases every owned resource synchronously and parks the
// session in a terminal state. Timers are cancelled first so nothing
// fires against a disposed session.
func (m *Machine) terminate(to LifecycleState, reason domain.TerminationReason, errMsg string) {
	s := m.sess
	s.stopTimers()
	for _, t := range s.localTracks {
		t.Stop()
	}
	if s.transport != nil {
		s.transport.Release()
	}
	s.buffer.Discard()
	s.inCall = false
	s.reason = reason
	m.setError(errMsg)
	m.transition(s, to)
}

func (m *Machine) transition(s *session, to LifecycleState) {
	if s.state != to {
		m.log.Info().Str("session", string(s.id)).Str("from", string(s.state)).Str("to", string(to)).Msg("transition")
	}
	s.state = to
	s.lastTransitionAt = m.clock.Now()
	m.publish()
}

// setError stages the snapshot error/annotation field; publish makes
// it visible.
func (m *Machine) setError(msg string) {
	m.snap.Error = msg
}

func (m *Machine) publish() {
	if m.sess == nil {
		m.snap = Snapshot{State: StateIdle, Negotiation: NegotiationNone, Error: m.snap.Error}
	} else {
		s := m.sess
		local := make([]TrackInfo, 0, len(s.localTracks))
		for _, t := range s.localTracks {
			local = append(local, TrackInfo{ID: t.ID(), Kind: t.Kind(), Enabled: t.Enabled()})
		}
		remote := make([]core.RemoteTrack, len(s.remoteTracks))
		copy(remote, s.remoteTracks)
		m.snap = Snapshot{
			SessionID:      s.id,
			RemoteParty:    s.remote,
			Role:           s.role,
			State:          s.state,
			Negotiation:    s.negotiation,
			TransportState: s.transportSt,
			InCall:         s.inCall,
			Reason:         s.reason,
			Error:          m.snap.Error,
			LocalTracks:    local,
			RemoteTracks:   remote,
		}
	}
	if m.onSnapshot != nil {
		m.onSnapshot(m.snap)
	}
}

// sinkFor gives the candidate buffer a lazy view of the session's
// transport, which may not exist yet when early candidates arrive.
func (m *Machine) sinkFor(s *session) func() candidateSink {
	return func() candidateSink {
		if s.transport == nil {
			return nil
		}
		return s.transport
	}
}
