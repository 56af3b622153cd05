package call

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

const (
	localParty  = domain.PartyID("patient-1")
	remoteParty = domain.PartyID("doctor-1")
)

type env struct {
	ch    *fakeChannel
	tr    *fakeTransport
	md    *fakeMedia
	sc    *fakeScheduler
	m     *Machine
	audio *fakeTrack
	video *fakeTrack
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ch:    newFakeChannel(),
		tr:    newFakeTransport(),
		sc:    newFakeScheduler(),
		audio: newFakeTrack("a1", core.TrackKindAudio),
		video: newFakeTrack("v1", core.TrackKindVideo),
	}
	e.md = newFakeMedia(e.audio, e.video)
	e.m = New(Config{
		LocalID:      localParty,
		DisplayName:  "Pat",
		Channel:      e.ch,
		Media:        e.md,
		NewTransport: func() core.PeerTransport { return e.tr },
		Clock:        e.sc,
	})
	return e
}

func (e *env) waitSent(t *testing.T, event core.EventName) sentEvent {
	t.Helper()
	var got sentEvent
	require.Eventually(t, func() bool {
		sent := e.ch.sentOf(event)
		if len(sent) == 0 {
			return false
		}
		got = sent[len(sent)-1]
		return true
	}, time.Second, time.Millisecond, "event %s never sent", event)
	return got
}

func (e *env) sid() domain.SessionID { return e.m.Snapshot().SessionID }

// startOutgoing drives Start through media acquisition and the sent
// invitation.
func (e *env) startOutgoing(t *testing.T) domain.SessionID {
	t.Helper()
	require.NoError(t, e.m.Start(remoteParty, nil))
	e.waitSent(t, core.EventStartCall)
	return e.sid()
}

// connectOutgoing drives the initiator all the way to Connected.
func (e *env) connectOutgoing(t *testing.T) domain.SessionID {
	t.Helper()
	sid := e.startOutgoing(t)
	e.ch.inject(core.EventCallAccepted, core.CallResponsePayload{SessionID: sid, To: localParty})
	e.ch.inject(core.EventAnswer, core.DescriptionPayload{SessionID: sid, SDP: "remote-answer"})
	e.tr.onState(core.TransportConnected)
	require.Equal(t, StateConnected, e.m.Snapshot().State)
	return sid
}

// acceptIncoming drives an inbound invitation through Accept into
// Negotiating.
func (e *env) acceptIncoming(t *testing.T, sid domain.SessionID) {
	t.Helper()
	e.ch.inject(core.EventIncomingCall, core.IncomingCallPayload{
		From: remoteParty, FromName: "Dr. Smith", SessionID: sid,
	})
	require.Equal(t, StateIncomingRinging, e.m.Snapshot().State)
	require.NoError(t, e.m.Accept())
	e.waitSent(t, core.EventAcceptCall)
	require.Equal(t, StateNegotiating, e.m.Snapshot().State)
}

func TestOutgoingHappyPath(t *testing.T) {
	e := newEnv(t)
	sid := e.startOutgoing(t)

	snap := e.m.Snapshot()
	assert.Equal(t, StateOutgoingRinging, snap.State)
	assert.Equal(t, domain.RoleInitiator, snap.Role)
	assert.NotEmpty(t, sid)

	e.ch.inject(core.EventCallAccepted, core.CallResponsePayload{SessionID: sid, To: localParty})
	snap = e.m.Snapshot()
	assert.Equal(t, StateNegotiating, snap.State)
	assert.Equal(t, NegotiationOfferSent, snap.Negotiation)
	e.waitSent(t, core.EventOffer)
	assert.Len(t, e.tr.bound, 2)

	e.ch.inject(core.EventAnswer, core.DescriptionPayload{SessionID: sid, SDP: "remote-answer"})
	assert.Equal(t, NegotiationAnswerReceived, e.m.Snapshot().Negotiation)

	e.tr.onState(core.TransportConnected)
	snap = e.m.Snapshot()
	assert.Equal(t, StateConnected, snap.State)
	assert.True(t, snap.InCall)

	e.tr.onRemoteTrack(core.RemoteTrack{ID: "r1", Kind: core.TrackKindAudio})
	assert.NotEmpty(t, e.m.Snapshot().RemoteTracks)
}

func TestRecipientHappyPath(t *testing.T) {
	e := newEnv(t)
	sid := domain.NewSessionID()
	e.acceptIncoming(t, sid)

	// the recipient does not send the first offer
	assert.Empty(t, e.ch.sentOf(core.EventOffer))

	e.ch.inject(core.EventOffer, core.DescriptionPayload{SessionID: sid, SDP: "remote-offer"})
	snap := e.m.Snapshot()
	assert.Equal(t, NegotiationAnswerSent, snap.Negotiation)
	e.waitSent(t, core.EventAnswer)

	e.tr.onState(core.TransportConnected)
	assert.Equal(t, StateConnected, e.m.Snapshot().State)
}

func TestCandidatesBufferedUntilOffer(t *testing.T) {
	e := newEnv(t)
	sid := domain.NewSessionID()
	e.acceptIncoming(t, sid)

	e.ch.inject(core.EventICECandidate, core.CandidatePayload{SessionID: sid, Candidate: "cand-1"})
	e.ch.inject(core.EventICECandidate, core.CandidatePayload{SessionID: sid, Candidate: "cand-2"})
	assert.Empty(t, e.tr.appliedCandidates(), "candidates must not apply before the remote description")

	e.ch.inject(core.EventOffer, core.DescriptionPayload{SessionID: sid, SDP: "remote-offer"})

	applied := e.tr.appliedCandidates()
	require.Len(t, applied, 2, "both candidates applied exactly once")
	assert.Equal(t, "cand-1", applied[0].Candidate)
	assert.Equal(t, "cand-2", applied[1].Candidate)

	// after the drain, candidates go straight through
	e.ch.inject(core.EventICECandidate, core.CandidatePayload{SessionID: sid, Candidate: "cand-3"})
	assert.Len(t, e.tr.appliedCandidates(), 3)
}

func TestNoInvitationTimeout(t *testing.T) {
	e := newEnv(t)
	e.startOutgoing(t)

	// no response from the recipient, ever
	e.sc.advance(10 * time.Minute)
	assert.Equal(t, StateOutgoingRinging, e.m.Snapshot().State)
	assert.Zero(t, e.sc.pending(), "ringing must not schedule timers")
}

func TestRemoteRejected(t *testing.T) {
	e := newEnv(t)
	sid := e.startOutgoing(t)

	e.ch.inject(core.EventCallRejected, core.CallResponsePayload{SessionID: sid, To: localParty})
	snap := e.m.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.Equal(t, domain.ReasonRemoteRejected, snap.Reason)
	assert.Equal(t, 1, e.audio.stopCount())
}

func TestDegradedRecovers(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)

	e.tr.onState(core.TransportDisconnected)
	assert.Equal(t, StateDegraded, e.m.Snapshot().State)
	assert.Equal(t, 2, e.sc.pending(), "restart and grace timers armed")

	e.tr.onState(core.TransportConnected)
	assert.Equal(t, StateConnected, e.m.Snapshot().State)

	// the cancelled grace timer must not fire a teardown
	e.sc.advance(time.Minute)
	assert.Equal(t, StateConnected, e.m.Snapshot().State)
	assert.Zero(t, e.tr.releaseCalls)
}

func TestGraceExpiryTearsDown(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)
	p := DefaultRecoveryPolicy()

	e.tr.onState(core.TransportDisconnected)
	assert.Equal(t, StateDegraded, e.m.Snapshot().State)

	// one restart attempt partway through the window, not immediately
	assert.Zero(t, e.tr.restartCalls)
	e.sc.advance(p.RestartDelay)
	assert.Equal(t, 1, e.tr.restartCalls)
	e.waitSent(t, core.EventOffer)

	e.sc.advance(p.DisconnectGrace - p.RestartDelay)
	snap := e.m.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, domain.ReasonTransportFailure, snap.Reason)
	assert.Equal(t, 1, e.tr.releaseCalls, "transport released exactly once")
	assert.Equal(t, 1, e.audio.stopCount())
}

func TestFailedObservationShortGrace(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)
	p := DefaultRecoveryPolicy()

	e.tr.onState(core.TransportFailed)
	assert.Equal(t, StateDegraded, e.m.Snapshot().State)

	// a flap back to connected makes the pending teardown a no-op
	e.tr.onState(core.TransportConnected)
	e.sc.advance(p.FailureGrace)
	assert.Equal(t, StateConnected, e.m.Snapshot().State)

	e.tr.onState(core.TransportFailed)
	e.sc.advance(p.FailureGrace)
	assert.Equal(t, StateFailed, e.m.Snapshot().State)
}

func TestEndWhileNegotiating(t *testing.T) {
	e := newEnv(t)
	sid := e.startOutgoing(t)
	e.ch.inject(core.EventCallAccepted, core.CallResponsePayload{SessionID: sid, To: localParty})
	require.Equal(t, StateNegotiating, e.m.Snapshot().State)

	require.NoError(t, e.m.End())
	snap := e.m.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.Equal(t, domain.ReasonHangup, snap.Reason)
	e.waitSent(t, core.EventEndCall)
	assert.Equal(t, 1, e.tr.releaseCalls)
}

func TestEndAbortsPendingAcquisition(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	e.md.gate = gate

	sid := domain.NewSessionID()
	e.ch.inject(core.EventIncomingCall, core.IncomingCallPayload{
		From: remoteParty, FromName: "Dr. Smith", SessionID: sid,
	})
	require.NoError(t, e.m.Accept())
	require.NoError(t, e.m.End())
	assert.Equal(t, StateEnded, e.m.Snapshot().State)

	// the acquisition resolves after teardown; tracks must not bind
	close(gate)
	require.Eventually(t, func() bool { return e.audio.stopCount() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, e.tr.bound)
	assert.Zero(t, e.tr.createCalls)
}

func TestDuplicateCallAcceptedIgnored(t *testing.T) {
	e := newEnv(t)
	sid := e.startOutgoing(t)
	e.ch.inject(core.EventCallAccepted, core.CallResponsePayload{SessionID: sid, To: localParty})
	e.ch.inject(core.EventCallAccepted, core.CallResponsePayload{SessionID: sid, To: localParty})

	assert.Equal(t, 1, e.tr.offerCalls)
	assert.Len(t, e.ch.sentOf(core.EventOffer), 1)
}

func TestReentrantStartRejected(t *testing.T) {
	e := newEnv(t)
	e.startOutgoing(t)
	assert.ErrorIs(t, e.m.Start(remoteParty, nil), ErrBusy)
	assert.ErrorIs(t, e.m.Accept(), ErrInvalidState)
}

func TestRepeatedAcceptRejected(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	e.md.gate = gate

	sid := domain.NewSessionID()
	e.ch.inject(core.EventIncomingCall, core.IncomingCallPayload{
		From: remoteParty, FromName: "Dr. Smith", SessionID: sid,
	})
	require.NoError(t, e.m.Accept())

	// the first acquisition is still in flight; a second accept must not
	// start another one
	assert.ErrorIs(t, e.m.Accept(), ErrInvalidState)

	close(gate)
	e.waitSent(t, core.EventAcceptCall)
	require.Equal(t, StateNegotiating, e.m.Snapshot().State)
	assert.Len(t, e.ch.sentOf(core.EventAcceptCall), 1, "acceptance signaled once")
	assert.Zero(t, e.audio.stopCount(), "live tracks are never overwritten")
}

func TestBusyRejectsSecondIncoming(t *testing.T) {
	e := newEnv(t)
	sid := e.startOutgoing(t)

	other := domain.NewSessionID()
	e.ch.inject(core.EventIncomingCall, core.IncomingCallPayload{
		From: "doctor-2", FromName: "Dr. Two", SessionID: other,
	})

	rejects := e.ch.sentOf(core.EventRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.PartyID("doctor-2"), rejects[0].To)
	assert.Equal(t, sid, e.m.Snapshot().SessionID, "active session untouched")
}

func TestRejectIncoming(t *testing.T) {
	e := newEnv(t)
	sid := domain.NewSessionID()
	e.ch.inject(core.EventIncomingCall, core.IncomingCallPayload{
		From: remoteParty, FromName: "Dr. Smith", SessionID: sid,
	})
	require.NoError(t, e.m.Reject())

	assert.Equal(t, StateEnded, e.m.Snapshot().State)
	require.Len(t, e.ch.sentOf(core.EventRejectCall), 1)
}

func TestRemoteHangup(t *testing.T) {
	e := newEnv(t)
	sid := e.connectOutgoing(t)

	e.ch.inject(core.EventEndCall, core.EndCallPayload{SessionID: sid})
	snap := e.m.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.Equal(t, domain.ReasonRemoteHangup, snap.Reason)
	assert.Equal(t, 1, e.tr.releaseCalls)
}

func TestVoluntaryChannelCloseEndsSession(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)

	e.ch.Close()
	assert.Equal(t, StateEnded, e.m.Snapshot().State)
	assert.Equal(t, 1, e.tr.releaseCalls)
}

func TestChannelErrorAnnotatesOnly(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)

	e.ch.onError(errors.New("relay unreachable"))
	snap := e.m.Snapshot()
	assert.Equal(t, StateConnected, snap.State, "relay trouble never ends a call by itself")
	assert.Equal(t, "signaling unavailable", snap.Error)

	e.tr.onState(core.TransportConnected)
	assert.Empty(t, e.m.Snapshot().Error)
}

func TestChannelErrorSurfacedWhileIdle(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, StateIdle, e.m.Snapshot().State)

	e.ch.onError(errors.New("relay unreachable"))
	snap := e.m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, "signaling unavailable", snap.Error)
}

func TestInvoluntaryDropKeepsSession(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)

	e.ch.onClosed(false)
	assert.Equal(t, StateConnected, e.m.Snapshot().State)
	assert.Zero(t, e.tr.releaseCalls)
}

func TestRenegotiationWhileConnected(t *testing.T) {
	e := newEnv(t)
	sid := e.connectOutgoing(t)

	before := len(e.tr.appliedCandidates())
	e.ch.inject(core.EventOffer, core.DescriptionPayload{SessionID: sid, SDP: "renegotiation-offer"})

	snap := e.m.Snapshot()
	assert.Equal(t, StateConnected, snap.State, "in-call flag survives a renegotiation sub-cycle")
	assert.True(t, snap.InCall)
	e.waitSent(t, core.EventAnswer)
	assert.Len(t, e.tr.appliedCandidates(), before, "buffer is not re-flushed")
}

func TestMediaFailureAbortsAccept(t *testing.T) {
	e := newEnv(t)
	e.md.err = core.ErrMediaAccessDenied

	sid := domain.NewSessionID()
	e.ch.inject(core.EventIncomingCall, core.IncomingCallPayload{
		From: remoteParty, FromName: "Dr. Smith", SessionID: sid,
	})
	require.NoError(t, e.m.Accept())

	require.Eventually(t, func() bool {
		return e.m.Snapshot().State == StateFailed
	}, time.Second, time.Millisecond)
	snap := e.m.Snapshot()
	assert.Equal(t, domain.ReasonLocalError, snap.Reason)
	// the initiator already knows about this call, so it is told
	e.waitSent(t, core.EventRejectCall)
}

func TestMediaFailureBeforeInvite(t *testing.T) {
	e := newEnv(t)
	e.md.err = core.ErrMediaAccessDenied

	require.NoError(t, e.m.Start(remoteParty, nil))
	require.Eventually(t, func() bool {
		return e.m.Snapshot().State == StateFailed
	}, time.Second, time.Millisecond)

	// nothing was ever sent; the peer never learned of the attempt
	assert.Empty(t, e.ch.sentOf(core.EventStartCall))
	assert.Empty(t, e.ch.sentOf(core.EventEndCall))
}

func TestUnknownSessionIgnored(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)

	e.ch.inject(core.EventEndCall, core.EndCallPayload{SessionID: domain.NewSessionID()})
	assert.Equal(t, StateConnected, e.m.Snapshot().State)
}

func TestTerminalSessionStaysDead(t *testing.T) {
	e := newEnv(t)
	sid := e.connectOutgoing(t)
	require.NoError(t, e.m.End())

	e.ch.inject(core.EventOffer, core.DescriptionPayload{SessionID: sid, SDP: "late-offer"})
	e.tr.onState(core.TransportConnected)
	assert.Equal(t, StateEnded, e.m.Snapshot().State)
}

func TestDisposeReturnsToIdle(t *testing.T) {
	e := newEnv(t)
	first := e.connectOutgoing(t)
	require.NoError(t, e.m.End())
	assert.ErrorIs(t, e.m.Start(remoteParty, nil), ErrBusy)

	require.NoError(t, e.m.Dispose())
	assert.Equal(t, StateIdle, e.m.Snapshot().State)

	second := e.startOutgoing(t)
	assert.NotEqual(t, first, second, "a new call gets a new session id")
}

func TestMuteToggle(t *testing.T) {
	e := newEnv(t)
	e.connectOutgoing(t)

	require.NoError(t, e.m.SetAudioEnabled(false))
	assert.False(t, e.audio.Enabled())
	assert.True(t, e.video.Enabled())

	require.NoError(t, e.m.SetVideoEnabled(false))
	assert.False(t, e.video.Enabled())

	for _, ti := range e.m.Snapshot().LocalTracks {
		assert.False(t, ti.Enabled)
	}
}

func TestTransportAnnotation(t *testing.T) {
	e := newEnv(t)
	sid := e.startOutgoing(t)
	e.ch.inject(core.EventCallAccepted, core.CallResponsePayload{SessionID: sid, To: localParty})

	e.tr.onAnnotation("establishing connection")
	assert.Equal(t, "establishing connection", e.m.Snapshot().Error)

	e.tr.onState(core.TransportConnected)
	assert.Empty(t, e.m.Snapshot().Error)
}
