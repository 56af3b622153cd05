package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

var errAssert = errors.New("rejected")

// ---- signal channel fake ----

type sentEvent struct {
	Event   core.EventName
	To      domain.PartyID
	Payload []byte
}

type fakeChannel struct {
	mu       sync.Mutex
	ready    bool
	handlers map[core.EventName][]func([]byte)
	sent     []sentEvent
	onError  func(error)
	onClosed func(bool)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{ready: true, handlers: make(map[core.EventName][]func([]byte))}
}

func (c *fakeChannel) Connect(context.Context) error { return nil }

func (c *fakeChannel) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeChannel) Send(event core.EventName, payload any, to domain.PartyID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return core.ErrChannelNotReady
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, sentEvent{Event: event, To: to, Payload: raw})
	return nil
}

func (c *fakeChannel) On(event core.EventName, handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *fakeChannel) OnReady(func())         {}
func (c *fakeChannel) OnError(fn func(error)) { c.onError = fn }
func (c *fakeChannel) OnClosed(fn func(bool)) { c.onClosed = fn }

func (c *fakeChannel) Close() {
	if c.onClosed != nil {
		c.onClosed(true)
	}
}

// inject delivers an inbound event as the relay would.
func (c *fakeChannel) inject(event core.EventName, payload any) {
	raw, _ := json.Marshal(payload)
	c.mu.Lock()
	handlers := c.handlers[event]
	c.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (c *fakeChannel) sentOf(event core.EventName) []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentEvent
	for _, s := range c.sent {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

// ---- peer transport fake ----

type fakeTransport struct {
	mu sync.Mutex

	createCalls  int
	releaseCalls int
	bound        []core.LocalTrack
	remoteDesc   bool
	applied      []core.Candidate
	rejectCand   map[string]bool
	offerCalls   int
	restartCalls int

	applyOfferErr  error
	applyAnswerErr error
	createOfferErr error

	onState       func(core.TransportState)
	onCandidate   func(core.Candidate)
	onRemoteTrack func(core.RemoteTrack)
	onAnnotation  func(string)
	onRestart     func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rejectCand: make(map[string]bool)}
}

func (t *fakeTransport) Create(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createCalls++
	return nil
}

func (t *fakeTransport) BindLocalTracks(tracks []core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = append(t.bound, tracks...)
	return nil
}

func (t *fakeTransport) CreateOffer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createOfferErr != nil {
		return "", t.createOfferErr
	}
	t.offerCalls++
	return "offer-sdp", nil
}

func (t *fakeTransport) ApplyRemoteOffer(string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applyOfferErr != nil {
		return t.applyOfferErr
	}
	t.remoteDesc = true
	return nil
}

func (t *fakeTransport) CreateAnswer() (string, error) { return "answer-sdp", nil }

func (t *fakeTransport) ApplyRemoteAnswer(string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applyAnswerErr != nil {
		return t.applyAnswerErr
	}
	t.remoteDesc = true
	return nil
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteDesc
}

func (t *fakeTransport) AddRemoteCandidate(c core.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rejectCand[c.Candidate] {
		return errAssert
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *fakeTransport) RestartDiscovery() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restartCalls++
	return "restart-offer-sdp", nil
}

func (t *fakeTransport) OnStateChange(fn func(core.TransportState)) { t.onState = fn }
func (t *fakeTransport) OnLocalCandidate(fn func(core.Candidate))   { t.onCandidate = fn }
func (t *fakeTransport) OnRemoteTrack(fn func(core.RemoteTrack))    { t.onRemoteTrack = fn }
func (t *fakeTransport) OnAnnotation(fn func(string))               { t.onAnnotation = fn }
func (t *fakeTransport) OnRestartNeeded(fn func())                  { t.onRestart = fn }

func (t *fakeTransport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseCalls++
}

func (t *fakeTransport) appliedCandidates() []core.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Candidate, len(t.applied))
	copy(out, t.applied)
	return out
}

// ---- media source fake ----

type fakeTrack struct {
	id      string
	kind    core.TrackKind
	mu      sync.Mutex
	enabled bool
	stops   int
}

func newFakeTrack(id string, kind core.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Unwrap() webrtc.TrackLocal { return nil }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeMedia struct {
	mu     sync.Mutex
	err    error
	tracks []core.LocalTrack
	gate   chan struct{} // when non-nil, Acquire blocks until closed
}

func newFakeMedia(tracks ...core.LocalTrack) *fakeMedia {
	return &fakeMedia{tracks: tracks}
}

func (m *fakeMedia) Acquire(context.Context, core.MediaConstraints) ([]core.LocalTrack, error) {
	m.mu.Lock()
	gate, err, tracks := m.gate, m.err, m.tracks
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

// ---- scheduler fake ----

type fakeTimer struct {
	sched   *fakeScheduler
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.stopped = true
	return !t.fired
}

type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Unix(1700000000, 0)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) core.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

// advance moves the clock and fires due, unstopped timers in
// registration order. Callbacks run outside the scheduler lock, like
// real timer goroutines.
func (s *fakeScheduler) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
