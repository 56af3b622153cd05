package call

import (
	"github.com/rs/zerolog"

	"github.com/medconnect/callkit/internal/core"
)

// Disposition reports what the buffer did with a candidate.
type Disposition int

const (
	DispositionBuffered Disposition = iota
	DispositionApplied
	DispositionDropped
)

// candidateSink is the slice of the peer transport the buffer needs.
type candidateSink interface {
	HasRemoteDescription() bool
	AddRemoteCandidate(c core.Candidate) error
}

// candidateBuffer holds path candidates that arrive before the
// transport has a remote description. It is scoped to one session and
// drained exactly once.
type candidateBuffer struct {
	sink    func() candidateSink // nil until the session has a transport
	pending []core.Candidate
	flushed bool
	log     zerolog.Logger
}

func newCandidateBuffer(sink func() candidateSink, log zerolog.Logger) *candidateBuffer {
	return &candidateBuffer{sink: sink, log: log}
}

// Offer routes one inbound candidate. Once the transport has a remote
// description the candidate is forwarded immediately; before that it is
// appended in arrival order.
func (b *candidateBuffer) Offer(c core.Candidate) Disposition {
	s := b.sink()
	if s != nil && s.HasRemoteDescription() {
		if err := s.AddRemoteCandidate(c); err != nil {
			b.log.Warn().Err(err).Msg("candidate rejected by transport")
			return DispositionDropped
		}
		return DispositionApplied
	}
	b.pending = append(b.pending, c)
	return DispositionBuffered
}

// Flush applies every buffered candidate in original arrival order and
// permanently empties the queue. Called exactly once, immediately after
// the remote description is applied. A candidate the transport rejects
// is dropped with a warning and does not abort the rest of the flush.
func (b *candidateBuffer) Flush() {
	if b.flushed {
		b.log.Warn().Msg("candidate buffer flushed twice")
		return
	}
	b.flushed = true
	s := b.sink()
	if s == nil {
		b.pending = nil
		return
	}
	for _, c := range b.pending {
		if err := s.AddRemoteCandidate(c); err != nil {
			b.log.Warn().Err(err).Str("candidate", c.Candidate).Msg("dropping buffered candidate")
		}
	}
	b.pending = nil
}

func (b *candidateBuffer) Len() int { return len(b.pending) }

// Discard drops the buffer with the owning session.
func (b *candidateBuffer) Discard() {
	b.pending = nil
	b.flushed = true
}
