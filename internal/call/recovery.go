package call

import (
	"time"

	"github.com/medconnect/callkit/internal/core"
)

// RecoveryAction is what the state machine should do when a recovery
// timer fires.
type RecoveryAction int

const (
	ActionNone RecoveryAction = iota
	ActionRestartDiscovery
	ActionTeardown
)

// RecoveryPolicy centralizes every transport timeout and retry decision
// so the values are defined once and testable without real clocks.
//
// The functions are pure: they look only at the transport state passed
// in, which the machine reads at fire time. A transport that recovered
// before a timer fired turns the pending action into a no-op.
type RecoveryPolicy struct {
	// DisconnectGrace is how long a "disconnected" transport may stay
	// down before forced teardown. Longer than a Wi-Fi/cellular handover
	// gap, short enough to bound user-perceived hang time.
	DisconnectGrace time.Duration
	// RestartDelay is when, inside the grace window, the single
	// path-discovery restart is attempted. Not immediate, to avoid
	// restart storms on a flapping link.
	RestartDelay time.Duration
	// FailureGrace is the short window after a "failed" observation,
	// which is already a stronger signal than "disconnected".
	FailureGrace time.Duration
}

func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		DisconnectGrace: 15 * time.Second,
		RestartDelay:    5 * time.Second,
		FailureGrace:    3 * time.Second,
	}
}

// GraceFor returns the teardown window for a degraded observation, or
// zero when the observation does not open one.
func (p RecoveryPolicy) GraceFor(ts core.TransportState) time.Duration {
	switch ts {
	case core.TransportDisconnected:
		return p.DisconnectGrace
	case core.TransportFailed:
		return p.FailureGrace
	default:
		return 0
	}
}

// AtRestart decides the mid-window restart. Only a transport still
// sitting in "disconnected" gets the one restart attempt.
func (p RecoveryPolicy) AtRestart(ts core.TransportState) RecoveryAction {
	if ts == core.TransportDisconnected {
		return ActionRestartDiscovery
	}
	return ActionNone
}

// AtExpiry decides the end of a grace window. A transport that returned
// to a healthy state makes the pending teardown a no-op.
func (p RecoveryPolicy) AtExpiry(ts core.TransportState) RecoveryAction {
	switch ts {
	case core.TransportConnected, core.TransportConnecting, core.TransportNew:
		return ActionNone
	default:
		return ActionTeardown
	}
}
