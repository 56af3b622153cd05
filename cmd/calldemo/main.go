// calldemo runs the full happy path against a running relayd: two
// in-process parties, one outgoing call, teardown on Ctrl-C or after
// the call connects.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/adapters/media"
	relayclient "github.com/medconnect/callkit/internal/adapters/relay"
	"github.com/medconnect/callkit/internal/adapters/rtc"
	"github.com/medconnect/callkit/internal/call"
	"github.com/medconnect/callkit/internal/config"
	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	caller := newParty(ctx, cfg, "demo-caller", "Demo Caller")
	callee := newParty(ctx, cfg, "demo-callee", "Demo Callee")

	callee.OnSnapshot(func(s call.Snapshot) {
		if s.State == call.StateIncomingRinging {
			// Snapshot callbacks run inside the machine's transition; call
			// back in from a fresh goroutine.
			go func() {
				if err := callee.Accept(); err != nil {
					log.Error().Err(err).Msg("accept")
				}
			}()
		}
	})

	connected := make(chan struct{})
	caller.OnSnapshot(func(s call.Snapshot) {
		if s.State == call.StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	if err := caller.Start("demo-callee", nil); err != nil {
		log.Fatal().Err(err).Msg("start")
	}

	select {
	case <-connected:
		log.Info().Msg("call connected, hanging up")
	case <-ctx.Done():
		log.Error().Msg("call never connected")
	}

	_ = caller.End()
	_ = caller.Dispose()
	time.Sleep(time.Second)
}

func newParty(ctx context.Context, cfg *config.Config, id domain.PartyID, name string) *call.Machine {
	channel := relayclient.NewChannel(relayclient.Options{
		URL: cfg.RelayURL,
		Identity: core.JoinPayload{
			PartyID:     id,
			DisplayName: name,
		},
		MaxAttempts: cfg.RetryAttempts,
		RetryDelay:  cfg.RetryDelay,
	})
	m := call.New(call.Config{
		LocalID:     id,
		DisplayName: name,
		Channel:     channel,
		Media:       media.NewSource(),
		NewTransport: func() core.PeerTransport {
			return rtc.NewTransport(rtc.Config{
				STUNServers:       cfg.StunServers,
				TURNURL:           cfg.TurnURL,
				TURNUsername:      cfg.TurnUsername,
				TURNCredential:    cfg.TurnCredential,
				CandidatePoolSize: cfg.CandidatePoolSize,
			})
		},
		Policy: call.RecoveryPolicy{
			DisconnectGrace: cfg.DisconnectGrace,
			RestartDelay:    cfg.RestartDelay,
			FailureGrace:    cfg.FailureGrace,
		},
	})
	if err := channel.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	return m
}
