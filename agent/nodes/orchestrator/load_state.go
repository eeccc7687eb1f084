package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

// LoadOrCreateState loads the session, drops replays of an inbound message
// already processed, and reopens terminal sessions for a new flow.
func LoadOrCreateState(ctx context.Context, in *GraphState, sessions Sessions, policy Policy) (*GraphState, error) {
	logger := zerolog.Ctx(ctx)

	if in.InboundKey != "" {
		seen, err := sessions.CheckIdempotency(ctx, in.InboundKey)
		if err != nil {
			return nil, fmt.Errorf("check inbound message: %w", err)
		}
		if seen {
			logger.Info().Str("message_id", in.Msg.MessageID).Msg("duplicate inbound message skipped")
			in.Duplicate = true
			in.Halted = true
			return in, nil
		}
	}

	mem, created, err := sessions.Load(ctx, in.Key, in.Msg.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if mem.CustomerID == "" {
		mem.CustomerID = in.Msg.CustomerID
	}
	if in.Msg.ChannelID != "" {
		mem.ChannelID = in.Msg.ChannelID
	}
	mem.EnsureContext()
	in.Session = mem
	in.Created = created

	switch mem.State {
	case statex.StateDone:
		if err := mem.Reopen(in.Now); err != nil {
			return nil, err
		}
	case statex.StateHandoff:
		if policy.HandoffHold > 0 && in.Now.Sub(mem.HandoffAt) < policy.HandoffHold {
			// A human owns the conversation; the message is stored but not
			// answered.
			in.Silent = true
			in.Halted = true
			in.Handoff = true
			break
		}
		if err := mem.Reopen(in.Now); err != nil {
			return nil, err
		}
	}

	in.PrevState = mem.State
	in.PrevThread = mem.Thread

	logger.Debug().
		Bool("created", created).
		Str("state", string(mem.State)).
		Str("thread", string(mem.Thread)).
		Msg("session loaded")
	return in, nil
}
