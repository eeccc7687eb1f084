package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/router"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

const ReasonIllegalTransition = "illegal_transition"

// ApplyTransition moves the session along the order flow, composes the
// final reply text, and records the turn in the history.
func ApplyTransition(ctx context.Context, in *GraphState, copyText prompt.Copy, policy Policy) (*GraphState, error) {
	if in.Duplicate {
		return in, nil
	}
	logger := zerolog.Ctx(ctx)
	mem := in.Session

	if mem.State != statex.StateHandoff && in.Staged == nil {
		if next, ok := statex.SuggestNext(mem.State, in.Outcomes); ok {
			if err := mem.SetState(next, in.Now); err != nil {
				if policy.StrictMode {
					return nil, fmt.Errorf("apply transition: %w", err)
				}
				logger.Error().Err(err).Msg("illegal transition, escalating")
				in.escalate(ReasonIllegalTransition, copyText.Handoff)
			}
		}
	}
	if mem.State == statex.StateExecuting {
		// EXECUTING only lives inside a turn.
		if err := mem.SetState(statex.StateCollectingOrder, in.Now); err != nil {
			return nil, err
		}
	}

	if !in.Silent {
		in.Reply = composeReply(in, copyText)
	}

	// One increment per turn; a frustrated turn was already counted when
	// it was routed.
	switch {
	case in.Classification.SentimentNegative:
	case in.Failed:
		mem.FailureStreak++
	case !in.Handoff:
		mem.FailureStreak = 0
	}

	text := in.Msg.Text
	if text == "" {
		text = in.Msg.ConfirmationReply
	}
	mem.AppendTurn(contractx.TurnUser, text, in.Now, policy.HistoryLimit)
	if !in.Silent {
		mem.AppendTurn(contractx.TurnAssistant, in.Reply, in.Now, policy.HistoryLimit)
	}
	mem.Touch(in.Now)

	logger.Info().
		Str("from", string(in.PrevState)).
		Str("to", string(mem.State)).
		Str("thread", string(mem.Thread)).
		Int("executions", len(in.Executions)).
		Bool("handoff", in.Handoff).
		Msg("turn applied")
	return in, nil
}

func composeReply(in *GraphState, copyText prompt.Copy) string {
	mem := in.Session
	parts := make([]string, 0, len(in.Notices)+3)
	parts = append(parts, in.Notices...)
	parts = append(parts, in.Reply)

	if in.Handoff {
		return joinReply(parts)
	}
	if in.ReturnToOrder && in.Staged == nil {
		if items := router.BuildReturnToOrderContext(mem.Cart); items != "" {
			parts = append(parts, prompt.Fill(copyText.ReturnToOrder, map[string]string{"items": items}))
		}
	}
	if pending := mem.PendingConfirmation; pending.IsOpen() && in.Staged == nil {
		parts = append(parts, prompt.Fill(copyText.PendingReminder, map[string]string{
			"actions": pendingActions(pending, mem, copyText),
		}))
		in.Buttons = confirmationButtons(pending.Token, copyText)
	}
	return joinReply(parts)
}

func joinReply(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
