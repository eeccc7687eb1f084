package orchestratornode

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/router"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

// confirmationReply reads the customer's answer to a pending request. A
// button payload carries its own token; a plain yes/no answers the
// session's pending request.
func confirmationReply(in *GraphState) (reply, token string, ok bool) {
	if in.Msg.ConfirmationToken != "" {
		return in.Msg.ConfirmationReply, in.Msg.ConfirmationToken, true
	}
	pending := in.Session.PendingConfirmation
	if !pending.IsOpen() {
		return "", "", false
	}
	switch {
	case router.IsAffirmative(in.Msg.Text):
		return ReplyConfirm, pending.Token, true
	case router.IsNegative(in.Msg.Text):
		return ReplyCancel, pending.Token, true
	}
	return "", "", false
}

// ResolveConfirmation settles a pending confirmation before anything else
// looks at the message. A confirmed request runs its staged calls exactly
// once; cancelled, expired, or mismatched requests run nothing.
func ResolveConfirmation(
	ctx context.Context,
	in *GraphState,
	executor Executor,
	copyText prompt.Copy,
	policy Policy,
) (*GraphState, error) {
	if in.Halted {
		return in, nil
	}
	logger := zerolog.Ctx(ctx)
	mem := in.Session
	pending := mem.PendingConfirmation
	reply, token, answered := confirmationReply(in)

	if pending.IsOpen() && pending.Expired(in.Now) {
		logger.Info().Str("token", pending.Token).Msg("pending confirmation expired")
		_ = pending.Cancel(in.Now)
		if err := mem.ClearPending(in.Now); err != nil {
			return nil, err
		}
		in.Resolved = true
		if answered {
			in.Reply = copyText.Expired
			in.Halted = true
			return in, nil
		}
		in.Notices = append(in.Notices, copyText.Expired)
		return in, nil
	}
	if !answered {
		return in, nil
	}
	if !pending.IsOpen() {
		// A stale button from an earlier request.
		logger.Info().Msg("confirmation reply without an open request")
		in.Reply = copyText.Mismatch
		in.Halted = true
		return in, nil
	}

	in.Resolved = true
	if reply == ReplyCancel {
		if err := pending.Cancel(in.Now); err != nil && !errors.Is(err, contractx.ErrConfirmationExpired) {
			logger.Warn().Err(err).Msg("cancel confirmation")
		}
		if err := mem.ClearPending(in.Now); err != nil {
			return nil, err
		}
		in.Reply = copyText.Cancelled
		in.Halted = true
		return in, nil
	}

	if err := pending.Resolve(token, in.Now); err != nil {
		logger.Warn().Err(err).Msg("confirmation rejected")
		if err := mem.ClearPending(in.Now); err != nil {
			return nil, err
		}
		in.Reply = copyText.Mismatch
		if errors.Is(err, contractx.ErrConfirmationExpired) {
			in.Reply = copyText.Expired
		}
		in.Halted = true
		return in, nil
	}

	calls := pending.Calls
	if err := mem.SetState(statex.StateExecuting, in.Now); err != nil {
		return nil, err
	}
	ec := in.execContext(correlationID(ctx))
	ec.Confirmed = true

	round := contractx.ToolRound{}
	outcomes := make([]statex.Outcome, 0, len(calls))
	settled := true
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = "confirmed_" + call.Tool
		}
		exec := executeWithRetry(ctx, executor, call.Tool, call.Args, ec, policy)
		in.Executions = append(in.Executions, exec)
		outcomes = append(outcomes, exec.Outcome())
		round.Requests = append(round.Requests, contractx.ToolRequest{ID: id, Tool: call.Tool, Args: call.Args})
		round.Results = append(round.Results, exec.ToolResult(id))

		if needsHandoff(exec) {
			logger.Error().Err(exec.Err).Str("tool", exec.Tool).Msg("confirmed tool failed, escalating")
			in.escalate(handoffReason(exec), copyText.Handoff)
			return in, nil
		}
		if exec.Status != contractx.ExecSuccess && exec.Status != contractx.ExecReplayed {
			settled = false
			// Later calls of the same request depend on this one.
			logger.Info().Str("tool", exec.Tool).Str("status", string(exec.Status)).Int("skipped", len(calls)-i-1).Msg("confirmed call did not succeed")
			break
		}
	}

	next, ok := statex.SuggestNext(statex.StateExecuting, outcomes)
	if !ok && settled {
		next, ok = statex.StateDone, true
	}
	if !ok || !statex.CanTransition(statex.StateExecuting, next) || next == statex.StateAwaitingConfirmation {
		next = statex.StateCollectingOrder
	}
	if err := mem.SetState(next, in.Now); err != nil {
		return nil, err
	}

	in.Rounds = append(in.Rounds, round)
	in.QueryOnly = true
	in.FallbackReply = copyText.Done
	if next != statex.StateDone {
		in.FallbackReply = copyText.GenericFailure
	}
	return in, nil
}
