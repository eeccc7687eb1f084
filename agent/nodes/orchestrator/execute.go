package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/tool"
)

// executeWithRetry retries transient failures up to policy.ToolRetries
// times. The registry's idempotency keys make a retried mutation safe.
func executeWithRetry(
	ctx context.Context,
	executor Executor,
	name string,
	args map[string]any,
	ec tool.ExecContext,
	policy Policy,
) tool.Execution {
	for attempt := 0; ; attempt++ {
		exec := executor.Execute(ctx, name, args, ec)
		if exec.Status != contractx.ExecFailed || !contractx.IsTransient(exec.Err) || attempt >= policy.ToolRetries {
			return exec
		}
		zerolog.Ctx(ctx).Warn().
			Err(exec.Err).
			Str("tool", name).
			Int("attempt", attempt+1).
			Msg("transient tool failure, retrying")
		if err := sleepCtx(ctx, policy.RetryBackoff); err != nil {
			return exec
		}
	}
}

// needsHandoff reports whether a failed execution must go to a human.
// Business refusals go back to the model; a mutation that still fails after
// its retry, or fails fatally, does not.
func needsHandoff(exec tool.Execution) bool {
	if exec.Status != contractx.ExecFailed || exec.Category != tool.CategoryMutation {
		return false
	}
	return !errors.Is(exec.Err, contractx.ErrBusinessRule)
}

func handoffReason(exec tool.Execution) string {
	if errors.Is(exec.Err, contractx.ErrFatalBackend) {
		return "tool_fatal:" + exec.Tool
	}
	return "tool_failed_twice:" + exec.Tool
}

// stageConfirmation turns the pending executions of one round into a single
// confirmation request. The first pending token is kept for the request.
func stageConfirmation(in *GraphState, pending []tool.Execution, ttl string, copyText prompt.Copy) error {
	calls := make([]statex.PendingCall, 0, len(pending))
	labels := make([]string, 0, len(pending))
	for _, exec := range pending {
		call := exec.Pending.Call
		calls = append(calls, call)
		labels = append(labels, copyText.Label(call.Tool, call.Args, labelVars(in.Session), call.Description))
	}
	actions := strings.Join(labels, "; ")
	first := pending[0].Pending
	warning := prompt.Fill(copyText.ConfirmWarning, map[string]string{"actions": actions, "minutes": ttl})

	req := statex.NewConfirmationRequest(first.Token, calls, warning, in.Session.State, in.Now, first.ExpiresAt.Sub(in.Now))
	if err := in.Session.Stage(req, in.Now); err != nil {
		return err
	}
	in.Staged = req
	in.Reply = warning
	in.Buttons = confirmationButtons(req.Token, copyText)
	return nil
}

func confirmationButtons(token string, copyText prompt.Copy) []contractx.Button {
	return []contractx.Button{
		{ID: ReplyConfirm, Title: copyText.ConfirmButton, Payload: ButtonPayload(ReplyConfirm, token)},
		{ID: ReplyCancel, Title: copyText.CancelButton, Payload: ButtonPayload(ReplyCancel, token)},
	}
}

func pendingActions(req *statex.ConfirmationRequest, mem *statex.SessionMemory, copyText prompt.Copy) string {
	labels := make([]string, 0, len(req.Calls))
	for _, call := range req.Calls {
		labels = append(labels, copyText.Label(call.Tool, call.Args, labelVars(mem), call.Description))
	}
	return strings.Join(labels, "; ")
}

func labelVars(mem *statex.SessionMemory) map[string]string {
	return map[string]string{"total": formatMoney(mem.EnsureCart().TotalCents())}
}

func formatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
