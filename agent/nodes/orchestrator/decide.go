package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/router"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/tool"
)

const ReasonModelUnavailable = "model_unavailable"

// DecideAndExecute runs the bounded model/tool loop of one turn. It stops
// when the model answers with text only, when a confirmation is staged, or
// when the turn escalates.
func DecideAndExecute(
	ctx context.Context,
	in *GraphState,
	model contractx.Model,
	executor Executor,
	prompts prompt.PromptSet,
	copyText prompt.Copy,
	policy Policy,
) (*GraphState, error) {
	if in.Halted {
		return in, nil
	}
	logger := zerolog.Ctx(ctx)
	mem := in.Session

	systemPrompt, err := prompts.For(mem.Thread, promptVars(in))
	if err != nil {
		return nil, err
	}
	tools := offeredTools(in, executor)
	offered := make(map[string]struct{}, len(tools))
	for _, info := range tools {
		offered[info.Name] = struct{}{}
	}

	maxRounds := policy.MaxToolRounds
	if maxRounds < 1 {
		maxRounds = 1
	}
	var missing []string
	for round := 0; round < maxRounds; round++ {
		last := round == maxRounds-1
		req := contractx.ModelRequest{
			Thread:       mem.Thread,
			SystemPrompt: systemPrompt,
			History:      mem.History,
			UserMessage:  in.Msg.Text,
			Rounds:       in.Rounds,
		}
		if !last {
			req.Tools = tools
		}

		resp, err := decideWithRetry(ctx, model, req, policy)
		if err != nil {
			logger.Error().Err(err).Int("round", round).Msg("model unavailable")
			if in.FallbackReply != "" {
				in.Reply = in.FallbackReply
				return in, nil
			}
			in.Failed = true
			in.escalate(ReasonModelUnavailable, copyText.Handoff)
			return in, nil
		}
		if len(resp.ToolRequests) == 0 || last {
			if last && len(resp.ToolRequests) > 0 {
				logger.Warn().Int("ignored", len(resp.ToolRequests)).Msg("tool requests past the round limit")
			}
			in.Reply = strings.TrimSpace(resp.Text)
			break
		}

		ec := in.execContext(correlationID(ctx))
		current := contractx.ToolRound{Text: resp.Text}
		var pending []tool.Execution
		for _, call := range resp.ToolRequests {
			current.Requests = append(current.Requests, call)
			if _, ok := offered[call.Tool]; !ok {
				logger.Warn().Str("tool", call.Tool).Msg("model asked for a tool it was not offered")
				exec := executor.Refuse(ctx, call.Tool, call.Args, ec, "is not available in this conversation")
				in.Executions = append(in.Executions, exec)
				current.Results = append(current.Results, exec.ToolResult(call.ID))
				continue
			}

			exec := executeWithRetry(ctx, executor, call.Tool, call.Args, ec, policy)
			in.record(exec)
			current.Results = append(current.Results, exec.ToolResult(call.ID))

			if needsHandoff(exec) {
				logger.Error().Err(exec.Err).Str("tool", exec.Tool).Msg("tool failed, escalating")
				in.escalate(handoffReason(exec), copyText.Handoff)
				return in, nil
			}
			if exec.Status == contractx.ExecValidationFailed {
				for _, f := range exec.Fields {
					missing = append(missing, f.Field)
				}
			}
			if exec.Status == contractx.ExecPendingConfirmation {
				pending = append(pending, exec)
				// One outstanding confirmation per session; later calls
				// wait for the next turn.
				break
			}
		}
		in.Rounds = append(in.Rounds, current)

		if len(pending) > 0 {
			minutes := strconv.Itoa(int(executor.ConfirmationTTL().Minutes()))
			if err := stageConfirmation(in, pending, minutes, copyText); err != nil {
				return nil, fmt.Errorf("stage confirmation: %w", err)
			}
			logger.Info().Str("tool", pending[0].Tool).Time("expires_at", in.Staged.ExpiresAt).Msg("confirmation staged")
			return in, nil
		}
	}

	if in.Reply == "" {
		switch {
		case in.FallbackReply != "":
			in.Reply = in.FallbackReply
		case len(missing) > 0:
			in.Reply = prompt.Fill(copyText.ValidationFailure, map[string]string{"fields": strings.Join(missing, ", ")})
		default:
			in.Failed = true
			in.Reply = copyText.GenericFailure
		}
	}
	return in, nil
}

func offeredTools(in *GraphState, executor Executor) []*schema.ToolInfo {
	if in.QueryOnly {
		return executor.ToolInfos(tool.CategoryQuery)
	}
	categories := tool.ThreadCategories(in.Session.Thread)
	if len(categories) == 0 {
		return nil
	}
	return executor.ToolInfos(categories...)
}

func promptVars(in *GraphState) map[string]string {
	cart := router.BuildReturnToOrderContext(in.Session.EnsureCart())
	if cart == "" {
		cart = "vacío"
	}
	return map[string]string{
		"state": string(in.Session.State),
		"cart":  cart,
	}
}

// decideWithRetry applies the per-call timeout and retries transient and
// malformed-output failures up to policy.ModelRetries times.
func decideWithRetry(ctx context.Context, model contractx.Model, req contractx.ModelRequest, policy Policy) (contractx.ModelResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := decideOnce(ctx, model, req, policy)
		if err == nil {
			return resp, nil
		}
		retryable := contractx.IsTransient(err) || errors.Is(err, contractx.ErrSchemaViolation)
		if !retryable || attempt >= policy.ModelRetries || ctx.Err() != nil {
			return contractx.ModelResponse{}, err
		}
		zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt+1).Msg("model call failed, retrying")
		if err := sleepCtx(ctx, policy.RetryBackoff); err != nil {
			return contractx.ModelResponse{}, err
		}
	}
}

func decideOnce(ctx context.Context, model contractx.Model, req contractx.ModelRequest, policy Policy) (contractx.ModelResponse, error) {
	callCtx := ctx
	if policy.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, policy.ModelTimeout)
		defer cancel()
	}
	resp, err := model.Decide(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return resp, fmt.Errorf("%w: model timed out after %s: %w", contractx.ErrTransientBackend, policy.ModelTimeout, err)
	}
	return resp, err
}
