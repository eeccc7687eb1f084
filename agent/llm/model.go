package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Retail-Agent/pkg/openrouter"
)

// ChatModel adapts an eino tool-calling chat model to contract.Model.
type ChatModel struct {
	base einomodel.ToolCallingChatModel
}

func NewChatModel(base einomodel.ToolCallingChatModel) *ChatModel {
	return &ChatModel{base: base}
}

func (m *ChatModel) Decide(ctx context.Context, req contractx.ModelRequest) (contractx.ModelResponse, error) {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return contractx.ModelResponse{}, contractx.ErrPromptMissing
	}
	chat := m.base
	if len(req.Tools) > 0 {
		bound, err := m.base.WithTools(req.Tools)
		if err != nil {
			return contractx.ModelResponse{}, fmt.Errorf("%w: bind tools: %w", contractx.ErrModelInvoke, err)
		}
		chat = bound
	}

	messages, err := buildMessages(req)
	if err != nil {
		return contractx.ModelResponse{}, err
	}
	msg, err := chat.Generate(ctx, messages)
	if err != nil {
		return contractx.ModelResponse{}, fmt.Errorf("%w: %w", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.ModelResponse{}, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}

	requests, err := toToolRequests(msg.ToolCalls)
	if err != nil {
		return contractx.ModelResponse{}, err
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" && len(requests) == 0 {
		return contractx.ModelResponse{}, fmt.Errorf("%w: response has neither text nor tool calls", contractx.ErrSchemaViolation)
	}
	return contractx.ModelResponse{Text: text, ToolRequests: requests}, nil
}

func buildMessages(req contractx.ModelRequest) ([]*schema.Message, error) {
	messages := make([]*schema.Message, 0, len(req.History)+2+3*len(req.Rounds))
	messages = append(messages, schema.SystemMessage(req.SystemPrompt))
	for _, turn := range req.History {
		switch turn.Role {
		case contractx.TurnAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(turn.Content))
		}
	}
	messages = append(messages, schema.UserMessage(req.UserMessage))

	for _, round := range req.Rounds {
		calls := make([]schema.ToolCall, 0, len(round.Requests))
		for _, tr := range round.Requests {
			args, err := json.Marshal(tr.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal args for tool=%s: %v", contractx.ErrValidation, tr.Tool, err)
			}
			calls = append(calls, schema.ToolCall{
				ID:       tr.ID,
				Type:     "function",
				Function: schema.FunctionCall{Name: tr.Tool, Arguments: string(args)},
			})
		}
		messages = append(messages, schema.AssistantMessage(round.Text, calls))
		for _, res := range round.Results {
			payload, err := json.Marshal(res)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal result for tool=%s: %v", contractx.ErrValidation, res.Tool, err)
			}
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    string(payload),
				ToolCallID: res.ID,
			})
		}
	}
	return messages, nil
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for i, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		reqs = append(reqs, contractx.ToolRequest{ID: id, Tool: tool, Args: args})
	}
	return reqs, nil
}

// ThreadModels picks the model configured for the request's thread.
type ThreadModels struct {
	order contractx.Model
	info  contractx.Model
}

func NewThreadModels(order, info contractx.Model) *ThreadModels {
	if info == nil {
		info = order
	}
	return &ThreadModels{order: order, info: info}
}

// BuildThreadModels creates one OpenRouter-backed chat model per thread.
func BuildThreadModels(ctx context.Context, cfg Config) (*ThreadModels, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build := func(thread contractx.Thread) (contractx.Model, error) {
		orCfg := cfg.OpenRouterFor(thread)
		var builder openrouterx.LLMBuilder = &orCfg
		base, err := builder.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: build %s model: %v", contractx.ErrModelInvoke, thread, err)
		}
		return NewChatModel(base), nil
	}
	order, err := build(contractx.ThreadOrder)
	if err != nil {
		return nil, err
	}
	info, err := build(contractx.ThreadInfo)
	if err != nil {
		return nil, err
	}
	return NewThreadModels(order, info), nil
}

func (t *ThreadModels) Decide(ctx context.Context, req contractx.ModelRequest) (contractx.ModelResponse, error) {
	if req.Thread == contractx.ThreadInfo {
		return t.info.Decide(ctx, req)
	}
	return t.order.Decide(ctx, req)
}
