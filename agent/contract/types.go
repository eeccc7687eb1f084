package contract

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

type Thread string

const (
	ThreadOrder   Thread = "ORDER"
	ThreadInfo    Thread = "INFO"
	ThreadHandoff Thread = "HANDOFF"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleOwner    Role = "owner"
)

// InboundMessage is one customer message as handed over by the channel
// adapter.
type InboundMessage struct {
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
	CustomerID  string `json:"customer_id"`
	ChannelID   string `json:"channel_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Text        string `json:"text"`
	// ConfirmationToken is set when the customer pressed an interactive
	// confirm/cancel button that carried the token.
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	ConfirmationReply string `json:"confirmation_reply,omitempty"`
}

// Button is an interactive reply option for channels that support them.
type Button struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

const (
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

type ToolRequest struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	ID     string `json:"id,omitempty"`
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToolRound is one model proposal together with what its calls returned,
// fed back to the model inside the same turn.
type ToolRound struct {
	Text     string        `json:"text,omitempty"`
	Requests []ToolRequest `json:"requests"`
	Results  []ToolResult  `json:"results"`
}

type ModelRequest struct {
	Thread       Thread             `json:"thread"`
	SystemPrompt string             `json:"system_prompt"`
	Tools        []*schema.ToolInfo `json:"tools,omitempty"`
	History      []Turn             `json:"history,omitempty"`
	UserMessage  string             `json:"user_message"`
	Rounds       []ToolRound        `json:"rounds,omitempty"`
}

type ModelResponse struct {
	Text         string        `json:"text,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
}

// ExecStatus is the outcome recorded for one tool-invocation attempt.
type ExecStatus string

const (
	ExecSuccess             ExecStatus = "success"
	ExecFailed              ExecStatus = "failed"
	ExecValidationFailed    ExecStatus = "validation_failed"
	ExecNotFound            ExecStatus = "not_found"
	ExecForbidden           ExecStatus = "forbidden"
	ExecReplayed            ExecStatus = "replayed"
	ExecPendingConfirmation ExecStatus = "pending_confirmation"
)
