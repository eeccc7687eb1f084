package contract

import "context"

// Model is the language-model capability: prompt, tool schemas and history
// in, assistant text and/or tool proposals out.
type Model interface {
	Decide(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ChannelSender delivers reply text to a channel identifier.
type ChannelSender interface {
	Send(ctx context.Context, channelID string, msg OutboundMessage) error
}

type OutboundMessage struct {
	WorkspaceID string   `json:"workspace_id"`
	SessionID   string   `json:"session_id"`
	MessageID   string   `json:"message_id,omitempty"`
	Text        string   `json:"text"`
	Buttons     []Button `json:"buttons,omitempty"`
}
