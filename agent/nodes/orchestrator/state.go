package orchestratornode

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/router"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/tool"
)

// Policy is the tunable part of one turn.
type Policy struct {
	MaxToolRounds        int
	HistoryLimit         int
	ModelTimeout         time.Duration
	ModelRetries         int
	ToolRetries          int
	RetryBackoff         time.Duration
	HandoffHold          time.Duration
	FrustrationThreshold int
	// StrictMode fails the turn on an illegal transition instead of
	// escalating it.
	StrictMode bool
}

type GraphInput = contractx.InboundMessage

// ConfirmationView is the public part of a staged confirmation.
type ConfirmationView struct {
	Token     string    `json:"token"`
	Warning   string    `json:"warning"`
	ExpiresAt time.Time `json:"expires_at"`
}

type GraphOutput struct {
	Reply         string             `json:"reply"`
	State         statex.AgentState  `json:"state"`
	Thread        contractx.Thread   `json:"thread"`
	Handoff       bool               `json:"handoff"`
	HandoffReason string             `json:"handoff_reason,omitempty"`
	Confirmation  *ConfirmationView  `json:"confirmation,omitempty"`
	Buttons       []contractx.Button `json:"buttons,omitempty"`
	Executions    []tool.Execution   `json:"executions,omitempty"`
	Duplicate     bool               `json:"duplicate,omitempty"`
	Silent        bool               `json:"silent,omitempty"`
}

type GraphState struct {
	Msg        contractx.InboundMessage
	Key        statex.SessionKey
	Now        time.Time
	InboundKey string

	Session    *statex.SessionMemory
	Created    bool
	PrevState  statex.AgentState
	PrevThread contractx.Thread

	Classification router.Classification
	ReturnToOrder  bool

	// Rounds already executed this turn, fed back to the model.
	Rounds []contractx.ToolRound
	// QueryOnly limits the model to read tools for the rest of the turn.
	QueryOnly     bool
	FallbackReply string

	Executions []tool.Execution
	Outcomes   []statex.Outcome
	Staged     *statex.ConfirmationRequest
	Resolved   bool

	Notices []string
	Reply   string
	Buttons []contractx.Button

	// Halted skips the remaining decision nodes; the session is still saved.
	Halted bool
	// Duplicate skips everything, including the save.
	Duplicate bool
	Silent    bool
	Handoff   bool
	// Failed marks a turn the agent could not serve; it feeds the
	// failure streak.
	Failed bool
}

func (in *GraphState) escalate(reason, reply string) {
	in.Session.Escalate(reason, in.Now)
	in.Handoff = true
	in.Halted = true
	in.Reply = reply
}

func (in *GraphState) execContext(correlationID string) tool.ExecContext {
	role := in.Msg.Role
	if role == "" {
		role = contractx.RoleCustomer
	}
	return tool.ExecContext{
		WorkspaceID:   in.Session.WorkspaceID,
		SessionID:     in.Session.SessionID,
		CustomerID:    in.Session.CustomerID,
		CorrelationID: correlationID,
		Role:          role,
		Cart:          in.Session.EnsureCart(),
		OrderFlow:     in.Session.EnsureOrderFlow(),
	}
}

func (in *GraphState) record(exec tool.Execution) {
	in.Executions = append(in.Executions, exec)
	in.Outcomes = append(in.Outcomes, exec.Outcome())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type correlationKey struct{}

// WithCorrelationID stores the id tool executions are tagged with.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Sessions is the part of the memory manager the graph uses.
type Sessions interface {
	Load(ctx context.Context, key statex.SessionKey, customerID string) (*statex.SessionMemory, bool, error)
	Save(ctx context.Context, mem *statex.SessionMemory) error
	CheckIdempotency(ctx context.Context, key string) (bool, error)
	SetIdempotency(ctx context.Context, key string) error
}

// Executor runs tool calls through the registry gates.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any, ec tool.ExecContext) tool.Execution
	Refuse(ctx context.Context, name string, args map[string]any, ec tool.ExecContext, reason string) tool.Execution
	ToolInfos(categories ...tool.Category) []*schema.ToolInfo
	ConfirmationTTL() time.Duration
}
