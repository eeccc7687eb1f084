package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	nodex "github.com/tanpawarit/Chative-Retail-Agent/agent/nodes/orchestrator"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	logx "github.com/tanpawarit/Chative-Retail-Agent/pkg/logger"
)

var (
	ErrInvalidMessage   = nodex.ErrInvalidMessage
	ErrInvalidSession   = nodex.ErrInvalidSession
	ErrInvalidWorkspace = statex.ErrInvalidWorkspace
)

var tracer = otel.Tracer("retail.orchestrator")

type (
	Output       = nodex.GraphOutput
	Confirmation = nodex.ConfirmationView
)

// SessionManager serializes and persists sessions. memory.Manager is the
// production implementation.
type SessionManager interface {
	nodex.Sessions
	Acquire(ctx context.Context, key statex.SessionKey) (func(), error)
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSender delivers every reply to the message's channel after the turn.
func WithSender(sender contractx.ChannelSender) Option {
	return func(o *Orchestrator) { o.sender = sender }
}

func WithPrompts(prompts prompt.PromptSet) Option {
	return func(o *Orchestrator) { o.prompts = prompts }
}

func WithCopy(c prompt.Copy) Option {
	return func(o *Orchestrator) { o.copy = c }
}

type Orchestrator struct {
	sessions SessionManager
	model    contractx.Model
	tools    nodex.Executor
	sender   contractx.ChannelSender

	prompts prompt.PromptSet
	copy    prompt.Copy
	cfg     Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(
	sessions SessionManager,
	model contractx.Model,
	tools nodex.Executor,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if model == nil {
		return nil, errors.New("model is required")
	}
	if tools == nil {
		return nil, errors.New("tool registry is required")
	}

	copyText, err := prompt.LoadCopy()
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		sessions: sessions,
		model:    model,
		tools:    tools,
		prompts:  prompt.LoadPromptSet(),
		copy:     copyText,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage processes one inbound message. Messages of the same session
// are serialized; different sessions run in parallel.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg contractx.InboundMessage) (Output, error) {
	key := statex.SessionKey{
		WorkspaceID: strings.TrimSpace(msg.WorkspaceID),
		SessionID:   strings.TrimSpace(msg.SessionID),
	}
	if err := key.Validate(); err != nil {
		return Output{}, err
	}

	correlationID := uuid.NewString()
	logger := logx.Session(key.WorkspaceID, key.SessionID, correlationID)
	ctx = logger.WithContext(ctx)
	ctx = nodex.WithCorrelationID(ctx, correlationID)

	ctx, span := tracer.Start(ctx, "orchestrator.handle_message",
		trace.WithAttributes(
			attribute.String("workspace_id", key.WorkspaceID),
			attribute.String("session_id", key.SessionID),
			attribute.String("message_id", msg.MessageID),
		),
	)
	defer span.End()

	unlock, err := o.sessions.Acquire(ctx, key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Output{}, err
	}
	defer unlock()

	out, err := o.graphRunner.Invoke(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Msg("handle message failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Output{}, err
	}
	span.SetAttributes(
		attribute.String("state", string(out.State)),
		attribute.String("thread", string(out.Thread)),
		attribute.Bool("handoff", out.Handoff),
		attribute.Int("executions", len(out.Executions)),
	)

	o.deliver(ctx, msg, out)
	return out, nil
}

func (o *Orchestrator) deliver(ctx context.Context, msg contractx.InboundMessage, out Output) {
	if o.sender == nil || out.Reply == "" || msg.ChannelID == "" {
		return
	}
	err := o.sender.Send(ctx, msg.ChannelID, contractx.OutboundMessage{
		WorkspaceID: msg.WorkspaceID,
		SessionID:   msg.SessionID,
		MessageID:   msg.MessageID,
		Text:        out.Reply,
		Buttons:     out.Buttons,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("channel_id", msg.ChannelID).Msg("deliver reply failed")
	}
}
