package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Retail-Agent/agent/audit"
	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/memory"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/pkg/keylock"
)

// IdempotencyCache is the part of the memory manager the registry needs.
type IdempotencyCache interface {
	CheckIdempotency(ctx context.Context, key string) (bool, error)
	SetIdempotency(ctx context.Context, key string) error
}

// Pending is returned instead of running a tool that needs confirmation.
type Pending struct {
	Token     string             `json:"token"`
	Warning   string             `json:"warning"`
	ExpiresAt time.Time          `json:"expires_at"`
	Call      statex.PendingCall `json:"call"`
}

// Execution is the outcome of one Execute call. It never carries a panic or
// an unwrapped error out of the registry.
type Execution struct {
	ExecutionID    string               `json:"execution_id"`
	Tool           string               `json:"tool"`
	Category       Category             `json:"category,omitempty"`
	Status         contractx.ExecStatus `json:"status"`
	Success        bool                 `json:"success"`
	Result         any                  `json:"result,omitempty"`
	Error          string               `json:"error,omitempty"`
	Fields         []FieldError         `json:"fields,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Pending        *Pending             `json:"pending,omitempty"`
	Suggests       statex.AgentState    `json:"suggests,omitempty"`
	DurationMs     int64                `json:"duration_ms"`
	// Err is the underlying error for retry classification.
	Err error `json:"-"`
}

// Outcome adapts the execution for the state machine.
func (e Execution) Outcome() statex.Outcome {
	return statex.Outcome{
		Tool:     e.Tool,
		Mutation: e.Category == CategoryMutation,
		Status:   e.Status,
		Suggests: e.Suggests,
	}
}

// ToolResult is the shape fed back to the model.
func (e Execution) ToolResult(id string) contractx.ToolResult {
	out := contractx.ToolResult{ID: id, Tool: e.Tool, Result: e.Result, Error: e.Error}
	switch e.Status {
	case contractx.ExecReplayed:
		out.Result = map[string]any{"status": "already_executed", "result": e.Result}
	case contractx.ExecPendingConfirmation:
		out.Result = map[string]any{"status": "pending_confirmation", "warning": e.Pending.Warning}
	case contractx.ExecValidationFailed:
		out.Result = map[string]any{"fields": e.Fields}
	}
	return out
}

type WarningFunc func(policy Policy, descriptions []string) string

type Option func(*Registry)

func WithAudit(sink audit.Sink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

func WithIdempotency(cache IdempotencyCache) Option {
	return func(r *Registry) { r.idempotency = cache }
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) { r.registerer = reg }
}

func WithWarning(fn WarningFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.warning = fn
		}
	}
}

func WithTokenSource(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.token = fn
		}
	}
}

func WithRegistryClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retail_tool_executions_total",
			Help: "Tool invocation attempts by outcome.",
		}, []string{"tool", "category", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retail_tool_execution_duration_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

// Registry is built once at startup; the tool set is read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	order    []string
	policies *PolicySet

	sink        audit.Sink
	idempotency IdempotencyCache
	keyLocks    *keylock.Map
	sanitizer   *Sanitizer
	registerer  prometheus.Registerer
	metrics     *metrics
	warning     WarningFunc
	token       func() string
	now         func() time.Time
}

func NewRegistry(policies *PolicySet, opts ...Option) (*Registry, error) {
	if policies == nil {
		policies = DefaultPolicies()
	}
	sanitizer, err := NewSanitizer(policies.Redaction)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		tools:     make(map[string]Tool),
		policies:  policies,
		sink:      audit.LogSink{},
		keyLocks:  keylock.New(),
		sanitizer: sanitizer,
		warning:   defaultWarning,
		token:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.registerer == nil {
		r.registerer = prometheus.NewRegistry()
	}
	r.metrics = newMetrics(r.registerer)
	return r, nil
}

// Register adds a tool. A tool without a policy entry is rejected.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("%w: tool has no name", contractx.ErrValidation)
	}
	policy, ok := r.policies.Lookup(t.Name())
	if !ok {
		return fmt.Errorf("%w: no policy for tool %s", contractx.ErrValidation, t.Name())
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if t.Category() == CategoryQuery && policy.NeedsConfirmation() {
		return fmt.Errorf("%w: query tool %s cannot require confirmation", contractx.ErrValidation, t.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("%w: tool %s registered twice", contractx.ErrValidation, t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

func (r *Registry) Lookup(name string) (Tool, Policy, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, Policy{}, false
	}
	policy, _ := r.policies.Lookup(name)
	return t, policy, true
}

// ToolInfos returns schemas in registration order, limited to categories
// when any are given.
func (r *Registry) ToolInfos(categories ...Category) []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if len(categories) > 0 && !containsCategory(categories, t.Category()) {
			continue
		}
		infos = append(infos, t.Info())
	}
	return infos
}

func (r *Registry) ConfirmationTTL() time.Duration {
	return r.policies.ConfirmationTTL
}

func (r *Registry) Sanitizer() *Sanitizer {
	return r.sanitizer
}

// Execute runs one call through lookup, authorization, validation,
// idempotency, and confirmation gating. Every path writes one audit record.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, ec ExecContext) (exec Execution) {
	start := r.now()
	exec = Execution{ExecutionID: uuid.NewString(), Tool: name}
	validated := false
	defer func() {
		exec.Success = exec.Status == contractx.ExecSuccess || exec.Status == contractx.ExecReplayed
		exec.DurationMs = r.now().Sub(start).Milliseconds()
		r.observe(ctx, ec, args, exec, validated, r.now().Sub(start))
	}()

	t, policy, ok := r.Lookup(name)
	if !ok {
		exec.fail(contractx.ExecNotFound, fmt.Errorf("%w: %s", contractx.ErrToolNotFound, name))
		return exec
	}
	exec.Category = t.Category()

	if !policy.Allows(ec.Role) {
		exec.fail(contractx.ExecForbidden, fmt.Errorf("%w: role %q cannot call %s", contractx.ErrForbidden, ec.Role, name))
		return exec
	}

	input, err := t.Decode(args)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Tool = name
			exec.Fields = verr.Fields
		}
		exec.fail(contractx.ExecValidationFailed, err)
		return exec
	}
	validated = true

	if derived := t.IdempotencyKey(input, ec); derived != "" {
		exec.IdempotencyKey = memory.IdempotencyKey(ec.WorkspaceID, name, derived)
	}
	if exec.IdempotencyKey != "" && r.idempotency != nil {
		seen, err := r.idempotency.CheckIdempotency(ctx, exec.IdempotencyKey)
		if err != nil {
			exec.fail(contractx.ExecFailed, fmt.Errorf("%w: idempotency check: %v", contractx.ErrTransientBackend, err))
			return exec
		}
		if seen {
			exec.replay()
			return exec
		}
	}

	if policy.NeedsConfirmation() && !ec.Confirmed {
		exec.Status = contractx.ExecPendingConfirmation
		description := t.Describe(input)
		exec.Pending = &Pending{
			Token:     r.token(),
			Warning:   r.warning(policy, []string{description}),
			ExpiresAt: r.now().Add(r.policies.ConfirmationTTL).UTC(),
			Call: statex.PendingCall{
				Tool:        name,
				Args:        args,
				Risk:        string(policy.RiskLevel),
				Description: description,
			},
		}
		exec.Result = map[string]any{"token": exec.Pending.Token, "warning": exec.Pending.Warning}
		return exec
	}

	if exec.IdempotencyKey != "" && r.idempotency != nil {
		unlock, err := r.keyLocks.Lock(ctx, exec.IdempotencyKey)
		if err != nil {
			exec.fail(contractx.ExecFailed, fmt.Errorf("%w: %v", contractx.ErrTransientBackend, err))
			return exec
		}
		defer unlock()
		// Another caller may have finished while we waited.
		seen, err := r.idempotency.CheckIdempotency(ctx, exec.IdempotencyKey)
		if err != nil {
			exec.fail(contractx.ExecFailed, fmt.Errorf("%w: idempotency check: %v", contractx.ErrTransientBackend, err))
			return exec
		}
		if seen {
			exec.replay()
			return exec
		}
	}

	result, err := runSafely(ctx, t, ec, input)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			validated = false
			exec.Fields = verr.Fields
			exec.fail(contractx.ExecValidationFailed, err)
			return exec
		}
		exec.fail(contractx.ExecFailed, err)
		return exec
	}
	exec.Status = contractx.ExecSuccess
	exec.Result = result
	exec.Suggests = t.Suggests()

	if exec.IdempotencyKey != "" && r.idempotency != nil {
		if err := r.idempotency.SetIdempotency(ctx, exec.IdempotencyKey); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("tool", name).Msg("mark idempotency key failed")
		}
	}
	return exec
}

// Refuse records a call the caller decided not to run, such as a tool the
// model was not offered in this conversation. It writes the same audit
// record as Execute; unknown names are reported as not found.
func (r *Registry) Refuse(ctx context.Context, name string, args map[string]any, ec ExecContext, reason string) (exec Execution) {
	start := r.now()
	exec = Execution{ExecutionID: uuid.NewString(), Tool: name}
	defer func() {
		exec.DurationMs = r.now().Sub(start).Milliseconds()
		r.observe(ctx, ec, args, exec, false, r.now().Sub(start))
	}()

	t, _, ok := r.Lookup(name)
	if !ok {
		exec.fail(contractx.ExecNotFound, fmt.Errorf("%w: %s", contractx.ErrToolNotFound, name))
		return exec
	}
	exec.Category = t.Category()
	exec.fail(contractx.ExecForbidden, fmt.Errorf("%w: %s %s", contractx.ErrForbidden, name, reason))
	return exec
}

func (e *Execution) fail(status contractx.ExecStatus, err error) {
	e.Status = status
	e.Err = err
	e.Error = err.Error()
}

func (e *Execution) replay() {
	e.Status = contractx.ExecReplayed
	e.Result = map[string]any{"already_executed": true}
}

func runSafely(ctx context.Context, t Tool, ec ExecContext, input any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			zerolog.Ctx(ctx).Error().Str("tool", t.Name()).Bytes("stack", debug.Stack()).Msgf("tool panic: %v", p)
			err = fmt.Errorf("%w: tool %s panicked: %v", contractx.ErrFatalBackend, t.Name(), p)
		}
	}()
	return t.Run(ctx, ec, input)
}

func (r *Registry) observe(ctx context.Context, ec ExecContext, args map[string]any, exec Execution, validated bool, elapsed time.Duration) {
	category := string(exec.Category)
	r.metrics.executions.WithLabelValues(exec.Tool, category, string(exec.Status)).Inc()
	r.metrics.duration.WithLabelValues(exec.Tool).Observe(elapsed.Seconds())

	rec := audit.ToolExecution{
		ExecutionID:      exec.ExecutionID,
		WorkspaceID:      ec.WorkspaceID,
		SessionID:        ec.SessionID,
		CustomerID:       ec.CustomerID,
		CorrelationID:    ec.CorrelationID,
		ToolName:         exec.Tool,
		Category:         category,
		Status:           string(exec.Status),
		Input:            r.sanitizer.JSON(args),
		Result:           r.sanitizer.JSON(exec.Result),
		Error:            exec.Error,
		IdempotencyKey:   exec.IdempotencyKey,
		DurationMs:       exec.DurationMs,
		ValidationPassed: validated,
		CreatedAt:        r.now().UTC(),
	}
	if err := r.sink.Record(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("tool", exec.Tool).Msg("audit record failed")
	}
}

func containsCategory(list []Category, c Category) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}

func defaultWarning(policy Policy, descriptions []string) string {
	return fmt.Sprintf("Please confirm (%s risk): %v", policy.RiskLevel, descriptions)
}
