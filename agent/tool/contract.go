package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskModerate  RiskLevel = "moderate"
	RiskDangerous RiskLevel = "dangerous"
)

type Category string

const (
	CategoryQuery    Category = "query"
	CategoryMutation Category = "mutation"
)

// Policy is the static authorization data of one tool.
type Policy struct {
	Name                 string           `yaml:"name"`
	RiskLevel            RiskLevel        `yaml:"risk"`
	RequiresConfirmation bool             `yaml:"requires_confirmation"`
	AllowedRoles         []contractx.Role `yaml:"allowed_roles"`
}

// Validate enforces that dangerous tools always need confirmation and safe
// tools never do.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: policy name is empty", contractx.ErrValidation)
	}
	switch p.RiskLevel {
	case RiskSafe:
		if p.RequiresConfirmation {
			return fmt.Errorf("%w: safe tool %s cannot require confirmation", contractx.ErrValidation, p.Name)
		}
	case RiskDangerous:
		if !p.RequiresConfirmation {
			return fmt.Errorf("%w: dangerous tool %s must require confirmation", contractx.ErrValidation, p.Name)
		}
	case RiskModerate:
	default:
		return fmt.Errorf("%w: tool %s has unknown risk %q", contractx.ErrValidation, p.Name, p.RiskLevel)
	}
	return nil
}

func (p Policy) NeedsConfirmation() bool {
	return p.RequiresConfirmation || p.RiskLevel == RiskDangerous
}

// Allows reports whether role may call the tool. No roles means everyone.
func (p Policy) Allows(role contractx.Role) bool {
	if len(p.AllowedRoles) == 0 {
		return true
	}
	if role == "" {
		role = contractx.RoleCustomer
	}
	for _, allowed := range p.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// ExecContext is what a tool body knows about the caller.
type ExecContext struct {
	WorkspaceID   string
	SessionID     string
	CustomerID    string
	CorrelationID string
	Role          contractx.Role
	// Confirmed is set only when the call comes from a resolved
	// confirmation request.
	Confirmed bool
	// Cart is the session cart; cart tools mutate it in place.
	Cart *statex.Cart
	// OrderFlow identifies the order being built in the session.
	OrderFlow string
}

func (ec ExecContext) IsOwner() bool {
	return ec.Role == contractx.RoleOwner
}

// Tool is one registered capability. Inputs arrive untyped and are decoded
// and validated by the tool before Run sees them.
type Tool interface {
	Name() string
	Info() *schema.ToolInfo
	Category() Category
	// Suggests is the state a successful run leads to, or "".
	Suggests() statex.AgentState
	Decode(args map[string]any) (any, error)
	IdempotencyKey(input any, ec ExecContext) string
	Describe(input any) string
	Run(ctx context.Context, ec ExecContext, input any) (any, error)
}

// Spec describes a tool with a typed input. Fields of In are named by their
// json tags and validated by their validate tags.
type Spec[In any] struct {
	Name        string
	Description string
	Category    Category
	Params      map[string]*schema.ParameterInfo
	Suggests    statex.AgentState
	Idempotency func(in In, ec ExecContext) string
	Describe    func(in In) string
	Run         func(ctx context.Context, ec ExecContext, in In) (any, error)
}

type typedTool[In any] struct {
	spec Spec[In]
}

// Define turns a Spec into a Tool.
func Define[In any](spec Spec[In]) Tool {
	if spec.Params == nil {
		spec.Params = map[string]*schema.ParameterInfo{}
	}
	return &typedTool[In]{spec: spec}
}

func (t *typedTool[In]) Name() string { return t.spec.Name }

func (t *typedTool[In]) Category() Category { return t.spec.Category }

func (t *typedTool[In]) Suggests() statex.AgentState { return t.spec.Suggests }

func (t *typedTool[In]) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.spec.Name,
		Desc:        t.spec.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(t.spec.Params),
	}
}

func (t *typedTool[In]) Decode(args map[string]any) (any, error) {
	var in In
	if err := decodeInput(args, &in); err != nil {
		return nil, err
	}
	return in, nil
}

func (t *typedTool[In]) IdempotencyKey(input any, ec ExecContext) string {
	in, ok := input.(In)
	if !ok || t.spec.Idempotency == nil {
		return ""
	}
	return t.spec.Idempotency(in, ec)
}

func (t *typedTool[In]) Describe(input any) string {
	in, ok := input.(In)
	if !ok || t.spec.Describe == nil {
		return t.spec.Description
	}
	return t.spec.Describe(in)
}

func (t *typedTool[In]) Run(ctx context.Context, ec ExecContext, input any) (any, error) {
	in, ok := input.(In)
	if !ok {
		return nil, fmt.Errorf("%w: tool %s got input %T", contractx.ErrSchemaViolation, t.spec.Name, input)
	}
	return t.spec.Run(ctx, ec, in)
}
