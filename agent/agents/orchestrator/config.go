package orchestrator

import (
	"time"

	nodex "github.com/tanpawarit/Chative-Retail-Agent/agent/nodes/orchestrator"
)

type Config struct {
	MaxToolRounds        int           `envconfig:"MAX_TOOL_ROUNDS" split_words:"true" default:"3"`
	HistoryLimit         int           `envconfig:"HISTORY_LIMIT" split_words:"true" default:"12"`
	ModelTimeout         time.Duration `envconfig:"MODEL_TIMEOUT" split_words:"true" default:"20s"`
	ModelRetries         int           `envconfig:"MODEL_RETRIES" split_words:"true" default:"1"`
	ToolRetries          int           `envconfig:"TOOL_RETRIES" split_words:"true" default:"1"`
	RetryBackoff         time.Duration `envconfig:"RETRY_BACKOFF" split_words:"true" default:"250ms"`
	HandoffHold          time.Duration `envconfig:"HANDOFF_HOLD" split_words:"true" default:"30m"`
	FrustrationThreshold int           `envconfig:"FRUSTRATION_THRESHOLD" split_words:"true" default:"2"`
	StrictMode           bool          `envconfig:"STRICT_MODE" split_words:"true" default:"false"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" split_words:"true" default:"10m"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" split_words:"true" default:"24h"`
	// Store selects the session backend: memory, badger or upstash.
	Store string `envconfig:"STORE" default:"memory"`
}

// DefaultConfig mirrors the envconfig defaults for callers that build the
// service without the environment.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds:        3,
		HistoryLimit:         12,
		ModelTimeout:         20 * time.Second,
		ModelRetries:         1,
		ToolRetries:          1,
		RetryBackoff:         250 * time.Millisecond,
		HandoffHold:          30 * time.Minute,
		FrustrationThreshold: 2,
		IdempotencyTTL:       10 * time.Minute,
		SessionTTL:           24 * time.Hour,
		Store:                "memory",
	}
}

func (c Config) policy() nodex.Policy {
	return nodex.Policy{
		MaxToolRounds:        c.MaxToolRounds,
		HistoryLimit:         c.HistoryLimit,
		ModelTimeout:         c.ModelTimeout,
		ModelRetries:         c.ModelRetries,
		ToolRetries:          c.ToolRetries,
		RetryBackoff:         c.RetryBackoff,
		HandoffHold:          c.HandoffHold,
		FrustrationThreshold: c.FrustrationThreshold,
		StrictMode:           c.StrictMode,
	}
}
