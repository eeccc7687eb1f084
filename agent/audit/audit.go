// Package audit stores one record per attempted tool invocation.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// ToolExecution is immutable once written. Input and Result hold sanitized
// JSON, never the raw payloads.
type ToolExecution struct {
	bun.BaseModel `bun:"table:tool_executions,alias:te"`

	ID               int64     `bun:"id,pk,autoincrement" json:"-"`
	ExecutionID      string    `bun:"execution_id,notnull,unique" json:"execution_id"`
	WorkspaceID      string    `bun:"workspace_id,notnull" json:"workspace_id"`
	SessionID        string    `bun:"session_id" json:"session_id,omitempty"`
	CustomerID       string    `bun:"customer_id" json:"customer_id,omitempty"`
	CorrelationID    string    `bun:"correlation_id" json:"correlation_id,omitempty"`
	ToolName         string    `bun:"tool_name,notnull" json:"tool_name"`
	Category         string    `bun:"category" json:"category,omitempty"`
	Status           string    `bun:"status,notnull" json:"status"`
	Input            string    `bun:"input" json:"input,omitempty"`
	Result           string    `bun:"result" json:"result,omitempty"`
	Error            string    `bun:"error" json:"error,omitempty"`
	IdempotencyKey   string    `bun:"idempotency_key" json:"idempotency_key,omitempty"`
	DurationMs       int64     `bun:"duration_ms" json:"duration_ms"`
	ValidationPassed bool      `bun:"validation_passed" json:"validation_passed"`
	CreatedAt        time.Time `bun:"created_at,notnull" json:"created_at"`
}

type Sink interface {
	Record(ctx context.Context, rec ToolExecution) error
}

// MemorySink keeps records in process; used by tests and the local CLI.
type MemorySink struct {
	mu      sync.Mutex
	records []ToolExecution
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, rec ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) Records() []ToolExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolExecution(nil), s.records...)
}

// LogSink writes records to the context logger.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, rec ToolExecution) error {
	ev := zerolog.Ctx(ctx).Info()
	if rec.Status != "success" && rec.Status != "replayed" {
		ev = zerolog.Ctx(ctx).Warn()
	}
	ev.
		Str("execution_id", rec.ExecutionID).
		Str("tool", rec.ToolName).
		Str("category", rec.Category).
		Str("status", rec.Status).
		Bool("validation_passed", rec.ValidationPassed).
		Int64("duration_ms", rec.DurationMs).
		RawJSON("input", jsonOrNull(rec.Input)).
		Str("error", rec.Error).
		Msg("tool execution")
	return nil
}

// Fanout writes to every sink and returns the first error.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, rec ToolExecution) error {
	var first error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func jsonOrNull(s string) []byte {
	if s == "" {
		return []byte("null")
	}
	return []byte(s)
}
