package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(id, workspace, status string) ToolExecution {
	return ToolExecution{
		ExecutionID:      id,
		WorkspaceID:      workspace,
		SessionID:        "s-1",
		ToolName:         "add_to_cart",
		Category:         "mutation",
		Status:           status,
		Input:            `{"product":"coca","quantity":5}`,
		Result:           `{"ok":true}`,
		DurationMs:       12,
		ValidationPassed: true,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSQLiteSinkRecordsAndListsByWorkspace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Record(ctx, sampleRecord("e1", "ws-a", "success")))
	require.NoError(t, sink.Record(ctx, sampleRecord("e2", "ws-b", "failed")))
	require.NoError(t, sink.Record(ctx, sampleRecord("e3", "ws-a", "replayed")))

	got, err := sink.List(ctx, "ws-a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ExecutionID)
	assert.Equal(t, "replayed", got[1].Status)
	assert.Equal(t, `{"product":"coca","quantity":5}`, got[0].Input)
	assert.True(t, got[0].ValidationPassed)
}

func TestSQLiteSinkRejectsDuplicateExecutionID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Record(ctx, sampleRecord("dup", "ws", "success")))
	assert.Error(t, sink.Record(ctx, sampleRecord("dup", "ws", "success")))
}

func TestOpenDefaultsToLogSink(t *testing.T) {
	t.Parallel()

	sink, closer, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, LogSink{}, sink)
	assert.NoError(t, closer())
	assert.NoError(t, sink.Record(context.Background(), sampleRecord("x", "ws", "not_found")))

	_, _, err = Open(context.Background(), Config{Driver: "mongo"})
	assert.Error(t, err)
}

func TestFanoutWritesEverySink(t *testing.T) {
	t.Parallel()

	a, b := NewMemorySink(), NewMemorySink()
	require.NoError(t, Fanout{a, nil, b}.Record(context.Background(), sampleRecord("x", "ws", "success")))
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}
