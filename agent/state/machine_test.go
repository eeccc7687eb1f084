package state

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

func TestCanTransitionOrderFlow(t *testing.T) {
	t.Parallel()

	legal := [][2]AgentState{
		{StateIdle, StateCollectingOrder},
		{StateCollectingOrder, StateNeedsDetails},
		{StateCollectingOrder, StateAwaitingConfirmation},
		{StateNeedsDetails, StateAwaitingConfirmation},
		{StateAwaitingConfirmation, StateExecuting},
		{StateAwaitingConfirmation, StateCollectingOrder},
		{StateExecuting, StateDone},
		{StateDone, StateIdle},
		{StateHandoff, StateIdle},
		{StateExecuting, StateHandoff},
		{StateIdle, StateHandoff},
		{StateNeedsDetails, StateNeedsDetails},
	}
	for _, tr := range legal {
		assert.Truef(t, CanTransition(tr[0], tr[1]), "%s -> %s should be legal", tr[0], tr[1])
	}

	illegal := [][2]AgentState{
		{StateIdle, StateExecuting},
		{StateIdle, StateAwaitingConfirmation},
		{StateCollectingOrder, StateExecuting},
		{StateNeedsDetails, StateExecuting},
		{StateIdle, StateDone},
		{StateDone, StateCollectingOrder},
		{StateHandoff, StateCollectingOrder},
		{AgentState("BOGUS"), StateIdle},
	}
	for _, tr := range illegal {
		assert.Falsef(t, CanTransition(tr[0], tr[1]), "%s -> %s should be illegal", tr[0], tr[1])
	}
}

func TestTransitionWrapsIllegalStateError(t *testing.T) {
	t.Parallel()

	err := Transition(StateCollectingOrder, StateExecuting)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contractx.ErrIllegalStateTransition))
}

func TestForwardPathNeverSkipsConfirmation(t *testing.T) {
	t.Parallel()

	path, ok := ForwardPath(StateIdle, StateAwaitingConfirmation)
	require.True(t, ok)
	assert.Equal(t, []AgentState{StateCollectingOrder, StateAwaitingConfirmation}, path)

	path, ok = ForwardPath(StateIdle, StateExecuting)
	require.True(t, ok)
	assert.Contains(t, path, StateAwaitingConfirmation)

	_, ok = ForwardPath(StateDone, StateCollectingOrder)
	assert.False(t, ok)
}

func TestSuggestNext(t *testing.T) {
	t.Parallel()

	next, ok := SuggestNext(StateIdle, []Outcome{
		{Tool: "add_to_cart", Mutation: true, Status: contractx.ExecSuccess, Suggests: StateCollectingOrder},
	})
	require.True(t, ok)
	assert.Equal(t, StateCollectingOrder, next)

	next, ok = SuggestNext(StateExecuting, []Outcome{
		{Tool: "confirm_order", Mutation: true, Status: contractx.ExecSuccess, Suggests: StateDone},
	})
	require.True(t, ok)
	assert.Equal(t, StateDone, next)

	next, ok = SuggestNext(StateCollectingOrder, []Outcome{
		{Tool: "search_products", Status: contractx.ExecSuccess},
		{Tool: "adjust_stock", Mutation: true, Status: contractx.ExecPendingConfirmation},
	})
	require.True(t, ok)
	assert.Equal(t, StateAwaitingConfirmation, next)

	next, ok = SuggestNext(StateCollectingOrder, []Outcome{
		{Tool: "add_to_cart", Mutation: true, Status: contractx.ExecValidationFailed},
	})
	require.True(t, ok)
	assert.Equal(t, StateNeedsDetails, next)

	_, ok = SuggestNext(StateCollectingOrder, []Outcome{
		{Tool: "add_to_cart", Mutation: true, Status: contractx.ExecSuccess, Suggests: StateCollectingOrder},
	})
	assert.False(t, ok)

	_, ok = SuggestNext(StateIdle, []Outcome{
		{Tool: "confirm_order", Mutation: true, Status: contractx.ExecFailed, Suggests: StateDone},
	})
	assert.False(t, ok)
}

func TestSessionMemoryStageAndClear(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := NewSessionMemory(SessionKey{WorkspaceID: "ws1", SessionID: "s1"}, "c1", now)

	first := NewConfirmationRequest("tok-1", []PendingCall{{Tool: "adjust_stock"}}, "warn", "", now, time.Minute)
	require.NoError(t, mem.Stage(first, now))
	assert.Equal(t, StateAwaitingConfirmation, mem.State)
	assert.Equal(t, StateCollectingOrder, first.ResumeState)
	require.NoError(t, mem.Validate())

	second := NewConfirmationRequest("tok-2", []PendingCall{{Tool: "cancel_order"}}, "warn", "", now, time.Minute)
	require.NoError(t, mem.Stage(second, now))
	assert.Equal(t, ConfirmationCancelled, first.Status, "older request is superseded")
	assert.Equal(t, "tok-2", mem.PendingConfirmation.Token)
	assert.Equal(t, StateCollectingOrder, second.ResumeState)

	require.NoError(t, mem.ClearPending(now))
	assert.Nil(t, mem.PendingConfirmation)
	assert.Equal(t, StateCollectingOrder, mem.State)
	require.NoError(t, mem.Validate())
}

func TestSessionMemoryAppendTurnKeepsLimit(t *testing.T) {
	t.Parallel()

	now := time.Now()
	mem := NewSessionMemory(SessionKey{WorkspaceID: "ws", SessionID: "s"}, "c", now)
	for i := 0; i < 5; i++ {
		mem.AppendTurn(contractx.TurnUser, string(rune('a'+i)), now, 3)
	}
	mem.AppendTurn(contractx.TurnUser, "   ", now, 3)
	require.Len(t, mem.History, 3)
	assert.Equal(t, "c", mem.History[0].Content)
	assert.Equal(t, "e", mem.History[2].Content)
}

func TestEscalateAndReopen(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := NewSessionMemory(SessionKey{WorkspaceID: "ws", SessionID: "s"}, "c", now)
	require.NoError(t, mem.Stage(NewConfirmationRequest("tok", nil, "w", "", now, time.Minute), now))

	mem.Escalate("tool_failed_twice", now)
	assert.Equal(t, StateHandoff, mem.State)
	assert.Equal(t, contractx.ThreadHandoff, mem.Thread)
	assert.Nil(t, mem.PendingConfirmation)
	assert.Equal(t, now, mem.HandoffAt)
	require.NoError(t, mem.Validate())

	mem.FailureStreak = 3
	require.NoError(t, mem.Reopen(now.Add(time.Hour)))
	assert.Equal(t, StateIdle, mem.State)
	assert.Empty(t, mem.HandoffReason)
	assert.Zero(t, mem.FailureStreak)
	assert.True(t, mem.HandoffAt.IsZero())

	require.NoError(t, mem.SetState(StateCollectingOrder, now))
	require.NoError(t, mem.Reopen(now))
	assert.Equal(t, StateCollectingOrder, mem.State, "non-terminal sessions are left alone")
}
