package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/router"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/tool"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }

func TestValidateRequestParsesButtonPayload(t *testing.T) {
	t.Parallel()

	st, err := ValidateRequest(GraphInput{
		WorkspaceID: " demo ",
		SessionID:   "s-1",
		MessageID:   "m-9",
		Text:        "cancel:3f2b8c1e-0000-4000-8000-000000000001",
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, ReplyCancel, st.Msg.ConfirmationReply)
	assert.Equal(t, "3f2b8c1e-0000-4000-8000-000000000001", st.Msg.ConfirmationToken)
	assert.Equal(t, "inbound:demo:s-1:m-9", st.InboundKey)
	assert.Equal(t, contractx.RoleCustomer, st.Msg.Role)
}

func TestValidateRequestDefaultsTokenReplyToConfirm(t *testing.T) {
	t.Parallel()

	st, err := ValidateRequest(GraphInput{WorkspaceID: "demo", SessionID: "s-1", ConfirmationToken: "tok-12345678"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, ReplyConfirm, st.Msg.ConfirmationReply)
	assert.Empty(t, st.InboundKey)
}

func TestValidateRequestRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	_, err := ValidateRequest(GraphInput{WorkspaceID: "demo", SessionID: "s-1", Text: "  "}, fixedNow)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestNeedsHandoff(t *testing.T) {
	t.Parallel()

	mutation := func(err error) tool.Execution {
		return tool.Execution{Tool: "confirm_order", Category: tool.CategoryMutation, Status: contractx.ExecFailed, Err: err}
	}
	assert.True(t, needsHandoff(mutation(fmt.Errorf("%w: 503", contractx.ErrTransientBackend))))
	assert.True(t, needsHandoff(mutation(fmt.Errorf("%w: boom", contractx.ErrFatalBackend))))
	assert.False(t, needsHandoff(mutation(fmt.Errorf("%w: out of stock", contractx.ErrBusinessRule))))
	assert.False(t, needsHandoff(tool.Execution{Category: tool.CategoryQuery, Status: contractx.ExecFailed, Err: errors.New("x")}))
	assert.False(t, needsHandoff(tool.Execution{Category: tool.CategoryMutation, Status: contractx.ExecValidationFailed}))

	assert.Equal(t, "tool_fatal:confirm_order", handoffReason(mutation(contractx.ErrFatalBackend)))
	assert.Equal(t, "tool_failed_twice:confirm_order", handoffReason(mutation(contractx.ErrTransientBackend)))
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "$0.05", formatMoney(5))
	assert.Equal(t, "$5000.00", formatMoney(500000))
	assert.Equal(t, "-$1.50", formatMoney(-150))
}

func TestJoinReplySkipsBlankParts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a\n\nb", joinReply([]string{"", " a ", "\n", "b"}))
}

func TestFinalizeReplyHidesSilentTurns(t *testing.T) {
	t.Parallel()

	mem := statex.NewSessionMemory(statex.SessionKey{WorkspaceID: "demo", SessionID: "s-1"}, "c-1", fixedNow())
	mem.Escalate("customer_request", fixedNow())
	out, err := FinalizeReply(&GraphState{Session: mem, Silent: true, Reply: "x", Handoff: true})
	require.NoError(t, err)
	assert.Empty(t, out.Reply)
	assert.True(t, out.Silent)
	assert.Equal(t, statex.StateHandoff, out.State)
	assert.Equal(t, "customer_request", out.HandoffReason)
}

func TestApplyTransitionCountsFailureStreakOncePerTurn(t *testing.T) {
	t.Parallel()

	copyText, err := prompt.LoadCopy()
	require.NoError(t, err)
	policy := Policy{HistoryLimit: 12}
	mem := statex.NewSessionMemory(statex.SessionKey{WorkspaceID: "demo", SessionID: "s-1"}, "c-1", fixedNow())
	turn := func(negative, failed bool) {
		if negative {
			// RouteMessage counts a frustrated turn.
			mem.FailureStreak++
		}
		_, err := ApplyTransition(context.Background(), &GraphState{
			Msg:            contractx.InboundMessage{Text: "x"},
			Session:        mem,
			Now:            fixedNow(),
			Classification: router.Classification{SentimentNegative: negative},
			Failed:         failed,
			Reply:          "y",
		}, copyText, policy)
		require.NoError(t, err)
	}

	turn(true, true)
	assert.Equal(t, 1, mem.FailureStreak, "frustrated and failed is one strike")
	turn(false, true)
	assert.Equal(t, 2, mem.FailureStreak)
	turn(false, false)
	assert.Zero(t, mem.FailureStreak)
}
