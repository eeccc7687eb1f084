package orchestratornode

import (
	"context"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/router"
)

const (
	ReasonCustomerRequest = "customer_request"
	ReasonFrustration     = "repeated_frustration"
)

// RouteMessage classifies the message into a thread and escalates when the
// customer asks for a person or keeps showing frustration.
func RouteMessage(ctx context.Context, in *GraphState, copyText prompt.Copy, policy Policy) (*GraphState, error) {
	if in.Halted {
		return in, nil
	}
	mem := in.Session
	if in.Resolved && in.QueryOnly {
		// The answer to a confirmation always belongs to the order.
		mem.Thread = contractx.ThreadOrder
		return in, nil
	}

	c := router.Classify(in.Msg.Text, mem.State, mem.Thread)
	in.Classification = c
	zerolog.Ctx(ctx).Debug().
		Str("thread", string(c.Thread)).
		Float64("confidence", c.Confidence).
		Strs("keywords", c.Keywords).
		Bool("interrupt", c.ShouldInterrupt).
		Msg("message classified")

	if c.HandoffRequested {
		in.escalate(ReasonCustomerRequest, copyText.Handoff)
		return in, nil
	}
	if c.SentimentNegative {
		mem.FailureStreak++
		if policy.FrustrationThreshold > 0 && mem.FailureStreak >= policy.FrustrationThreshold {
			in.escalate(ReasonFrustration, copyText.Handoff)
			return in, nil
		}
	}

	thread := c.Thread
	if thread == contractx.ThreadHandoff {
		thread = contractx.ThreadOrder
	}
	in.ReturnToOrder = router.ShouldReturnToOrder(mem.Thread, mem.State, thread)
	mem.Thread = thread
	return in, nil
}
