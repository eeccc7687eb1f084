package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// SaveState persists the session and then remembers the inbound message id,
// so a crash between the two replays the message instead of losing it.
func SaveState(ctx context.Context, in *GraphState, sessions Sessions) (*GraphState, error) {
	if in.Duplicate {
		return in, nil
	}
	if err := sessions.Save(ctx, in.Session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if in.InboundKey != "" {
		if err := sessions.SetIdempotency(ctx, in.InboundKey); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("message_id", in.Msg.MessageID).Msg("mark inbound message failed")
		}
	}
	return in, nil
}
