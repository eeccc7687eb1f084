package orchestratornode

import (
	"errors"
	"regexp"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = statex.ErrInvalidSession
)

const (
	ReplyConfirm = "confirm"
	ReplyCancel  = "cancel"
)

// buttonPayload is what confirm/cancel buttons send back as text.
var buttonPayload = regexp.MustCompile(`^(confirm|cancel):([A-Za-z0-9-]{8,64})$`)

// ButtonPayload renders the payload a confirmation button carries.
func ButtonPayload(reply, token string) string {
	return reply + ":" + token
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	msg := in
	msg.WorkspaceID = strings.TrimSpace(msg.WorkspaceID)
	msg.SessionID = strings.TrimSpace(msg.SessionID)
	msg.CustomerID = strings.TrimSpace(msg.CustomerID)
	msg.Text = strings.TrimSpace(msg.Text)

	key := statex.SessionKey{WorkspaceID: msg.WorkspaceID, SessionID: msg.SessionID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if msg.ConfirmationToken == "" {
		if m := buttonPayload.FindStringSubmatch(msg.Text); m != nil {
			msg.ConfirmationReply, msg.ConfirmationToken = m[1], m[2]
		}
	}
	if msg.ConfirmationToken != "" {
		switch msg.ConfirmationReply {
		case ReplyConfirm, ReplyCancel:
		default:
			msg.ConfirmationReply = ReplyConfirm
		}
	}
	if msg.Text == "" && msg.ConfirmationToken == "" {
		return nil, ErrInvalidMessage
	}
	if msg.Role == "" {
		msg.Role = contractx.RoleCustomer
	}

	state := &GraphState{
		Msg: msg,
		Key: key,
		Now: nowFn().UTC(),
	}
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		state.InboundKey = "inbound:" + key.WorkspaceID + ":" + key.SessionID + ":" + id
	}
	return state, nil
}
