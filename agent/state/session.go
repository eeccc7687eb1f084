package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

var (
	ErrInvalidWorkspace = errors.New("workspace id is empty")
	ErrPendingMismatch  = errors.New("pending confirmation does not match state")
)

// SessionKey addresses one conversation inside one tenant workspace. Every
// store operation is keyed by both parts.
type SessionKey struct {
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
}

func (k SessionKey) Validate() error {
	if strings.TrimSpace(k.WorkspaceID) == "" {
		return ErrInvalidWorkspace
	}
	if strings.TrimSpace(k.SessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

func (k SessionKey) String() string {
	return "ws:" + k.WorkspaceID + ":session:" + k.SessionID
}

// SessionMemory is the mutable state of one conversation. It is owned by a
// single session and persisted after every processed message.
type SessionMemory struct {
	SessionID   string `json:"session_id"`
	WorkspaceID string `json:"workspace_id"`
	CustomerID  string `json:"customer_id"`
	ChannelID   string `json:"channel_id,omitempty"`

	State               AgentState           `json:"state"`
	Thread              contractx.Thread     `json:"thread"`
	Cart                *Cart                `json:"cart,omitempty"`
	// OrderFlowID names the order being built; a new flow gets a new id.
	OrderFlowID         string               `json:"order_flow_id,omitempty"`
	PendingConfirmation *ConfirmationRequest `json:"pending_confirmation,omitempty"`
	Context             map[string]any       `json:"context,omitempty"`
	History             []contractx.Turn     `json:"history,omitempty"`

	// FailureStreak counts consecutive frustrated or failed turns.
	FailureStreak int       `json:"failure_streak,omitempty"`
	HandoffReason string    `json:"handoff_reason,omitempty"`
	HandoffAt     time.Time `json:"handoff_at,omitempty"`

	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func NewSessionMemory(key SessionKey, customerID string, now time.Time) *SessionMemory {
	now = now.UTC()
	return &SessionMemory{
		SessionID:      key.SessionID,
		WorkspaceID:    key.WorkspaceID,
		CustomerID:     customerID,
		State:          StateIdle,
		Thread:         contractx.ThreadOrder,
		Context:        make(map[string]any, 4),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (m *SessionMemory) Key() SessionKey {
	return SessionKey{WorkspaceID: m.WorkspaceID, SessionID: m.SessionID}
}

func (m *SessionMemory) Touch(now time.Time) {
	m.LastActivityAt = now.UTC()
}

func (m *SessionMemory) EnsureCart() *Cart {
	if m.Cart == nil {
		m.Cart = &Cart{}
	}
	return m.Cart
}

// EnsureOrderFlow returns the id of the current order flow, starting one
// when none is open.
func (m *SessionMemory) EnsureOrderFlow() string {
	if m.OrderFlowID == "" {
		m.OrderFlowID = uuid.NewString()
	}
	return m.OrderFlowID
}

func (m *SessionMemory) EnsureContext() {
	if m.Context == nil {
		m.Context = make(map[string]any, 4)
	}
}

// SetState applies a legal transition. Leaving AWAITING_CONFIRMATION drops
// whatever confirmation was still pending so the two never disagree.
func (m *SessionMemory) SetState(to AgentState, now time.Time) error {
	if err := Transition(m.State, to); err != nil {
		return err
	}
	if m.State == StateAwaitingConfirmation && to != StateAwaitingConfirmation && m.PendingConfirmation != nil {
		if m.PendingConfirmation.IsOpen() {
			_ = m.PendingConfirmation.Cancel(now)
		}
		m.PendingConfirmation = nil
	}
	m.State = to
	m.Touch(now)
	return nil
}

// AdvanceTo walks the forward path to target one legal step at a time.
func (m *SessionMemory) AdvanceTo(target AgentState, now time.Time) error {
	if m.State == target {
		return nil
	}
	path, ok := ForwardPath(m.State, target)
	if !ok {
		return Transition(m.State, target)
	}
	for _, step := range path {
		if err := m.SetState(step, now); err != nil {
			return err
		}
	}
	return nil
}

// Stage records a confirmation request, replacing any older one, and moves
// the session to AWAITING_CONFIRMATION.
func (m *SessionMemory) Stage(req *ConfirmationRequest, now time.Time) error {
	if req == nil {
		return fmt.Errorf("%w: nil confirmation request", contractx.ErrValidation)
	}
	if m.State != StateAwaitingConfirmation {
		req.ResumeState = m.State
		if req.ResumeState == StateIdle {
			req.ResumeState = StateCollectingOrder
		}
		if err := m.AdvanceTo(StateAwaitingConfirmation, now); err != nil {
			return err
		}
	} else if m.PendingConfirmation != nil {
		if m.PendingConfirmation.IsOpen() {
			_ = m.PendingConfirmation.Cancel(now)
		}
		req.ResumeState = m.PendingConfirmation.ResumeState
	}
	m.PendingConfirmation = req
	m.Touch(now)
	return nil
}

// ClearPending discards the pending confirmation and returns to the state
// the session was in before it was staged.
func (m *SessionMemory) ClearPending(now time.Time) error {
	resume := StateCollectingOrder
	if m.PendingConfirmation != nil && m.PendingConfirmation.ResumeState != "" &&
		m.PendingConfirmation.ResumeState != StateAwaitingConfirmation {
		resume = m.PendingConfirmation.ResumeState
	}
	if m.State != StateAwaitingConfirmation {
		m.PendingConfirmation = nil
		return nil
	}
	return m.SetState(resume, now)
}

// Escalate hands the session to a human operator. Any state may escalate.
func (m *SessionMemory) Escalate(reason string, now time.Time) {
	_ = m.SetState(StateHandoff, now)
	m.Thread = contractx.ThreadHandoff
	m.HandoffReason = reason
	m.HandoffAt = now.UTC()
}

// Reopen moves a DONE or HANDOFF session back to IDLE for a new flow.
func (m *SessionMemory) Reopen(now time.Time) error {
	if !m.State.IsTerminal() {
		return nil
	}
	if err := m.SetState(StateIdle, now); err != nil {
		return err
	}
	m.Thread = contractx.ThreadOrder
	m.OrderFlowID = ""
	m.HandoffReason = ""
	m.HandoffAt = time.Time{}
	m.FailureStreak = 0
	return nil
}

func (m *SessionMemory) AppendTurn(role, content string, now time.Time, limit int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	m.History = append(m.History, contractx.Turn{Role: role, Content: content, At: now.UTC()})
	if limit > 0 && len(m.History) > limit {
		m.History = append([]contractx.Turn(nil), m.History[len(m.History)-limit:]...)
	}
}

func (m *SessionMemory) Validate() error {
	if err := m.Key().Validate(); err != nil {
		return err
	}
	if !m.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", contractx.ErrValidation, m.State)
	}
	open := m.PendingConfirmation.IsOpen()
	if open != (m.State == StateAwaitingConfirmation) {
		return fmt.Errorf("%w: state=%s pending_open=%t", ErrPendingMismatch, m.State, open)
	}
	return nil
}
