package state

import (
	"crypto/subtle"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

type ConfirmationStatus string

const (
	ConfirmationStaged     ConfirmationStatus = "staged"
	ConfirmationConfirmed  ConfirmationStatus = "confirmed"
	ConfirmationCancelled  ConfirmationStatus = "cancelled"
	ConfirmationExpired    ConfirmationStatus = "expired"
	ConfirmationMismatched ConfirmationStatus = "mismatched"
)

// PendingCall is a tool call held back until the customer confirms it.
type PendingCall struct {
	ID          string         `json:"id,omitempty"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Risk        string         `json:"risk"`
	Description string         `json:"description"`
}

type ConfirmationRequest struct {
	Token     string             `json:"token"`
	Status    ConfirmationStatus `json:"status"`
	Calls     []PendingCall      `json:"calls"`
	Warning   string             `json:"warning"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	// ResumeState is where the session goes back to when the request is
	// cancelled or expires.
	ResumeState AgentState `json:"resume_state"`
	ResolvedAt  time.Time  `json:"resolved_at,omitempty"`
}

func NewConfirmationRequest(
	token string,
	calls []PendingCall,
	warning string,
	resume AgentState,
	now time.Time,
	ttl time.Duration,
) *ConfirmationRequest {
	now = now.UTC()
	return &ConfirmationRequest{
		Token:       token,
		Status:      ConfirmationStaged,
		Calls:       calls,
		Warning:     warning,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		ResumeState: resume,
	}
}

func (c *ConfirmationRequest) IsOpen() bool {
	return c != nil && c.Status == ConfirmationStaged
}

func (c *ConfirmationRequest) Expired(now time.Time) bool {
	return c != nil && !now.Before(c.ExpiresAt)
}

// Resolve consumes a staged request. Expiry is checked before the token so
// an expired request is never honored, whatever token is presented.
func (c *ConfirmationRequest) Resolve(token string, now time.Time) error {
	if !c.IsOpen() {
		return fmt.Errorf("%w: request is %s", contractx.ErrConfirmationMismatch, c.statusOrNil())
	}
	if c.Expired(now) {
		c.close(ConfirmationExpired, now)
		return fmt.Errorf("%w: expired at %s", contractx.ErrConfirmationExpired, c.ExpiresAt.Format(time.RFC3339))
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.Token)) != 1 {
		c.close(ConfirmationMismatched, now)
		return contractx.ErrConfirmationMismatch
	}
	c.close(ConfirmationConfirmed, now)
	return nil
}

func (c *ConfirmationRequest) Cancel(now time.Time) error {
	if !c.IsOpen() {
		return fmt.Errorf("%w: request is %s", contractx.ErrConfirmationMismatch, c.statusOrNil())
	}
	if c.Expired(now) {
		c.close(ConfirmationExpired, now)
		return contractx.ErrConfirmationExpired
	}
	c.close(ConfirmationCancelled, now)
	return nil
}

func (c *ConfirmationRequest) close(status ConfirmationStatus, now time.Time) {
	c.Status = status
	c.ResolvedAt = now.UTC()
}

func (c *ConfirmationRequest) statusOrNil() string {
	if c == nil {
		return "missing"
	}
	return string(c.Status)
}
