package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// SessionIdleTimeout is how long a session survives without a turn
const SessionIdleTimeout = 24 * time.Hour

// MaxTranscriptTurns bounds the per-session turn log
const MaxTranscriptTurns = 50

// TurnRecord is one completed turn kept for inspection
type TurnRecord struct {
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
	Utterance       string    `json:"utterance" bson:"utterance"`
	TransferText    string    `json:"transfer_text,omitempty" bson:"transfer_text,omitempty"`
	FinalText       string    `json:"final_text" bson:"final_text"`
	AnsweringRoleID string    `json:"answering_role_id,omitempty" bson:"answering_role_id,omitempty"`
	DurationMs      int64     `json:"duration_ms" bson:"duration_ms"`
}

// Session is one conversation with a selected role and its rolling state
type Session struct {
	ID           string            `json:"id" bson:"_id"`
	RoleID       string            `json:"role_id" bson:"role_id"`
	CreatedAt    time.Time         `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at" bson:"last_active_at"`
	ExpiresAt    time.Time         `json:"expires_at" bson:"expires_at"`
	Status       SessionStatus     `json:"status" bson:"status"`
	State        ConversationState `json:"state" bson:"state"`
	Turns        []TurnRecord      `json:"turns" bson:"turns"`
}

// NewSession creates a new session addressed to roleID
func NewSession(roleID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		RoleID:       roleID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(SessionIdleTimeout),
		Status:       SessionStatusActive,
		Turns:        make([]TurnRecord, 0),
	}
}

// ApplyTurn stores the state produced by a completed turn and logs it.
// It is the only place ConversationState is replaced.
func (s *Session) ApplyTurn(utterance string, result TurnResult, duration time.Duration) {
	s.State = result.State
	s.Turns = append(s.Turns, TurnRecord{
		Timestamp:       time.Now(),
		Utterance:       utterance,
		TransferText:    result.TransferText,
		FinalText:       result.FinalText,
		AnsweringRoleID: result.AnsweringRoleID,
		DurationMs:      duration.Milliseconds(),
	})
	if len(s.Turns) > MaxTranscriptTurns {
		s.Turns = s.Turns[len(s.Turns)-MaxTranscriptTurns:]
	}
	s.UpdateLastActive()
}

// SelectRole switches the addressed role. Memory is kept, but escalation
// history only makes sense for the role it was computed against.
func (s *Session) SelectRole(roleID string) {
	if s.RoleID == roleID {
		return
	}
	s.RoleID = roleID
	s.State.LastEscalatedRoleID = ""
	s.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *Session) UpdateLastActive() {
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(SessionIdleTimeout)
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt) || s.Status != SessionStatusActive
}

// Terminate marks the session as terminated
func (s *Session) Terminate() {
	s.Status = SessionStatusTerminated
	s.UpdateLastActive()
}

// Expire marks the session as expired
func (s *Session) Expire() {
	s.Status = SessionStatusExpired
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.RoleID == "" {
		return errors.New("role_id is required")
	}

	if s.Status != SessionStatusActive && s.Status != SessionStatusExpired && s.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
