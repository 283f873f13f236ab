package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/usecase"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// Incoming
	MessageTypePing       MessageType = "ping"
	MessageTypeSelectRole MessageType = "select_role"
	MessageTypeText       MessageType = "text"

	// Outgoing
	MessageTypePong       MessageType = "pong"
	MessageTypeSession    MessageType = "session"
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeTransfer   MessageType = "transfer"
	MessageTypeAnswer     MessageType = "answer"
	MessageTypeError      MessageType = "error"
)

// Error codes carried by error events
const (
	ErrorCodeInvalidMessage      = "invalid_message"
	ErrorCodeTurnInProgress      = "turn_in_progress"
	ErrorCodeRoleNotFound        = "role_not_found"
	ErrorCodeSessionNotFound     = "session_not_found"
	ErrorCodeEmptyUtterance      = "empty_utterance"
	ErrorCodeUpstreamUnavailable = "upstream_unavailable"
	ErrorCodeInternal            = "internal_error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// PingMessage represents a JSON ping for connection health check
type PingMessage struct {
	BaseMessage
}

// PongMessage answers a JSON ping
type PongMessage struct {
	BaseMessage
}

// SelectRoleMessage switches the role the connection talks to
type SelectRoleMessage struct {
	BaseMessage
	RoleID string `json:"role_id"`
}

// TextMessage is a typed utterance
type TextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// SessionMessage tells the client which session and role are active
type SessionMessage struct {
	BaseMessage
	SessionID  string `json:"session_id"`
	RoleID     string `json:"role_id"`
	Persistent bool   `json:"persistent"`
}

// TranscriptMessage carries the recognized utterance
type TranscriptMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// TransferMessage precedes the transfer audio when another role takes over
type TransferMessage struct {
	BaseMessage
	RoleID       string `json:"role_id"`
	TargetRoleID string `json:"target_role_id"`
	Text         string `json:"text"`
	AudioBytes   int    `json:"audio_bytes"`
}

// AnswerMessage precedes the answer audio
type AnswerMessage struct {
	BaseMessage
	RoleID     string `json:"role_id"`
	Outcome    string `json:"outcome"`
	Text       string `json:"text"`
	AudioBytes int    `json:"audio_bytes"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator parses and validates incoming control messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming JSON message and returns the typed value
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypePing:
		return &PingMessage{BaseMessage: base}, nil

	case MessageTypeSelectRole:
		var msg SelectRoleMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid select_role message: %w", err)
		}
		msg.RoleID = strings.TrimSpace(msg.RoleID)
		if msg.RoleID == "" {
			return nil, fmt.Errorf("role_id is required")
		}
		return &msg, nil

	case MessageTypeText:
		var msg TextMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid text message: %w", err)
		}
		// Blank text is a valid, empty utterance
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage() *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong)}
}

// ErrorCode maps a turn failure to the code sent to the client
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrTurnInProgress):
		return ErrorCodeTurnInProgress
	case errors.Is(err, domain.ErrRoleNotFound):
		return ErrorCodeRoleNotFound
	case errors.Is(err, domain.ErrSessionNotFound):
		return ErrorCodeSessionNotFound
	case errors.Is(err, usecase.ErrEmptyUtterance):
		return ErrorCodeEmptyUtterance
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return ErrorCodeUpstreamUnavailable
	default:
		return ErrorCodeInternal
	}
}
