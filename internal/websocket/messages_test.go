package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/usecase"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantType interface{}
		wantErr  bool
	}{
		{
			name:     "ping",
			message:  `{"type": "ping"}`,
			wantType: &PingMessage{},
		},
		{
			name:     "select role",
			message:  `{"type": "select_role", "role_id": " guanyu "}`,
			wantType: &SelectRoleMessage{},
		},
		{
			name:    "select role without id",
			message: `{"type": "select_role"}`,
			wantErr: true,
		},
		{
			name:     "text",
			message:  `{"type": "text", "text": "你好"}`,
			wantType: &TextMessage{},
		},
		{
			name:     "blank text",
			message:  `{"type": "text", "text": "  "}`,
			wantType: &TextMessage{},
		},
		{
			name:    "unknown type",
			message: `{"type": "audio_chunk"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			message: `{"type": "ping"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if fmt.Sprintf("%T", msg) != fmt.Sprintf("%T", tt.wantType) {
				t.Errorf("Expected %T, got %T", tt.wantType, msg)
			}
		})
	}

	msg, _ := validator.ValidateMessage([]byte(`{"type": "select_role", "role_id": " guanyu "}`))
	if msg.(*SelectRoleMessage).RoleID != "guanyu" {
		t.Errorf("Expected trimmed role id, got %q", msg.(*SelectRoleMessage).RoleID)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage(ErrorCodeTurnInProgress, "busy")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	if decoded["type"] != "error" || decoded["error_code"] != "turn_in_progress" || decoded["message"] != "busy" {
		t.Errorf("Unexpected error message %s", data)
	}
	if decoded["timestamp"] == "" {
		t.Error("Expected timestamp")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{domain.ErrTurnInProgress, ErrorCodeTurnInProgress},
		{fmt.Errorf("wrap: %w", domain.ErrRoleNotFound), ErrorCodeRoleNotFound},
		{domain.ErrSessionNotFound, ErrorCodeSessionNotFound},
		{usecase.ErrEmptyUtterance, ErrorCodeEmptyUtterance},
		{domain.NewUpstreamError("tts", errors.New("down")), ErrorCodeUpstreamUnavailable},
		{errors.New("boom"), ErrorCodeInternal},
	}

	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.expected {
			t.Errorf("ErrorCode(%v) = %s, expected %s", tt.err, got, tt.expected)
		}
	}
}
