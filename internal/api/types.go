package api

import "time"

// CreateSessionRequest represents the request payload for starting a session
type CreateSessionRequest struct {
	RoleID string `json:"role_id" form:"role_id"`
}

// CreateSessionResponse represents the response payload for a started session
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	RoleID    string    `json:"role_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RoleResponse is the public view of a role. Persona prompts stay server side.
type RoleResponse struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Series string   `json:"series,omitempty"`
	Avatar string   `json:"avatar,omitempty"`
	Voices []string `json:"voices,omitempty"`
}

// ChatAudioResponse represents the result of one spoken turn
type ChatAudioResponse struct {
	ASRText      string `json:"asrText"`
	AIText       string `json:"aiText"`
	TransferText string `json:"transferText,omitempty"`
	RoleID       string `json:"roleId"`
	Outcome      string `json:"outcome"`
	SessionID    string `json:"sessionId,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
