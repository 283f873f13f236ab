package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/internal/auth"
	"github.com/maverick/chatbot/server/internal/websocket"
	"github.com/maverick/chatbot/server/usecase"
)

const audioContentType = "audio/mpeg"

// ChatService is the conversation surface served over HTTP
type ChatService interface {
	websocket.TurnService
	Roles() []*entities.RoleProfile
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}

// Dependencies carries everything the routes need
type Dependencies struct {
	Service ChatService
	Hub     *websocket.Hub
	Issuer  *auth.TokenIssuer

	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
	// Requests records per-route metrics when set
	Requests RequestObserver

	MaxUploadMB int
	Logger      *zap.Logger
}

type handler struct {
	service        ChatService
	hub            *websocket.Hub
	issuer         *auth.TokenIssuer
	maxUploadBytes int64
	logger         *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	if deps.MaxUploadMB <= 0 {
		deps.MaxUploadMB = 20
	}
	h := &handler{
		service:        deps.Service,
		hub:            deps.Hub,
		issuer:         deps.Issuer,
		maxUploadBytes: int64(deps.MaxUploadMB) << 20,
		logger:         deps.Logger,
	}

	if deps.Requests != nil {
		e.Use(RequestMetrics(deps.Requests))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "chatbot-server",
		})
	})
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	e.GET("/api/roles", h.listRoles)

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/sessions", h.createSession)
	v1.DELETE("/sessions/:id", h.deleteSession)

	// One-shot chat APIs
	chat := e.Group("/api/chat", middleware.BodyLimit(fmt.Sprintf("%dM", deps.MaxUploadMB)))
	chat.POST("/audio", h.chatAudio)
	chat.POST("/tts", h.tts)
	chat.POST("/audio-tts", h.chatAudioTTS)

	// WebSocket endpoint, token optional
	e.GET("/ws/voice", h.voiceSocket)
}

func (h *handler) listRoles(c echo.Context) error {
	roles := h.service.Roles()
	out := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleResponse{
			ID:     r.ID,
			Name:   r.Name,
			Series: r.Series,
			Avatar: r.Avatar,
			Voices: r.Voices,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handler) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind session request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	ctx := c.Request().Context()
	session, err := h.service.StartSession(ctx, strings.TrimSpace(req.RoleID))
	if err != nil {
		return h.writeError(c, err)
	}

	token, expiresAt, err := h.issuer.IssueSessionToken(session.ID, session.RoleID)
	if err != nil {
		h.logger.Error("Failed to issue session token",
			zap.String("sessionID", session.ID),
			zap.Error(err))
		_ = h.service.EndSession(ctx, session.ID)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}

	h.logger.Info("Session started",
		zap.String("sessionID", session.ID),
		zap.String("roleID", session.RoleID))

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: session.ID,
		RoleID:    session.RoleID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *handler) deleteSession(c echo.Context) error {
	claims, err := h.authenticate(c, true)
	if err != nil {
		return h.unauthorized(c, err)
	}
	if claims.SessionID != c.Param("id") {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Token does not own this session",
		})
	}

	if err := h.service.EndSession(c.Request().Context(), claims.SessionID); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) chatAudio(c echo.Context) error {
	output, sessionID, err := h.audioTurn(c, false)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, ChatAudioResponse{
		ASRText:      output.Transcript,
		AIText:       output.Result.FinalText,
		TransferText: output.Result.TransferText,
		RoleID:       output.SpeakingRoleID(),
		Outcome:      string(output.Result.Outcome),
		SessionID:    sessionID,
	})
}

// chatAudioTTS answers with the transfer audio (if any) followed by the
// answer audio. MP3 frames concatenate into one playable stream.
func (h *handler) chatAudioTTS(c echo.Context) error {
	output, _, err := h.audioTurn(c, true)
	if err != nil {
		return h.writeError(c, err)
	}
	audio := make([]byte, 0, len(output.TransferAudio)+len(output.FinalAudio))
	audio = append(audio, output.TransferAudio...)
	audio = append(audio, output.FinalAudio...)
	return c.Blob(http.StatusOK, audioContentType, audio)
}

func (h *handler) tts(c echo.Context) error {
	text := c.FormValue("text")
	if strings.TrimSpace(text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "text is required",
		})
	}

	audio, err := h.service.Speak(c.Request().Context(), text, c.FormValue("voice"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Blob(http.StatusOK, audioContentType, audio)
}

// audioTurn runs one voice turn from a multipart upload. A bearer token
// resumes its session; without one a throwaway session for role_id is used
// and dropped afterwards, in which case the returned session id is empty.
func (h *handler) audioTurn(c echo.Context, synthesize bool) (*usecase.TurnOutput, string, error) {
	audio, filename, err := h.readUpload(c)
	if err != nil {
		return nil, "", err
	}

	ctx := c.Request().Context()
	claims, err := h.authenticate(c, false)
	if err != nil {
		return nil, "", err
	}

	var sessionID string
	if claims != nil {
		sessionID = claims.SessionID
	} else {
		session, err := h.service.StartSession(ctx, strings.TrimSpace(c.FormValue("role_id")))
		if err != nil {
			return nil, "", err
		}
		defer func() {
			if err := h.service.EndSession(context.Background(), session.ID); err != nil {
				h.logger.Warn("Failed to drop one-shot session", zap.Error(err))
			}
		}()
		sessionID = session.ID
	}

	output, err := h.service.ProcessVoiceTurn(ctx, sessionID, audio, filename, synthesize)
	if err != nil {
		return nil, "", err
	}

	if claims == nil {
		return output, "", nil
	}
	return output, sessionID, nil
}

func (h *handler) readUpload(c echo.Context) ([]byte, string, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, "", errBadUpload
	}
	if header.Size > h.maxUploadBytes {
		return nil, "", errUploadTooLarge
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", errBadUpload
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(f, h.maxUploadBytes+1)); err != nil {
		return nil, "", errBadUpload
	}
	if int64(buf.Len()) > h.maxUploadBytes {
		return nil, "", errUploadTooLarge
	}
	if buf.Len() == 0 {
		return nil, "", errBadUpload
	}
	return buf.Bytes(), header.Filename, nil
}

// authenticate reads the bearer token from the Authorization header or the
// token query parameter. With required unset a missing token yields nil
// claims; a present but invalid token is always an error.
func (h *handler) authenticate(c echo.Context, required bool) (*auth.SessionClaims, error) {
	token, err := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		token = c.QueryParam("token")
	}
	if token == "" {
		if required {
			return nil, auth.ErrMissingToken
		}
		return nil, nil
	}
	if h.issuer == nil {
		return nil, errInvalidToken
	}
	claims, err := h.issuer.ValidateToken(token)
	if err != nil {
		h.logger.Warn("Rejected token", zap.Error(err))
		return nil, errInvalidToken
	}
	return claims, nil
}

func (h *handler) voiceSocket(c echo.Context) error {
	claims, err := h.authenticate(c, false)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected", zap.Error(err))
		return h.unauthorized(c, err)
	}

	sessionID := ""
	if claims != nil {
		sessionID = claims.SessionID
		h.logger.Info("WebSocket connection authenticated", zap.String("sessionID", sessionID))
	}
	return h.hub.Serve(c, sessionID)
}

var (
	errBadUpload      = errors.New("multipart field 'file' with audio is required")
	errUploadTooLarge = errors.New("uploaded audio is too large")
	errInvalidToken   = errors.New("invalid or expired token")
)

func (h *handler) unauthorized(c echo.Context, err error) error {
	code := "invalid_token"
	if errors.Is(err, auth.ErrMissingToken) {
		code = "missing_token"
	}
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: code, Message: err.Error()})
}

// writeError maps a service failure to a status code and error body
func (h *handler) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	code := websocket.ErrorCode(err)

	switch {
	case errors.Is(err, errBadUpload):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errUploadTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, errInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return h.unauthorized(c, err)
	case errors.Is(err, usecase.ErrEmptyUtterance):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTurnInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRoleNotFound), errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		h.logger.Warn("Request rejected", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
