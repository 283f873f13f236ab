package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. One message is a whole utterance.
	maxMessageSize = 10 * 1024 * 1024

	// Upper bound for one turn including synthesis
	turnTimeout = 2 * time.Minute

	// File name handed to speech recognition for binary utterances
	utteranceFileName = "client.wav"
)

// TurnService is the conversation surface the voice socket drives
type TurnService interface {
	StartSession(ctx context.Context, roleID string) (*entities.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*entities.Session, error)
	SelectRole(ctx context.Context, sessionID, roleID string) (*entities.Session, error)
	ProcessVoiceTurn(ctx context.Context, sessionID string, audio []byte, filename string, synthesize bool) (*usecase.TurnOutput, error)
	ProcessTextTurn(ctx context.Context, sessionID, text string, synthesize bool) (*usecase.TurnOutput, error)
}

// ConnectionObserver is notified when voice connections come and go
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopConnectionObserver struct{}

func (nopConnectionObserver) ConnectionOpened() {}
func (nopConnectionObserver) ConnectionClosed() {}

// Hub maintains the set of active voice clients
type Hub struct {
	// Registered clients keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Closed when Run returns.
	done chan struct{}

	service   TurnService
	validator *MessageValidator
	upgrader  websocket.Upgrader
	observer  ConnectionObserver

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub. An empty or "*" origin list accepts
// any origin.
func NewHub(service TurnService, allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		service:    service,
		validator:  NewMessageValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		observer: nopConnectionObserver{},
		logger:   logger,
	}
}

// SetObserver registers a connection observer. Call before Run.
func (h *Hub) SetObserver(o ConnectionObserver) {
	if o != nil {
		h.observer = o
	}
}

// Run starts the hub's main loop until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.observer.ConnectionOpened()
			h.logger.Info("Client registered",
				zap.String("connectionID", client.id),
				zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				h.observer.ConnectionClosed()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("connectionID", client.id))

		case <-ctx.Done():
			h.mu.RLock()
			for _, client := range h.clients {
				client.cancel()
			}
			h.mu.RUnlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	id        string
	sessionID string
	// ephemeral sessions are dropped when the connection closes
	ephemeral bool

	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup

	logger *zap.Logger
}

// Serve upgrades the request and attaches a client. With an empty
// sessionID a throwaway session is started for the role_id query parameter;
// otherwise the given (authenticated) session is resumed and kept after the
// connection closes.
func (h *Hub) Serve(c echo.Context, sessionID string) error {
	ctx := c.Request().Context()

	var session *entities.Session
	var err error
	ephemeral := sessionID == ""
	if ephemeral {
		session, err = h.service.StartSession(ctx, c.QueryParam("role_id"))
	} else {
		session, err = h.service.GetSession(ctx, sessionID)
	}
	if err != nil {
		h.logger.Warn("WebSocket session unavailable", zap.Error(err))
		return c.JSON(http.StatusNotFound, CreateErrorMessage(ErrorCode(err), err.Error()))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		if ephemeral {
			_ = h.service.EndSession(context.Background(), session.ID)
		}
		return err
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan WriteData, 64),
		id:        uuid.NewString(),
		sessionID: session.ID,
		ephemeral: ephemeral,
		ctx:       clientCtx,
		cancel:    cancel,
		logger:    h.logger.With(zap.String("sessionID", session.ID)),
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		if ephemeral {
			_ = h.service.EndSession(context.Background(), session.ID)
		}
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	client.sendJSON(&SessionMessage{
		BaseMessage: newBase(MessageTypeSession),
		SessionID:   session.ID,
		RoleID:      session.RoleID,
		Persistent:  !ephemeral,
	})
	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.startTurn(func(ctx context.Context) (*usecase.TurnOutput, error) {
				return c.hub.service.ProcessVoiceTurn(ctx, c.sessionID, message, utteranceFileName, true)
			})
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// close tears the client down once the read side is gone. In-flight turns
// are cancelled and awaited so an ephemeral session cannot be re-saved
// after it is dropped.
func (c *Client) close() {
	c.cancel()
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
	c.turns.Wait()

	if c.ephemeral {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.hub.service.EndSession(ctx, c.sessionID); err != nil {
			c.logger.Error("Failed to drop ephemeral session", zap.Error(err))
		}
	}
}

// processMessage handles text frames: a bare "ping" or a JSON control message
func (c *Client) processMessage(message []byte) {
	if strings.EqualFold(strings.TrimSpace(string(message)), "ping") {
		c.enqueue(WriteData{Type: websocket.TextMessage, Payload: []byte("pong")})
		return
	}

	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendJSON(CreateErrorMessage(ErrorCodeInvalidMessage, err.Error()))
		return
	}

	switch m := msg.(type) {
	case *PingMessage:
		c.sendJSON(CreatePongMessage())

	case *SelectRoleMessage:
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		defer cancel()
		session, err := c.hub.service.SelectRole(ctx, c.sessionID, m.RoleID)
		if err != nil {
			c.sendError(err)
			return
		}
		c.logger.Info("Role selected", zap.String("roleID", session.RoleID))
		c.sendJSON(&SessionMessage{
			BaseMessage: newBase(MessageTypeSession),
			SessionID:   session.ID,
			RoleID:      session.RoleID,
			Persistent:  !c.ephemeral,
		})

	case *TextMessage:
		text := m.Text
		c.startTurn(func(ctx context.Context) (*usecase.TurnOutput, error) {
			return c.hub.service.ProcessTextTurn(ctx, c.sessionID, text, true)
		})
	}
}

// startTurn runs one turn off the read loop so pings keep flowing. A second
// utterance arriving meanwhile is rejected by the service.
func (c *Client) startTurn(run func(ctx context.Context) (*usecase.TurnOutput, error)) {
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()

		ctx, cancel := context.WithTimeout(c.ctx, turnTimeout)
		defer cancel()

		output, err := run(ctx)
		if err != nil {
			c.sendError(err)
			return
		}
		c.sendTurn(output)
	}()
}

// sendTurn emits transcript, optional transfer and answer, each audio frame
// following its JSON event
func (c *Client) sendTurn(output *usecase.TurnOutput) {
	c.sendJSON(&TranscriptMessage{
		BaseMessage: newBase(MessageTypeTranscript),
		Text:        output.Transcript,
	})

	if output.Result.TransferText != "" {
		c.sendJSON(&TransferMessage{
			BaseMessage:  newBase(MessageTypeTransfer),
			RoleID:       output.RoleID,
			TargetRoleID: output.Result.AnsweringRoleID,
			Text:         output.Result.TransferText,
			AudioBytes:   len(output.TransferAudio),
		})
		if len(output.TransferAudio) > 0 {
			c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: output.TransferAudio})
		}
	}

	c.sendJSON(&AnswerMessage{
		BaseMessage: newBase(MessageTypeAnswer),
		RoleID:      output.SpeakingRoleID(),
		Outcome:     string(output.Result.Outcome),
		Text:        output.Result.FinalText,
		AudioBytes:  len(output.FinalAudio),
	})
	if len(output.FinalAudio) > 0 {
		c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: output.FinalAudio})
	}
}

func (c *Client) sendError(err error) {
	if errors.Is(err, context.Canceled) && c.ctx.Err() != nil {
		return
	}
	c.logger.Warn("Turn failed", zap.Error(err))
	c.sendJSON(CreateErrorMessage(ErrorCode(err), err.Error()))
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) enqueue(data WriteData) {
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
