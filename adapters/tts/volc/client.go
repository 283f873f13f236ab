package volc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

const (
	defaultURL       = "wss://openspeech.bytedance.com/api/v1/tts/ws_binary"
	defaultCluster   = "volcano_icl"
	defaultUID       = "uid"
	defaultEncoding  = "mp3"
	defaultOperation = "query"
	defaultTextType  = "plain"
	defaultTimeout   = 30 * time.Second
)

var (
	// ErrPrematureClose is returned when the connection ends before a
	// terminal frame arrives
	ErrPrematureClose = errors.New("volc: connection closed before final frame")
	// ErrTimeout is returned when no terminal frame arrives in time
	ErrTimeout = errors.New("volc: timed out awaiting response")
)

// State is the lifecycle of one synthesis call
type State int

const (
	StateConnecting State = iota
	StateAwaitingResponse
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// Observer is told the outcome of every synthesis call
type Observer interface {
	ObserveSynthesis(elapsed time.Duration, err error)
}

// Config holds configuration for the Volcano Engine client
// Required fields:
// - AppID, Token
// Optional fields default to the public endpoint, cluster "volcano_icl",
// mp3 encoding, unit ratios and a 30s timeout.
type Config struct {
	URL          string
	AppID        string
	Token        string
	Cluster      string
	UID          string
	Encoding     string
	DefaultVoice string
	SpeedRatio   float64
	VolumeRatio  float64
	PitchRatio   float64
	Timeout      time.Duration
	// AllowPartial returns the audio received so far instead of
	// ErrPrematureClose when the server hangs up early
	AllowPartial bool
}

// Client submits synthesis requests, one connection per call
type Client struct {
	cfg      Config
	dialer   *websocket.Dialer
	logger   *zap.Logger
	observer Observer
}

// Ensure Client implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*Client)(nil)

// NewClient creates a new Volcano Engine synthesis client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.AppID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("volc appid and token are required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultURL
		logger.Info("Using default volc URL", zap.String("url", cfg.URL))
	}
	if cfg.Cluster == "" {
		cfg.Cluster = defaultCluster
	}
	if cfg.UID == "" {
		cfg.UID = defaultUID
	}
	if cfg.Encoding == "" {
		cfg.Encoding = defaultEncoding
	}
	if cfg.SpeedRatio == 0 {
		cfg.SpeedRatio = 1.0
	}
	if cfg.VolumeRatio == 0 {
		cfg.VolumeRatio = 1.0
	}
	if cfg.PitchRatio == 0 {
		cfg.PitchRatio = 1.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
		logger.Info("Using default volc timeout", zap.Duration("timeout", cfg.Timeout))
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// SetObserver registers an outcome observer
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// NewRequest builds a fresh request for text with a new request id
func (c *Client) NewRequest(text, voice string) Request {
	if voice == "" {
		voice = c.cfg.DefaultVoice
	}
	return Request{
		App:  AppParams{AppID: c.cfg.AppID, Token: c.cfg.Token, Cluster: c.cfg.Cluster},
		User: UserParams{UID: c.cfg.UID},
		Audio: AudioParams{
			VoiceType:   voice,
			Encoding:    c.cfg.Encoding,
			SpeedRatio:  c.cfg.SpeedRatio,
			VolumeRatio: c.cfg.VolumeRatio,
			PitchRatio:  c.cfg.PitchRatio,
		},
		Request: RequestParams{
			ReqID:     uuid.NewString(),
			Text:      text,
			TextType:  defaultTextType,
			Operation: defaultOperation,
		},
	}
}

// Synthesize implements repositories.TextToSpeech
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	return c.Submit(ctx, c.NewRequest(text, voice))
}

type outcome struct {
	audio []byte
	err   error
}

// Submit sends req over a new connection and blocks until the reassembled
// audio is complete, an error frame arrives, the connection drops or the
// timeout expires. The connection is always closed before returning.
func (c *Client) Submit(ctx context.Context, req Request) (audio []byte, err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveSynthesis(time.Since(started), err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	logger := c.logger.With(zap.String("reqId", req.Request.ReqID))
	state := StateConnecting
	transition := func(next State) {
		logger.Debug("Synthesis state", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}

	frame, err := EncodeRequest(req)
	if err != nil {
		transition(StateFailed)
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer; "+req.App.Token)
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		transition(StateFailed)
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to volc (status %d): %w", resp.StatusCode, err)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to connect to volc: %w", err)
	}
	defer conn.Close()

	transition(StateAwaitingResponse)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		transition(StateFailed)
		return nil, fmt.Errorf("failed to send synthesis request: %w", err)
	}

	done := make(chan outcome, 1)
	go c.readLoop(conn, logger, done)

	select {
	case out := <-done:
		if out.err != nil {
			transition(StateFailed)
			c.logFailure(logger, out.err)
			return nil, out.err
		}
		transition(StateCompleted)
		logger.Info("Synthesis completed",
			zap.Int("bytes", len(out.audio)),
			zap.Duration("elapsed", time.Since(started)))
		return out.audio, nil

	case <-ctx.Done():
		transition(StateFailed)
		// unblocks the reader
		conn.Close()
		if ctx.Err() == context.DeadlineExceeded {
			logger.Warn("Synthesis timed out", zap.Duration("timeout", c.cfg.Timeout))
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// readLoop feeds frames to a decoder and reports exactly one outcome
func (c *Client) readLoop(conn *websocket.Conn, logger *zap.Logger, done chan<- outcome) {
	decoder := NewDecoder()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeWith(conn, websocket.CloseNormalClosure, err.Error())
			}
			if c.cfg.AllowPartial {
				logger.Warn("Connection closed before final frame, returning partial audio",
					zap.Int("bytes", len(decoder.Audio())), zap.Error(err))
				done <- outcome{audio: decoder.Audio()}
				return
			}
			done <- outcome{err: fmt.Errorf("%w: %v", ErrPrematureClose, err)}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		event, err := decoder.Feed(data)
		if err != nil {
			closeWith(conn, websocket.CloseNormalClosure, "")
			done <- outcome{err: err}
			return
		}
		if event.Kind == EventCompleted {
			closeWith(conn, websocket.CloseNormalClosure, "")
			done <- outcome{audio: decoder.Audio()}
			return
		}
	}
}

// maxCloseReason is the room left for a reason in a 125 byte control frame
const maxCloseReason = 123

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, closeReason(text))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// closeReason cuts text to fit a close frame without splitting a rune
func closeReason(text string) string {
	if len(text) <= maxCloseReason {
		return text
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (c *Client) logFailure(logger *zap.Logger, err error) {
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) && synthErr.PermissionDenied() {
		logger.Error("Synthesis rejected, check volc token and voice entitlement",
			zap.Int32("code", synthErr.Code),
			zap.String("message", synthErr.Message))
		return
	}
	logger.Warn("Synthesis failed", zap.Error(err))
}
