package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
	"github.com/maverick/chatbot/server/usecase/conversation"
)

// ErrEmptyUtterance is returned when a voice turn carries no audio at all.
// Audio that recognizes to nothing is answered as an empty utterance.
var ErrEmptyUtterance = errors.New("no audio received")

// TurnHandler runs the conversation logic of one turn
type TurnHandler interface {
	HandleTurn(ctx context.Context, in conversation.TurnInput) (entities.TurnResult, error)
}

// TurnObserver receives turn level measurements
type TurnObserver interface {
	ObserveTurn(outcome string, elapsed time.Duration)
	RecordRejectedTurn()
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(string, time.Duration) {}
func (nopObserver) RecordRejectedTurn()               {}

// TurnOutput is what a caller gets back from a completed turn
type TurnOutput struct {
	SessionID  string
	RoleID     string
	Transcript string
	Result     entities.TurnResult

	TransferAudio []byte
	FinalAudio    []byte
}

// SpeakingRoleID returns the role whose voice delivers the final answer
func (o *TurnOutput) SpeakingRoleID() string {
	if o.Result.AnsweringRoleID != "" {
		return o.Result.AnsweringRoleID
	}
	return o.RoleID
}

// VoiceService runs voice and text turns against persisted sessions
type VoiceService struct {
	stt      repositories.SpeechToText
	tts      repositories.TextToSpeech
	turns    TurnHandler
	roles    repositories.RoleRegistry
	sessions repositories.ConversationRepository
	guard    *SessionGuard
	observer TurnObserver
	logger   *zap.Logger

	defaultRoleID string
}

// NewVoiceService creates a new voice service
func NewVoiceService(
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	turns TurnHandler,
	roles repositories.RoleRegistry,
	sessions repositories.ConversationRepository,
	logger *zap.Logger,
) *VoiceService {
	return &VoiceService{
		stt:      stt,
		tts:      tts,
		turns:    turns,
		roles:    roles,
		sessions: sessions,
		guard:    NewSessionGuard(),
		observer: nopObserver{},
		logger:   logger,
	}
}

// SetObserver registers a turn observer
func (s *VoiceService) SetObserver(o TurnObserver) {
	if o != nil {
		s.observer = o
	}
}

// SetDefaultRole sets the role used when a session is started without one
func (s *VoiceService) SetDefaultRole(roleID string) {
	s.defaultRoleID = roleID
}

// Roles lists the configured roles in order
func (s *VoiceService) Roles() []*entities.RoleProfile {
	return s.roles.List()
}

// StartSession creates a session addressed to roleID. An empty roleID
// selects the default role.
func (s *VoiceService) StartSession(ctx context.Context, roleID string) (*entities.Session, error) {
	role, err := s.resolveRole(roleID)
	if err != nil {
		return nil, err
	}

	session := entities.NewSession(role.ID)
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Session started",
		zap.String("session_id", session.ID),
		zap.String("role_id", role.ID))
	return session, nil
}

// EndSession drops a session and its conversation state
func (s *VoiceService) EndSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("Session ended", zap.String("session_id", sessionID))
	return nil
}

// GetSession returns an active session or domain.ErrSessionNotFound
func (s *VoiceService) GetSession(ctx context.Context, sessionID string) (*entities.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil || session.IsExpired() {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// SelectRole switches the role a session talks to
func (s *VoiceService) SelectRole(ctx context.Context, sessionID, roleID string) (*entities.Session, error) {
	if _, ok := s.roles.GetByID(roleID); !ok {
		return nil, domain.ErrRoleNotFound
	}

	release, ok := s.guard.TryAcquire(sessionID)
	if !ok {
		return nil, domain.ErrTurnInProgress
	}
	defer release()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.SelectRole(roleID)
	if err := s.sessions.Save(ctx, session); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// ProcessVoiceTurn transcribes one complete utterance and answers it. Audio
// is produced only when synthesize is set.
func (s *VoiceService) ProcessVoiceTurn(ctx context.Context, sessionID string, audio []byte, filename string, synthesize bool) (*TurnOutput, error) {
	return s.processTurn(ctx, sessionID, synthesize, func(ctx context.Context) (string, error) {
		if len(audio) == 0 {
			return "", ErrEmptyUtterance
		}
		text, err := s.stt.Transcribe(ctx, audio, filename)
		if err != nil {
			return "", domain.NewUpstreamError("asr", err)
		}
		return text, nil
	})
}

// ProcessTextTurn answers a typed utterance. Audio is produced only when
// synthesize is set.
func (s *VoiceService) ProcessTextTurn(ctx context.Context, sessionID, text string, synthesize bool) (*TurnOutput, error) {
	return s.processTurn(ctx, sessionID, synthesize, func(ctx context.Context) (string, error) {
		return text, nil
	})
}

// Speak synthesizes text directly with voice
func (s *VoiceService) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}
	audio, err := s.tts.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, domain.NewUpstreamError("tts", err)
	}
	return audio, nil
}

// ExpireIdleSessions expires sessions without a turn for longer than idle
func (s *VoiceService) ExpireIdleSessions(ctx context.Context, idle time.Duration) (int64, error) {
	return s.sessions.ExpireSessions(ctx, time.Now().Add(-idle))
}

func (s *VoiceService) processTurn(ctx context.Context, sessionID string, synthesize bool, utter func(context.Context) (string, error)) (*TurnOutput, error) {
	release, ok := s.guard.TryAcquire(sessionID)
	if !ok {
		s.observer.RecordRejectedTurn()
		s.logger.Warn("Rejected overlapping turn", zap.String("session_id", sessionID))
		return nil, domain.ErrTurnInProgress
	}
	defer release()

	start := time.Now()
	output, err := s.runTurn(ctx, sessionID, synthesize, utter)
	elapsed := time.Since(start)

	if err != nil {
		s.observer.ObserveTurn("", elapsed)
		s.logger.Error("Turn failed",
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	s.observer.ObserveTurn(string(output.Result.Outcome), elapsed)
	s.logger.Info("Turn completed",
		zap.String("session_id", sessionID),
		zap.String("outcome", string(output.Result.Outcome)),
		zap.String("speaking_role_id", output.SpeakingRoleID()),
		zap.Duration("elapsed", elapsed))
	return output, nil
}

func (s *VoiceService) runTurn(ctx context.Context, sessionID string, synthesize bool, utter func(context.Context) (string, error)) (*TurnOutput, error) {
	start := time.Now()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	role, ok := s.roles.GetByID(session.RoleID)
	if !ok {
		return nil, domain.ErrRoleNotFound
	}

	transcript, err := utter(ctx)
	if err != nil {
		return nil, err
	}
	transcript = strings.TrimSpace(transcript)
	s.logger.Info("Utterance received",
		zap.String("session_id", sessionID),
		zap.String("role_id", role.ID),
		zap.String("text", transcript))

	result, err := s.turns.HandleTurn(ctx, conversation.TurnInput{
		Utterance: transcript,
		Role:      role,
		State:     session.State,
	})
	if err != nil {
		return nil, err
	}

	output := &TurnOutput{
		SessionID:  session.ID,
		RoleID:     role.ID,
		Transcript: transcript,
		Result:     result,
	}

	if synthesize {
		if err := s.synthesizeTurn(ctx, role, output); err != nil {
			return nil, err
		}
	}

	// Save fails with ErrSessionNotFound if the session ended meanwhile
	session.ApplyTurn(transcript, result, time.Since(start))
	if err := s.sessions.Save(ctx, session); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.logger.Warn("Session ended during turn, result dropped", zap.String("session_id", sessionID))
			return nil, err
		}
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return output, nil
}

// synthesizeTurn speaks the transfer line in the requested role's voice and
// the answer in the answering role's voice
func (s *VoiceService) synthesizeTurn(ctx context.Context, role *entities.RoleProfile, output *TurnOutput) error {
	if output.Result.TransferText != "" {
		audio, err := s.tts.Synthesize(ctx, output.Result.TransferText, role.Voice())
		if err != nil {
			return domain.NewUpstreamError("tts", err)
		}
		output.TransferAudio = audio
	}

	speaker := role
	if output.Result.AnsweringRoleID != "" {
		if answering, ok := s.roles.GetByID(output.Result.AnsweringRoleID); ok {
			speaker = answering
		}
	}
	audio, err := s.tts.Synthesize(ctx, output.Result.FinalText, speaker.Voice())
	if err != nil {
		return domain.NewUpstreamError("tts", err)
	}
	output.FinalAudio = audio
	return nil
}

func (s *VoiceService) resolveRole(roleID string) (*entities.RoleProfile, error) {
	if roleID == "" {
		roleID = s.defaultRoleID
	}
	if roleID == "" {
		roles := s.roles.List()
		if len(roles) == 0 {
			return nil, domain.ErrRoleNotFound
		}
		return roles[0], nil
	}
	role, ok := s.roles.GetByID(roleID)
	if !ok {
		return nil, domain.ErrRoleNotFound
	}
	return role, nil
}
