package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// MemorySessionRepository is an in-memory implementation of ConversationRepository
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.Session
}

// Ensure MemorySessionRepository implements the ConversationRepository interface
var _ repositories.ConversationRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates a new in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entities.Session),
	}
}

// Create implements ConversationRepository interface
func (m *MemorySessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.New("session with this ID already exists")
	}
	m.sessions[session.ID] = copySession(session)
	return nil
}

// Get implements ConversationRepository interface
func (m *MemorySessionRepository) Get(ctx context.Context, sessionID string) (*entities.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, nil
	}
	// Return a copy to prevent external modifications
	return copySession(session), nil
}

// Save implements ConversationRepository interface
func (m *MemorySessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sessions[session.ID]
	if !exists || stored.Status != entities.SessionStatusActive {
		return domain.ErrSessionNotFound
	}
	m.sessions[session.ID] = copySession(session)
	return nil
}

// Delete implements ConversationRepository interface
func (m *MemorySessionRepository) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// ExpireSessions implements ConversationRepository interface. Expired
// sessions are dropped since nothing else reclaims them.
func (m *MemorySessionRepository) ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for id, session := range m.sessions {
		if session.LastActiveAt.Before(cutoff) || session.Status != entities.SessionStatusActive {
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}

// Count returns the number of stored sessions
func (m *MemorySessionRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func copySession(s *entities.Session) *entities.Session {
	c := *s
	c.Turns = append([]entities.TurnRecord(nil), s.Turns...)
	return &c
}
