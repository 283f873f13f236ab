package repositories

import (
	"context"
	"time"

	"github.com/maverick/chatbot/server/domain/entities"
)

// ConversationRepository defines data access methods for sessions and their
// rolling conversation state
type ConversationRepository interface {
	Create(ctx context.Context, session *entities.Session) error
	// Get returns nil, nil when the session does not exist
	Get(ctx context.Context, sessionID string) (*entities.Session, error)
	// Save overwrites an active session. It returns domain.ErrSessionNotFound
	// once the session was deleted or expired.
	Save(ctx context.Context, session *entities.Session) error
	Delete(ctx context.Context, sessionID string) error
	// ExpireSessions marks sessions idle since before cutoff as expired
	ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error)
}
