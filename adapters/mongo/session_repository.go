package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

const sessionsCollection = "sessions"

// SessionRepository stores sessions and their conversation state in MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// Ensure SessionRepository implements the ConversationRepository interface
var _ repositories.ConversationRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection(sessionsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup and TTL indexes. Terminated or expired
// documents are removed by MongoDB once expires_at passes.
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	statusExpiresIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "last_active_at", Value: 1},
		},
	}
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{statusExpiresIndex, ttlIndex}); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	r.logger.Info("Session indexes created successfully")
	return nil
}

// Create implements repositories.ConversationRepository
func (r *SessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("role_id", session.RoleID))
	return nil
}

// Get implements repositories.ConversationRepository
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*entities.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var session entities.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Save implements repositories.ConversationRepository. Only active documents
// are replaced so a turn finishing late cannot bring back an ended session.
func (r *SessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	result, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": session.ID, "status": entities.SessionStatusActive},
		session)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete implements repositories.ConversationRepository
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ExpireSessions implements repositories.ConversationRepository
func (r *SessionRepository) ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":         entities.SessionStatusActive,
		"last_active_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{"$set": bson.M{"status": entities.SessionStatusExpired}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired idle sessions", zap.Int64("count", result.ModifiedCount))
	}
	return result.ModifiedCount, nil
}
