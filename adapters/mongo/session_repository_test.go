package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
)

// TestSessionRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestSessionRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewClient(ctx, mongoURI, "chatbot_test", logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	repo := NewSessionRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		session := entities.NewSession("zhugeliang")
		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		retrieved, err := repo.Get(ctx, session.ID)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if retrieved == nil || retrieved.RoleID != "zhugeliang" {
			t.Errorf("Expected role zhugeliang, got %+v", retrieved)
		}
	})

	t.Run("SaveReplacesState", func(t *testing.T) {
		session := entities.NewSession("guanyu")
		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		session.ApplyTurn("你是谁", entities.TurnResult{
			FinalText: "关某在此。",
			State:     entities.ConversationState{LastQuery: "你是谁", TopicSummary: "你是谁"},
		}, time.Second)

		if err := repo.Save(ctx, session); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}

		retrieved, _ := repo.Get(ctx, session.ID)
		if retrieved.State.LastQuery != "你是谁" || len(retrieved.Turns) != 1 {
			t.Errorf("Expected persisted state, got %+v", retrieved.State)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		retrieved, err := repo.Get(ctx, "missing")
		if err != nil || retrieved != nil {
			t.Errorf("Expected nil, nil for missing session, got %v, %v", retrieved, err)
		}
	})

	t.Run("ExpireAndDelete", func(t *testing.T) {
		session := entities.NewSession("sunwukong")
		session.LastActiveAt = time.Now().Add(-48 * time.Hour)
		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		count, err := repo.ExpireSessions(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("Failed to expire sessions: %v", err)
		}
		if count < 1 {
			t.Errorf("Expected at least 1 expired session, got %d", count)
		}

		if err := repo.Save(ctx, session); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound saving an expired session, got %v", err)
		}

		if err := repo.Delete(ctx, session.ID); err != nil {
			t.Fatalf("Failed to delete session: %v", err)
		}
		if retrieved, _ := repo.Get(ctx, session.ID); retrieved != nil {
			t.Error("Expected session to be deleted")
		}
		if err := repo.Save(ctx, session); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound saving a deleted session, got %v", err)
		}
		if retrieved, _ := repo.Get(ctx, session.ID); retrieved != nil {
			t.Error("Expected deleted session to stay gone")
		}
	})
}
