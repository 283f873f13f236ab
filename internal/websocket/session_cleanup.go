package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionExpirer expires sessions idle for longer than the given duration
type SessionExpirer interface {
	ExpireIdleSessions(ctx context.Context, idle time.Duration) (int64, error)
}

// SessionCleanupService handles background tasks for session management
type SessionCleanupService struct {
	expirer     SessionExpirer
	interval    time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
	doneChan    chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(expirer SessionExpirer, interval, idleTimeout time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		expirer:     expirer,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.interval),
		zap.Duration("idleTimeout", s.idleTimeout))
}

// Stop gracefully stops the cleanup service and waits for the loop to exit
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the cleanup process periodically
func (s *SessionCleanupService) cleanupLoop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs one expiry pass
func (s *SessionCleanupService) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	count, err := s.expirer.ExpireIdleSessions(ctx, s.idleTimeout)
	if err != nil {
		s.logger.Error("Failed to expire sessions", zap.Error(err))
		return
	}

	s.logger.Info("Session cleanup completed", zap.Int64("expired", count))
}
