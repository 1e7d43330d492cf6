package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/internal/metrics"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultIdleTimeout     = 30 * time.Minute
)

// ConversationExpirer expires conversations idle for longer than idleTimeout
type ConversationExpirer interface {
	ExpireIdle(ctx context.Context, idleTimeout time.Duration) (int64, error)
}

// SessionCleanupService periodically expires idle conversations
type SessionCleanupService struct {
	expirer     ConversationExpirer
	interval    time.Duration
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionCleanupService creates a new session cleanup service. m may be nil.
func NewSessionCleanupService(expirer ConversationExpirer, interval, idleTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *SessionCleanupService {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &SessionCleanupService{
		expirer:     expirer,
		interval:    interval,
		idleTimeout: idleTimeout,
		metrics:     m,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	s.wg.Add(1)
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.interval),
		zap.Duration("idleTimeout", s.idleTimeout))
}

// Stop gracefully stops the cleanup service and waits for a running pass
func (s *SessionCleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the cleanup process periodically
func (s *SessionCleanupService) cleanupLoop() {
	defer s.wg.Done()

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

// RunOnce performs a single cleanup pass and returns how many conversations expired
func (s *SessionCleanupService) RunOnce() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.expirer.ExpireIdle(ctx, s.idleTimeout)
	if err != nil {
		s.logger.Error("Failed to expire idle conversations", zap.Error(err))
		return 0
	}

	if s.metrics != nil {
		s.metrics.ExpiredConversations.Add(float64(expired))
	}
	if expired > 0 {
		s.logger.Info("Expired idle conversations", zap.Int64("count", expired))
	}
	return expired
}
