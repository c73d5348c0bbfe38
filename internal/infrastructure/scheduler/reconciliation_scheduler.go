package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/infrastructure/telemetry"
)

// reconciliationLockKey names the run-lock shared by every instance
const reconciliationLockKey = "lock:reconciliation"

// BatchSyncer reconciles a batch of stale pending payments
type BatchSyncer interface {
	SyncBatch(ctx context.Context, limit int) (*appfinance.BatchResult, error)
}

// RunLock is a TTL lock held by one owner at a time
type RunLock interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// ReconciliationScheduler periodically polls the gateway for payments whose
// callback never arrived.
type ReconciliationScheduler struct {
	poller    BatchSyncer
	lock      RunLock
	logger    *zap.Logger
	config    ReconciliationSchedulerConfig
	owner     string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// ReconciliationSchedulerConfig holds configuration for the reconciliation scheduler
type ReconciliationSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the delay between runs
	Interval time.Duration

	// BatchSize caps the payments examined per run
	BatchSize int

	// LockTTL is how long a run holds the shared lock. It also bounds the run.
	LockTTL time.Duration
}

// DefaultReconciliationSchedulerConfig returns default configuration
func DefaultReconciliationSchedulerConfig() ReconciliationSchedulerConfig {
	return ReconciliationSchedulerConfig{
		Enabled:   true,
		Interval:  2 * time.Minute,
		BatchSize: 50,
		LockTTL:   2 * time.Minute,
	}
}

// Validate checks the configuration
func (c ReconciliationSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: lock ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// NewReconciliationScheduler creates a new reconciliation scheduler
func NewReconciliationScheduler(
	poller BatchSyncer,
	lock RunLock,
	logger *zap.Logger,
	config ReconciliationSchedulerConfig,
) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		poller: poller,
		lock:   lock,
		logger: logger,
		config: config,
		owner:  uuid.NewString(),
	}
}

// Start starts the reconciliation loop
func (s *ReconciliationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Reconciliation scheduler is disabled")
		return nil
	}
	if err := s.config.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx)

	s.logger.Info("Reconciliation scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Duration("lock_ttl", s.config.LockTTL),
	)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight run
func (s *ReconciliationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *ReconciliationScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reconciliation loop stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass if this instance wins the
// run-lock. It returns nil when the pass was skipped or failed.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context) *appfinance.BatchResult {
	acquired, err := s.lock.TryLock(ctx, reconciliationLockKey, s.owner, s.config.LockTTL)
	if err != nil {
		s.logger.Error("Failed to acquire reconciliation lock", zap.Error(err))
		return nil
	}
	if !acquired {
		s.logger.Debug("Reconciliation already running elsewhere, skipping")
		return nil
	}
	defer func() {
		// The run context may already be cancelled during shutdown.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.Unlock(unlockCtx, reconciliationLockKey, s.owner); err != nil {
			s.logger.Warn("Failed to release reconciliation lock", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.LockTTL)
	defer cancel()

	var (
		result *appfinance.BatchResult
		runErr error
	)
	startTime := time.Now()
	telemetry.WithProfilingLabels(runCtx, map[string]string{"job": "reconciliation"}, func(ctx context.Context) {
		result, runErr = s.poller.SyncBatch(ctx, s.config.BatchSize)
	})
	duration := time.Since(startTime)

	if runErr != nil {
		s.logger.Error("Reconciliation run failed",
			zap.Duration("duration", duration),
			zap.Error(runErr),
		)
		return nil
	}

	s.logger.Info("Reconciliation run completed",
		zap.Duration("duration", duration),
		zap.Int("scanned", result.Scanned),
		zap.Int("completed", result.Count(appfinance.SyncCompleted)),
		zap.Int("failed", result.Count(appfinance.SyncFailed)),
		zap.Int("still_pending", result.Count(appfinance.SyncStillPending)),
		zap.Int("deferred", result.Count(appfinance.SyncDeferred)),
		zap.Int("errors", result.Errors),
	)
	return result
}

// TriggerImmediate runs a reconciliation pass now in the background
func (s *ReconciliationScheduler) TriggerImmediate(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate reconciliation")

	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
	}()
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *ReconciliationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
