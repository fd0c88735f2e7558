package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-evidence/internal/config"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type LifecycleService interface {
	SweepExpired(ctx context.Context, dryRun bool) (*SweepReport, error)
	RunSweep(ctx context.Context, trigger Trigger, dryRun bool) (*SweepReport, error)
	ExportDryRun(ctx context.Context) ([]byte, error)
	ListRuns(ctx context.Context, limit int) ([]SweepRun, error)
	InitializeScheduler(ctx context.Context) error
	StopScheduler() error
}

type LifecycleServiceImpl struct {
	Sweeper *Sweeper
	Runs    SweepRunRepository

	schedule  string
	log       *zap.Logger
	now       func() time.Time
	scheduler *cron.Cron
	mu        sync.Mutex
}

func NewLifecycleService(sweeper *Sweeper, runs SweepRunRepository, cfg *config.Config, log *zap.Logger) LifecycleService {
	return &LifecycleServiceImpl{
		Sweeper:  sweeper,
		Runs:     runs,
		schedule: cfg.SweepSchedule,
		log:      log.With(zap.String("component", "lifecycle")),
		now:      time.Now,
	}
}

func (s *LifecycleServiceImpl) SweepExpired(ctx context.Context, dryRun bool) (*SweepReport, error) {
	return s.RunSweep(ctx, TriggerManual, dryRun)
}

// RunSweep executes a sweep and records it in the run history. A history
// write failure is logged and does not fail the sweep.
func (s *LifecycleServiceImpl) RunSweep(ctx context.Context, trigger Trigger, dryRun bool) (*SweepReport, error) {
	run := &SweepRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		DryRun:    dryRun,
		Status:    RunStatusRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.Runs.CreateRun(ctx, run); err != nil {
		s.log.Warn("Failed to create sweep run entry", zap.Error(err))
	}

	report, sweepErr := s.Sweeper.Sweep(ctx, s.now(), dryRun)

	ended := s.now().UTC()
	run.EndedAt = &ended
	if sweepErr != nil {
		run.Status = RunStatusFailed
		run.Error = sweepErr.Error()
	} else {
		run.Status = RunStatusSuccess
		run.Candidates = len(report.Candidates)
		run.Deleted = report.Deleted
		run.Failed = report.Failed
		run.Skipped = report.Skipped
	}
	if err := s.Runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		s.log.Warn("Failed to update sweep run entry", zap.String("run_id", run.ID), zap.Error(err))
	}

	return report, sweepErr
}

func (s *LifecycleServiceImpl) ExportDryRun(ctx context.Context) ([]byte, error) {
	report, err := s.RunSweep(ctx, TriggerManual, true)
	if err != nil {
		return nil, err
	}
	return ExportReport(report)
}

func (s *LifecycleServiceImpl) ListRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.Runs.ListRuns(ctx, limit)
}

func (s *LifecycleServiceImpl) InitializeScheduler(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info("Initializing sweep scheduler...", zap.String("schedule", s.schedule))
	s.scheduler = cron.New()

	_, err := s.scheduler.AddFunc(s.schedule, func() {
		if _, err := s.RunSweep(context.Background(), TriggerSchedule, false); err != nil {
			s.log.Error("Scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add sweep to scheduler: %w", err)
	}

	s.scheduler.Start()
	return nil
}

func (s *LifecycleServiceImpl) StopScheduler() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		ctx := s.scheduler.Stop()
		<-ctx.Done()
	}
	return nil
}
