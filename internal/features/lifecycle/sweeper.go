package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/config"
	"go-evidence/internal/features/audit"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/notification"
	"go-evidence/internal/storage"

	"go.uber.org/zap"
)

const auditModule = "files"

var errExpiryChanged = errors.New("expiry changed during sweep")

type SweeperOptions struct {
	// Timeout bounds the work on a single record.
	Timeout time.Duration
}

func NewSweeperOptions(cfg *config.Config) SweeperOptions {
	return SweeperOptions{Timeout: cfg.BlobTimeout}
}

// Sweeper deletes expired files. Runs are serialized.
type Sweeper struct {
	Files        file.FileRepository
	Blobs        *storage.Manager
	Notifier     notification.Notifier
	AuditService audit.AuditService

	opts SweeperOptions
	log  *zap.Logger
	mu   sync.Mutex
}

func NewSweeper(
	files file.FileRepository,
	blobs *storage.Manager,
	notifier notification.Notifier,
	auditService audit.AuditService,
	opts SweeperOptions,
	log *zap.Logger,
) *Sweeper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Sweeper{
		Files:        files,
		Blobs:        blobs,
		Notifier:     notifier,
		AuditService: auditService,
		opts:         opts,
		log:          log.With(zap.String("component", "sweeper")),
	}
}

type outcome int

const (
	outcomeDeleted outcome = iota
	outcomeSkipped
)

// Sweep finds records expired at now. A dry run only reports them. A live
// run deletes each one's blobs and then its record, re-checking expiry
// against the live record first. One record failing never stops the rest.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, dryRun bool) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	mode := modeLabel(dryRun)
	now = now.UTC()

	candidates, err := s.Files.FindExpired(ctx, now)
	if err != nil {
		sweepRuns.WithLabelValues(mode, "error").Inc()
		return nil, fmt.Errorf("find expired files: %w", err)
	}

	report := &SweepReport{
		Candidates: candidates,
		Failures:   []SweepFailure{},
		DryRun:     dryRun,
		StartedAt:  now,
	}

	if !dryRun {
		for _, c := range candidates {
			res, err := s.sweepOne(ctx, c, now)
			switch {
			case err != nil:
				report.Failed++
				report.Failures = append(report.Failures, SweepFailure{FileID: c.ID, Error: err.Error()})
				s.log.Warn("Failed to sweep file", zap.String("file_id", c.ID), zap.Error(err))
			case res == outcomeSkipped:
				report.Skipped++
			default:
				report.Deleted++
				s.Notifier.Notify(ctx, notification.EventFileExpired, c.ID, c.UploadedBy)
			}
		}
		sweepDeleted.Add(float64(report.Deleted))
		sweepFailed.Add(float64(report.Failed))

		s.AuditService.LogChange(ctx, audit.SystemActor, common_models.AuditActionSweep, auditModule, "", map[string]common_models.Change{
			"candidates": {New: len(candidates)},
			"deleted":    {New: report.Deleted},
			"failed":     {New: report.Failed},
		})
	}

	report.Duration = time.Since(start)
	sweepDuration.WithLabelValues(mode).Observe(report.Duration.Seconds())
	sweepRuns.WithLabelValues(mode, "ok").Inc()

	s.log.Info("Sweep finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("candidates", len(candidates)),
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// sweepOne claims the record before touching its blobs. Once claimed, its
// expiry can no longer change, so blobs are only removed from records that
// are going away.
func (s *Sweeper) sweepOne(ctx context.Context, candidate *file.FileRecord, now time.Time) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	claimed, err := s.Files.ClaimExpired(ctx, candidate.ID, now)
	if err != nil {
		return 0, fmt.Errorf("claim record: %w", err)
	}
	if !claimed {
		_, err := s.Files.Get(ctx, candidate.ID)
		switch {
		case errors.Is(err, file.ErrNotFound):
		case err != nil:
			return 0, fmt.Errorf("reload record: %w", err)
		default:
			s.log.Info("Expiry changed since query, keeping file", zap.String("file_id", candidate.ID))
		}
		return outcomeSkipped, nil
	}

	rec, err := s.Files.Get(ctx, candidate.ID)
	if errors.Is(err, file.ErrNotFound) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reload record: %w", err)
	}

	if err := s.Blobs.Delete(ctx, rec.StorageBackend, rec.StoragePath); err != nil {
		// nothing is gone yet, hand the record back to its owner
		if rerr := s.Files.ReleaseClaim(context.WithoutCancel(ctx), rec.ID); rerr != nil {
			s.log.Warn("Failed to release sweep claim", zap.String("file_id", rec.ID), zap.Error(rerr))
		}
		return 0, fmt.Errorf("delete blob %s: %w", rec.StoragePath, err)
	}
	// from here on the claim stays, the next sweep finishes the job
	for _, p := range file.ThumbnailPaths(rec) {
		if err := s.Blobs.Delete(ctx, rec.StorageBackend, p); err != nil {
			return 0, fmt.Errorf("delete thumbnail %s: %w", p, err)
		}
	}

	deleted, err := s.Files.DeleteIfExpired(ctx, rec.ID, now)
	if err != nil {
		return 0, fmt.Errorf("delete record: %w", err)
	}
	if !deleted {
		if _, err := s.Files.Get(ctx, rec.ID); errors.Is(err, file.ErrNotFound) {
			return outcomeSkipped, nil
		}
		return 0, errExpiryChanged
	}
	return outcomeDeleted, nil
}
