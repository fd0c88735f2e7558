package audit

import (
	"context"
	"fmt"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const SystemActor = "system"

type AuditService interface {
	LogChange(ctx context.Context, actorID string, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error
	// LogSecurityEvent is synchronous: the event is durable in the audit
	// file and the repository when it returns nil.
	LogSecurityEvent(ctx context.Context, event common_models.SecurityEvent) error
	ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error)
}

type AuditServiceImpl struct {
	Repo  AuditRepository
	Trail *logger.AuditLogger
}

func NewAuditService(repo AuditRepository, trail *logger.AuditLogger) AuditService {
	return &AuditServiceImpl{
		Repo:  repo,
		Trail: trail,
	}
}

func (s *AuditServiceImpl) LogChange(ctx context.Context, actorID string, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	if actorID == "" {
		actorID = SystemActor
	}

	log := common_models.AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Module:    module,
		RecordID:  recordID,
		ActorID:   actorID,
		Changes:   changes,
		Timestamp: time.Now().UTC(),
	}

	return s.Repo.Create(ctx, log)
}

func (s *AuditServiceImpl) LogSecurityEvent(ctx context.Context, event common_models.SecurityEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.Trail.Warn("Security violation",
		zap.String("actor_id", event.ActorID),
		zap.String("source_addr", event.SourceAddr),
		zap.String("reason", event.Reason),
		zap.String("rule", event.Rule),
		zap.String("file_name", event.FileName),
		zap.Time("timestamp", event.Timestamp),
	)
	if err := s.Trail.Sync(); err != nil {
		return fmt.Errorf("sync security trail: %w", err)
	}

	actorID := event.ActorID
	if actorID == "" {
		actorID = SystemActor
	}
	ev := event
	log := common_models.AuditLog{
		ID:        uuid.NewString(),
		Action:    common_models.AuditActionSecurity,
		Module:    "files",
		ActorID:   actorID,
		Security:  &ev,
		Timestamp: event.Timestamp,
	}
	if err := s.Repo.Create(ctx, log); err != nil {
		return fmt.Errorf("persist security event: %w", err)
	}
	return nil
}

func (s *AuditServiceImpl) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit
	return s.Repo.List(ctx, filters, limit, offset)
}
