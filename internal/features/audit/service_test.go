package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/logger"
	"go-evidence/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingRepo struct{}

func (failingRepo) Create(ctx context.Context, log common_models.AuditLog) error {
	return errors.New("disk full")
}

func (failingRepo) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

func TestLogSecurityEventWritesTrailAndRepository(t *testing.T) {
	db := testutil.NewSQLite(t, &common_models.AuditLog{})
	core, logs := observer.New(zap.DebugLevel)
	svc := NewAuditService(&SQLAuditRepository{DB: db}, &logger.AuditLogger{Logger: zap.New(core)})

	ctx := context.Background()
	err := svc.LogSecurityEvent(ctx, common_models.SecurityEvent{
		ActorID:    "user-1",
		SourceAddr: "10.0.0.1",
		Reason:     "dangerous_type",
		Rule:       "dangerous_extension:exe",
		FileName:   "virus.exe",
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "dangerous_extension:exe", fields["rule"])
	assert.Equal(t, "10.0.0.1", fields["source_addr"])

	stored, err := svc.ListLogs(ctx, map[string]interface{}{"action": string(common_models.AuditActionSecurity)}, 1, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].Security)
	assert.Equal(t, "virus.exe", stored[0].Security.FileName)
	assert.Equal(t, "user-1", stored[0].ActorID)
	assert.False(t, stored[0].Security.Timestamp.IsZero())
}

func TestLogSecurityEventReportsPersistenceFailure(t *testing.T) {
	svc := NewAuditService(failingRepo{}, logger.NewNopAuditLogger())
	err := svc.LogSecurityEvent(context.Background(), common_models.SecurityEvent{Reason: "malicious_content"})
	assert.Error(t, err)
}

func TestLogChangeDefaultsToSystemActor(t *testing.T) {
	db := testutil.NewSQLite(t, &common_models.AuditLog{})
	svc := NewAuditService(&SQLAuditRepository{DB: db}, logger.NewNopAuditLogger())
	ctx := context.Background()

	require.NoError(t, svc.LogChange(ctx, "", common_models.AuditActionSweep, "files", "f-1", map[string]common_models.Change{
		"record": {Old: "f-1", New: "DELETED"},
	}))
	time.Sleep(time.Millisecond)
	require.NoError(t, svc.LogChange(ctx, "user-2", common_models.AuditActionUpload, "files", "f-2", nil))

	all, err := svc.ListLogs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "f-2", all[0].RecordID)
	assert.Equal(t, SystemActor, all[1].ActorID)
	assert.Equal(t, "DELETED", all[1].Changes["record"].New)

	byRecord, err := svc.ListLogs(ctx, map[string]interface{}{"record_id": "f-1"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, byRecord, 1)
	assert.Equal(t, common_models.AuditActionSweep, byRecord[0].Action)
}
