package lifecycle

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/notification"
	"go-evidence/internal/storage"
	"go-evidence/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu      sync.Mutex
	fileIDs []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event notification.Event, fileID, recipientID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if event == notification.EventFileExpired {
		n.fileIDs = append(n.fileIDs, fileID)
	}
}

func (n *recordingNotifier) Expired() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.fileIDs...)
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []common_models.AuditAction
}

func (f *fakeAudit) LogChange(ctx context.Context, actorID string, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeAudit) LogSecurityEvent(ctx context.Context, event common_models.SecurityEvent) error {
	return nil
}

func (f *fakeAudit) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

func (f *fakeAudit) Actions() []common_models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common_models.AuditAction(nil), f.actions...)
}

type testEnv struct {
	sweeper  *Sweeper
	files    file.FileRepository
	blobs    *storage.Manager
	runs     SweepRunRepository
	notifier *recordingNotifier
	audit    *fakeAudit
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewSQLite(t, &file.FileRecord{}, &SweepRun{})
	repo := file.NewSQLFileRepository(db)
	blobs := storage.NewManager(storage.ManagerOptions{Timeout: 5 * time.Second, ReadAttempts: 2, RetryDelay: time.Millisecond}, zap.NewNop())
	blobs.Register("memory", storage.NewMemoryStore())

	notifier := &recordingNotifier{}
	aud := &fakeAudit{}
	return &testEnv{
		sweeper:  NewSweeper(repo, blobs, notifier, aud, SweeperOptions{Timeout: time.Second}, zap.NewNop()),
		files:    repo,
		blobs:    blobs,
		runs:     &SQLSweepRunRepository{DB: db},
		notifier: notifier,
		audit:    aud,
	}
}

// seed stores a record with its primary blob and, optionally, a thumbnail.
func (e *testEnv) seed(t *testing.T, expiresAt *time.Time, withThumb bool) *file.FileRecord {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	rec := &file.FileRecord{
		ID:             id,
		OriginalName:   "photo.jpg",
		StoragePath:    file.StoragePathFor(id, "jpg"),
		StorageBackend: "memory",
		SizeBytes:      5,
		MimeType:       "image/jpeg",
		Extension:      "jpg",
		Category:       file.CategoryImage,
		AccessLevel:    file.AccessInternal,
		UploadedBy:     "user-1",
		Metadata:       map[string]any{},
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, e.blobs.Put(testContext(t), "memory", rec.StoragePath, bytes.NewReader([]byte("bytes"))))
	if withThumb {
		thumb := file.ThumbnailPathFor(id)
		rec.ThumbnailPath = &thumb
		require.NoError(t, e.blobs.Put(testContext(t), "memory", thumb, bytes.NewReader([]byte("thumb"))))
	}
	require.NoError(t, e.files.Create(testContext(t), rec))
	return rec
}

func (e *testEnv) exists(t *testing.T, id string) bool {
	t.Helper()
	_, err := e.files.Get(testContext(t), id)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, file.ErrNotFound)
	return false
}

func ago(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}

func ahead(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}
