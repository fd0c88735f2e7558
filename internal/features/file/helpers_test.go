package file

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/storage"
	"go-evidence/internal/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAudit struct {
	mu       sync.Mutex
	events   []common_models.SecurityEvent
	changes  []common_models.AuditAction
	failNext bool
}

func (f *fakeAudit) LogSecurityEvent(ctx context.Context, event common_models.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("audit sink unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) LogChange(ctx context.Context, actorID string, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, action)
	return nil
}

func (f *fakeAudit) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

func (f *fakeAudit) Events() []common_models.SecurityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common_models.SecurityEvent(nil), f.events...)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(ctx context.Context, fileID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, fileID)
	return nil
}

func (q *fakeQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

// countingStore counts writes so tests can assert nothing was stored.
type countingStore struct {
	storage.Store
	puts atomic.Int32
}

func (c *countingStore) Put(ctx context.Context, p string, r io.Reader) error {
	c.puts.Add(1)
	return c.Store.Put(ctx, p, r)
}

type testEnv struct {
	svc   *FileServiceImpl
	repo  FileRepository
	blobs *storage.Manager
	store *countingStore
	audit *fakeAudit
	queue *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewSQLite(t, &FileRecord{})
	repo := NewSQLFileRepository(db)

	store := &countingStore{Store: storage.NewMemoryStore()}
	blobs := storage.NewManager(storage.ManagerOptions{Timeout: time.Second, ReadAttempts: 2, RetryDelay: time.Millisecond}, zap.NewNop())
	blobs.Register("memory", store)

	aud := &fakeAudit{}
	queue := &fakeQueue{}
	validator := NewValidator(ValidatorOptions{MaxSize: 50 << 20, MaxNameLength: 255}, aud, zap.NewNop())

	svc := NewFileService(repo, blobs, validator, queue, aud, zap.NewNop()).(*FileServiceImpl)
	return &testEnv{svc: svc, repo: repo, blobs: blobs, store: store, audit: aud, queue: queue}
}

// sizedBytes reports a large declared size without allocating it.
func sizedBytes(name, mime string, size int64) Source {
	return WithDeclaredSize(NewBytesSource(name, mime, []byte("x")), size)
}

func readBlob(t *testing.T, m *storage.Manager, backend, path string) []byte {
	t.Helper()
	rc, err := m.Get(context.Background(), backend, path)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}
