package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-evidence/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type blockingRepo struct {
	NotificationRepository
	release chan struct{}
	mu      sync.Mutex
	stored  []*Notification
}

func (r *blockingRepo) Create(ctx context.Context, n *Notification) error {
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, n)
	return nil
}

type failingRepo struct {
	NotificationRepository
}

func (failingRepo) Create(context.Context, *Notification) error {
	return errors.New("database unavailable")
}

func TestDispatcher_StoresNotifications(t *testing.T) {
	repo := &SQLNotificationRepository{DB: testutil.NewSQLite(t, &Notification{})}
	d := StartDispatcher(repo, zap.NewNop(), 10)

	d.Notify(testContext(t), EventProcessingCompleted, "file-1", "user-1")
	d.Notify(testContext(t), EventFileExpired, "file-2", "user-1")
	d.Notify(testContext(t), EventProcessingFailed, "file-3", "")
	require.NoError(t, d.Close(testContext(t)))

	list, total, err := repo.GetByUserID(testContext(t), "user-1", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	events := map[Event]string{}
	for _, n := range list {
		events[n.Event] = n.FileID
		assert.False(t, n.IsRead)
		assert.NotEmpty(t, n.Title)
	}
	assert.Equal(t, map[Event]string{
		EventProcessingCompleted: "file-1",
		EventFileExpired:         "file-2",
	}, events)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	d := StartDispatcher(repo, zap.NewNop(), 1)

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Notify(testContext(t), EventProcessingCompleted, "file-1", "user-1")
	}
	assert.Less(t, time.Since(start), time.Second, "Notify must not block")

	close(repo.release)
	require.NoError(t, d.Close(testContext(t)))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.LessOrEqual(t, len(repo.stored), 2)
	assert.NotEmpty(t, repo.stored)
}

func TestDispatcher_StoreFailureIsSwallowed(t *testing.T) {
	d := StartDispatcher(failingRepo{}, zap.NewNop(), 4)
	d.Notify(testContext(t), EventProcessingFailed, "file-1", "user-1")
	require.NoError(t, d.Close(testContext(t)))
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	repo := &SQLNotificationRepository{DB: testutil.NewSQLite(t, &Notification{})}
	d := StartDispatcher(repo, zap.NewNop(), 4)
	require.NoError(t, d.Close(testContext(t)))
	require.NoError(t, d.Close(testContext(t)))

	assert.NotPanics(t, func() {
		d.Notify(testContext(t), EventProcessingCompleted, "file-1", "user-1")
	})

	n, err := repo.GetUnreadCount(testContext(t), "user-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
