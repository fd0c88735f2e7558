package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier is the fire-and-forget call point used by the pipeline and the
// sweeper. Delivery failures never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event, fileID, recipientID string)
}

const defaultBuffer = 1000

// Dispatcher persists notifications from a background worker so callers
// never block on the database.
type Dispatcher struct {
	repo NotificationRepository
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *Notification
	done   chan struct{}
}

func NewDispatcher(lc fx.Lifecycle, repo NotificationRepository, log *zap.Logger) *Dispatcher {
	d := StartDispatcher(repo, log, defaultBuffer)
	lc.Append(fx.Hook{
		OnStop: d.Close,
	})
	return d
}

// StartDispatcher starts the worker immediately. Callers must Close it.
func StartDispatcher(repo NotificationRepository, log *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		repo:  repo,
		log:   log.With(zap.String("component", "notifications")),
		queue: make(chan *Notification, buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, event Event, fileID, recipientID string) {
	if recipientID == "" {
		return
	}
	title, message, typ := describe(event, fileID)
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    recipientID,
		Event:     event,
		FileID:    fileID,
		Title:     title,
		Message:   message,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("Dispatcher closed, dropping notification", zap.String("event", string(event)), zap.String("file_id", fileID))
		return
	}
	select {
	case d.queue <- n:
	default:
		d.log.Warn("Notification queue full, dropping notification", zap.String("event", string(event)), zap.String("file_id", fileID))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.repo.Create(ctx, n); err != nil {
			d.log.Warn("Failed to store notification",
				zap.String("event", string(n.Event)),
				zap.String("file_id", n.FileID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for queued ones to be stored.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
