package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

type ManagerOptions struct {
	// Timeout bounds each operation on top of the caller's context.
	Timeout time.Duration
	// ReadAttempts is the number of tries for Get and Exists on transient errors.
	ReadAttempts uint
	RetryDelay   time.Duration
}

// Manager routes blob operations to the registered backend.
// Reads are retried with bounded backoff on transient errors. Writes are
// never retried so that a failed write is always visible to the caller.
type Manager struct {
	mu          sync.RWMutex
	stores      map[string]Store
	defaultName string
	opts        ManagerOptions
	log         *zap.Logger
}

func NewManager(opts ManagerOptions, log *zap.Logger) *Manager {
	if opts.ReadAttempts == 0 {
		opts.ReadAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Manager{
		stores: make(map[string]Store),
		opts:   opts,
		log:    log.With(zap.String("component", "blob_store")),
	}
}

// Register adds a backend. The first registered backend becomes the default.
func (m *Manager) Register(name string, store Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[name] = store
	if m.defaultName == "" {
		m.defaultName = name
	}
}

// Default is the backend new uploads are written to.
func (m *Manager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

func (m *Manager) store(backend string) (Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[backend]
	if !ok {
		return nil, fmt.Errorf("%q: %w", backend, ErrUnknownBackend)
	}
	return s, nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.Timeout)
}

func (m *Manager) retryOpts(ctx context.Context, op, backend, path string) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(m.opts.ReadAttempts),
		retry.Delay(m.opts.RetryDelay),
		retry.MaxDelay(2 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			m.log.Warn("Retrying blob read",
				zap.String("op", op),
				zap.String("backend", backend),
				zap.String("path", path),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	}
}

func (m *Manager) Put(ctx context.Context, backend, path string, r io.Reader) error {
	s, err := m.store(backend)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return s.Put(ctx, path, r)
}

// Get opens a blob. The operation timeout covers both opening and reading;
// closing the reader releases it.
func (m *Manager) Get(ctx context.Context, backend, path string) (io.ReadCloser, error) {
	s, err := m.store(backend)
	if err != nil {
		return nil, err
	}

	var rc io.ReadCloser
	err = retry.Do(func() error {
		opCtx, cancel := m.withTimeout(ctx)
		r, err := s.Get(opCtx, path)
		if err != nil {
			cancel()
			return err
		}
		rc = &cancelOnClose{ReadCloser: r, cancel: cancel}
		return nil
	}, m.retryOpts(ctx, "get", backend, path)...)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// Exists never fails: a backend that keeps erroring is reported as "absent".
func (m *Manager) Exists(ctx context.Context, backend, path string) bool {
	s, err := m.store(backend)
	if err != nil {
		return false
	}

	var found bool
	err = retry.Do(func() error {
		opCtx, cancel := m.withTimeout(ctx)
		defer cancel()
		ok, err := s.Exists(opCtx, path)
		if err != nil {
			return err
		}
		found = ok
		return nil
	}, m.retryOpts(ctx, "exists", backend, path)...)
	if err != nil {
		m.log.Warn("Blob existence check failed",
			zap.String("backend", backend),
			zap.String("path", path),
			zap.Error(err),
		)
		return false
	}
	return found
}

func (m *Manager) Delete(ctx context.Context, backend, path string) error {
	s, err := m.store(backend)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return s.Delete(ctx, path)
}

func (m *Manager) Copy(ctx context.Context, backend, srcPath, dstPath string) error {
	s, err := m.store(backend)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return s.Copy(ctx, srcPath, dstPath)
}

func (m *Manager) LocalPath(backend, path string) (string, error) {
	s, err := m.store(backend)
	if err != nil {
		return "", err
	}
	return s.LocalPath(path)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
