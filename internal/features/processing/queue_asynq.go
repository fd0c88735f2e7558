package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-evidence/internal/config"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	QueueName = "evidence"

	// uniqueWindow suppresses duplicate jobs for a file while one is pending.
	uniqueWindow = time.Hour
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
}

// AsynqQueue enqueues process_file tasks on Redis. Retry policy is set here,
// at the queue boundary.
type AsynqQueue struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
	log      *zap.Logger
}

func NewAsynqQueue(cfg *config.Config, log *zap.Logger) *AsynqQueue {
	return &AsynqQueue{
		client:   asynq.NewClient(redisOpt(cfg)),
		maxRetry: cfg.QueueMaxRetry,
		// four steps, each bounded by the step timeout, plus bookkeeping
		timeout: 5 * cfg.StepTimeout,
		log:     log.With(zap.String("component", "asynq_queue")),
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, fileID string) error {
	payload, err := ProcessFileJob{FileID: fileID}.Payload()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeProcessFile, payload,
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(q.timeout),
		asynq.Unique(uniqueWindow),
		asynq.Queue(QueueName),
	))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		q.log.Debug("File already queued", zap.String("file_id", fileID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.log.Info("Processing task enqueued", zap.String("file_id", fileID))
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// AsynqWorker consumes process_file tasks and hands them to the pipeline.
type AsynqWorker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler Handler
	log     *zap.Logger
}

func NewAsynqWorker(cfg *config.Config, handler Handler, log *zap.Logger) *AsynqWorker {
	log = log.With(zap.String("component", "asynq_worker"))
	w := &AsynqWorker{
		server: asynq.NewServer(redisOpt(cfg), asynq.Config{
			Concurrency: cfg.QueueConcurrency,
			Queues:      map[string]int{QueueName: 1},
			Logger:      &asynqLogger{s: log.Sugar()},
		}),
		mux:     asynq.NewServeMux(),
		handler: handler,
		log:     log,
	}
	w.mux.HandleFunc(TaskTypeProcessFile, w.HandleTask)
	return w
}

// HandleTask decodes the payload and runs the job. Malformed payloads are
// never retried.
func (w *AsynqWorker) HandleTask(ctx context.Context, task *asynq.Task) error {
	job, err := ParseProcessFileJob(task.Payload())
	if err != nil {
		w.log.Error("Dropping malformed task", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.handler(ctx, job.FileID)
}

func (w *AsynqWorker) Start() error {
	return w.server.Start(w.mux)
}

func (w *AsynqWorker) Stop() {
	w.server.Shutdown()
}

// asynqLogger routes asynq's logs through zap.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
