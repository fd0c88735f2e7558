// Package processing runs the asynchronous post-upload job: thumbnail,
// metadata extraction, integrity hashing and content scan.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/config"
	"go-evidence/internal/features/audit"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/notification"
	"go-evidence/internal/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const auditModule = "files"

// ErrAllStepsFailed marks a job where no applicable step succeeded.
var ErrAllStepsFailed = errors.New("every processing step failed")

// StepError is a non-fatal failure of a single step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

type PipelineOptions struct {
	StepTimeout        time.Duration
	ThumbnailMax       int
	ThumbnailMaxPixels int64
}

func NewPipelineOptions(cfg *config.Config) PipelineOptions {
	return PipelineOptions{
		StepTimeout:        cfg.StepTimeout,
		ThumbnailMax:       cfg.ThumbnailMax,
		ThumbnailMaxPixels: cfg.ThumbnailMaxPixels,
	}
}

type Pipeline struct {
	Files        file.FileRepository
	Blobs        *storage.Manager
	Scanner      Scanner
	Notifier     notification.Notifier
	AuditService audit.AuditService

	opts PipelineOptions
	log  *zap.Logger
	now  func() time.Time
}

func NewPipeline(
	files file.FileRepository,
	blobs *storage.Manager,
	scanner Scanner,
	notifier notification.Notifier,
	auditService audit.AuditService,
	opts PipelineOptions,
	log *zap.Logger,
) *Pipeline {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = time.Minute
	}
	if opts.ThumbnailMax <= 0 {
		opts.ThumbnailMax = 300
	}
	if opts.ThumbnailMaxPixels <= 0 {
		opts.ThumbnailMaxPixels = 40_000_000
	}
	return &Pipeline{
		Files:        files,
		Blobs:        blobs,
		Scanner:      scanner,
		Notifier:     notifier,
		AuditService: auditService,
		opts:         opts,
		log:          log.With(zap.String("component", "processing")),
		now:          time.Now,
	}
}

type stepOutput struct {
	meta      map[string]any
	thumbnail string
}

type step struct {
	name    string
	applies func(*file.FileRecord) bool
	run     func(ctx context.Context, rec *file.FileRecord) (stepOutput, error)
}

func (p *Pipeline) steps() []step {
	return []step{
		{name: "thumbnail", applies: isImage, run: p.thumbnail},
		{name: "metadata", run: p.extract},
		{name: "hash", run: p.hash},
		{name: "scan", run: p.scan},
	}
}

func isImage(rec *file.FileRecord) bool {
	return rec.Category == file.CategoryImage
}

// ProcessFile runs every applicable step against the record and writes the
// outcome onto it. A record deleted before or during the run aborts the job
// with a nil error and leaves no thumbnail behind. Re-running overwrites the
// previous outcome.
func (p *Pipeline) ProcessFile(ctx context.Context, fileID string) error {
	log := p.log.With(zap.String("file_id", fileID))

	rec, err := p.Files.Get(ctx, fileID)
	if errors.Is(err, file.ErrNotFound) {
		return p.abort(ctx, log, fileID, "")
	}
	if err != nil {
		pipelineRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("load file record %s: %w", fileID, err)
	}

	_, err = p.Files.UpdateMetadata(ctx, fileID, func(r *file.FileRecord) error {
		setMeta(r, file.MetaProcessingStatus, string(file.StatusProcessing))
		return nil
	})
	if errors.Is(err, file.ErrNotFound) {
		return p.abort(ctx, log, fileID, "")
	}
	if err != nil {
		pipelineRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("mark %s processing: %w", fileID, err)
	}
	log.Info("Processing file", zap.String("category", string(rec.Category)))

	if err := ctx.Err(); err != nil {
		return p.fail(ctx, log, rec, interrupted(err), nil)
	}
	if !p.Blobs.Exists(ctx, rec.StorageBackend, rec.StoragePath) {
		return p.fail(ctx, log, rec, fmt.Errorf("primary blob %s is unreadable", rec.StoragePath), nil)
	}

	var (
		outputs    []stepOutput
		stepErrs   error
		applicable int
	)
	for _, s := range p.steps() {
		if s.applies != nil && !s.applies(rec) {
			continue
		}
		applicable++

		out, err := p.runStep(ctx, s, rec)
		if cerr := ctx.Err(); cerr != nil {
			return p.fail(ctx, log, rec, interrupted(cerr), warnings(stepErrs))
		}
		var pe *panicError
		if errors.As(err, &pe) {
			return p.fail(ctx, log, rec, fmt.Errorf("step %s: %w", s.name, pe), warnings(stepErrs))
		}
		if err != nil {
			stepFailures.WithLabelValues(s.name).Inc()
			log.Warn("Processing step failed", zap.String("step", s.name), zap.Error(err))
			stepErrs = multierr.Append(stepErrs, &StepError{Step: s.name, Err: err})
			continue
		}
		outputs = append(outputs, out)

		if out.thumbnail != "" {
			if _, err := p.Files.Get(ctx, fileID); errors.Is(err, file.ErrNotFound) {
				return p.abort(ctx, log, fileID, rec.StorageBackend)
			}
		}
	}

	if applicable > 0 && len(outputs) == 0 {
		return p.fail(ctx, log, rec, fmt.Errorf("%w: %w", ErrAllStepsFailed, stepErrs), warnings(stepErrs))
	}

	now := p.now().UTC()
	updated, err := p.Files.UpdateMetadata(ctx, fileID, func(r *file.FileRecord) error {
		for _, out := range outputs {
			for k, v := range out.meta {
				setMeta(r, k, v)
			}
			if out.thumbnail != "" {
				path := out.thumbnail
				r.ThumbnailPath = &path
			}
		}
		if !isImage(r) {
			r.ThumbnailPath = nil
		}
		setMeta(r, file.MetaProcessingStatus, string(file.StatusCompleted))
		setMeta(r, file.MetaProcessedAt, now.Format(time.RFC3339))
		delete(r.Metadata, file.MetaProcessingError)
		setWarnings(r, warnings(stepErrs))
		return nil
	})
	if errors.Is(err, file.ErrNotFound) {
		return p.abort(ctx, log, fileID, rec.StorageBackend)
	}
	if err != nil {
		return p.fail(ctx, log, rec, fmt.Errorf("store processing result: %w", err), warnings(stepErrs))
	}

	pipelineRuns.WithLabelValues(string(file.StatusCompleted)).Inc()
	log.Info("File processed",
		zap.Int("steps", applicable),
		zap.Int("step_failures", len(multierr.Errors(stepErrs))),
	)
	p.Notifier.Notify(ctx, notification.EventProcessingCompleted, fileID, updated.UploadedBy)
	return nil
}

// runStep bounds a step by the step timeout. A step ignoring its context is
// abandoned once the deadline passes.
func (p *Pipeline) runStep(ctx context.Context, s step, rec *file.FileRecord) (stepOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		stepDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	}()

	type result struct {
		out stepOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &panicError{value: r}}
			}
		}()
		out, err := s.run(ctx, rec)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return stepOutput{}, fmt.Errorf("timed out after %s: %w", p.opts.StepTimeout, ctx.Err())
	}
}

func (p *Pipeline) thumbnail(ctx context.Context, rec *file.FileRecord) (stepOutput, error) {
	rc, err := p.Blobs.Get(ctx, rec.StorageBackend, rec.StoragePath)
	if err != nil {
		return stepOutput{}, err
	}
	defer rc.Close()

	data, size, err := renderThumbnail(rc, thumbnailOptions{
		bound:     p.opts.ThumbnailMax,
		maxPixels: p.opts.ThumbnailMaxPixels,
	})
	if err != nil {
		return stepOutput{}, err
	}

	path := file.ThumbnailPathFor(rec.ID)
	if err := p.Blobs.Put(ctx, rec.StorageBackend, path, bytes.NewReader(data)); err != nil {
		return stepOutput{}, fmt.Errorf("store thumbnail: %w", err)
	}
	p.log.Debug("Thumbnail stored",
		zap.String("file_id", rec.ID),
		zap.Int("width", size.X),
		zap.Int("height", size.Y),
	)
	return stepOutput{thumbnail: path}, nil
}

func (p *Pipeline) extract(ctx context.Context, rec *file.FileRecord) (stepOutput, error) {
	rc, err := p.Blobs.Get(ctx, rec.StorageBackend, rec.StoragePath)
	if err != nil {
		return stepOutput{}, err
	}
	defer rc.Close()

	head, err := io.ReadAll(ctxReader{ctx: ctx, r: io.LimitReader(rc, headLimit)})
	if err != nil {
		return stepOutput{}, fmt.Errorf("read %s: %w", rec.StoragePath, err)
	}
	attrs, detected := extractAttributes(rec, head)
	return stepOutput{meta: map[string]any{
		file.MetaAttributes:   attrs,
		file.MetaDetectedMime: detected,
	}}, nil
}

func (p *Pipeline) hash(ctx context.Context, rec *file.FileRecord) (stepOutput, error) {
	d, err := computeDigests(ctx, p.Blobs, rec.StorageBackend, rec.StoragePath)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{meta: map[string]any{file.MetaHash: d.metadata()}}, nil
}

func (p *Pipeline) scan(ctx context.Context, rec *file.FileRecord) (stepOutput, error) {
	rc, err := p.Blobs.Get(ctx, rec.StorageBackend, rec.StoragePath)
	if err != nil {
		return stepOutput{}, err
	}
	defer rc.Close()

	res, err := p.Scanner.Scan(ctx, ScanTarget{
		FileID:    rec.ID,
		Name:      rec.OriginalName,
		Extension: rec.Extension,
		MimeType:  rec.MimeType,
	}, rc)
	if err != nil {
		return stepOutput{}, fmt.Errorf("%s scanner: %w", p.Scanner.Name(), err)
	}
	if res.Status == ScanFlagged {
		p.log.Warn("Content scan flagged file",
			zap.String("file_id", rec.ID),
			zap.String("scanner", p.Scanner.Name()),
			zap.String("signature", res.Signature),
		)
	}
	return stepOutput{meta: map[string]any{
		file.MetaVirusScan: scanMetadata(p.Scanner.Name(), res, p.now()),
	}}, nil
}

// fail records a job failure on the record and returns it to the queue.
// The outcome is written even when the job's context is already cancelled.
func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, rec *file.FileRecord, cause error, warns []string) error {
	ctx = context.WithoutCancel(ctx)
	now := p.now().UTC()
	_, err := p.Files.UpdateMetadata(ctx, rec.ID, func(r *file.FileRecord) error {
		setMeta(r, file.MetaProcessingStatus, string(file.StatusFailed))
		setMeta(r, file.MetaProcessingError, cause.Error())
		setMeta(r, file.MetaProcessedAt, now.Format(time.RFC3339))
		setWarnings(r, warns)
		return nil
	})
	if errors.Is(err, file.ErrNotFound) {
		return p.abort(ctx, log, rec.ID, rec.StorageBackend)
	}
	if err != nil {
		log.Error("Failed to record processing failure", zap.Error(err))
	}

	pipelineRuns.WithLabelValues(string(file.StatusFailed)).Inc()
	log.Error("File processing failed", zap.Error(cause))
	if aerr := p.AuditService.LogChange(ctx, audit.SystemActor, common_models.AuditActionProcess, auditModule, rec.ID, map[string]common_models.Change{
		file.MetaProcessingStatus: {Old: string(rec.Status()), New: string(file.StatusFailed)},
		file.MetaProcessingError:  {New: cause.Error()},
	}); aerr != nil {
		log.Warn("Failed to audit processing failure", zap.Error(aerr))
	}
	p.Notifier.Notify(ctx, notification.EventProcessingFailed, rec.ID, rec.UploadedBy)
	return fmt.Errorf("process file %s: %w", rec.ID, cause)
}

// abort ends a job whose record no longer exists. A thumbnail this run may
// have written on backend is removed so nothing outlives the record.
func (p *Pipeline) abort(ctx context.Context, log *zap.Logger, fileID, backend string) error {
	pipelineRuns.WithLabelValues("aborted").Inc()
	log.Info("File record gone, abandoning processing")

	if backend != "" {
		err := p.Blobs.Delete(context.WithoutCancel(ctx), backend, file.ThumbnailPathFor(fileID))
		if err != nil {
			log.Warn("Failed to remove orphan thumbnail", zap.Error(err))
		}
	}
	return nil
}

func interrupted(err error) error {
	return fmt.Errorf("processing interrupted: %w", err)
}

func setMeta(r *file.FileRecord, key string, v any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = v
}

func setWarnings(r *file.FileRecord, warns []string) {
	if len(warns) == 0 {
		delete(r.Metadata, file.MetaProcessingWarnings)
		return
	}
	setMeta(r, file.MetaProcessingWarnings, warns)
}

func warnings(err error) []string {
	var out []string
	for _, e := range multierr.Errors(err) {
		out = append(out, e.Error())
	}
	return out
}
