package file

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/features/audit"
	"go-evidence/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const auditModule = "files"

// Enqueuer hands a stored file to the processing queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, fileID string) error
}

// UploadHints are caller-supplied attributes stored with a new record.
type UploadHints struct {
	AccessLevel AccessLevel
	Description string
	ExpiresAt   *time.Time
	Metadata    map[string]any
}

type FileService interface {
	UploadFile(ctx context.Context, actor Actor, src Source, hints UploadHints) (*FileRecord, error)
	GetFile(ctx context.Context, id string) (*FileRecord, error)
	ListFiles(ctx context.Context, filter ListFilter) ([]*FileRecord, error)
	GetDownloadBlob(ctx context.Context, id string) (*Download, error)
	TrackAccess(ctx context.Context, id string, counter Counter) error
	DeleteFile(ctx context.Context, actor Actor, id string) (bool, error)
	DuplicateFile(ctx context.Context, actor Actor, id string) (*FileRecord, error)
	SetExpiry(ctx context.Context, actor Actor, id string, expiresAt *time.Time) error
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	EnqueueProcessing(ctx context.Context, id string) error
}

type FileServiceImpl struct {
	FileRepo     FileRepository
	Blobs        *storage.Manager
	Validator    *Validator
	Queue        Enqueuer
	AuditService audit.AuditService

	log *zap.Logger
	now func() time.Time
}

func NewFileService(
	fileRepo FileRepository,
	blobs *storage.Manager,
	validator *Validator,
	queue Enqueuer,
	auditService audit.AuditService,
	log *zap.Logger,
) FileService {
	return &FileServiceImpl{
		FileRepo:     fileRepo,
		Blobs:        blobs,
		Validator:    validator,
		Queue:        queue,
		AuditService: auditService,
		log:          log.With(zap.String("component", "file_service")),
		now:          time.Now,
	}
}

func (s *FileServiceImpl) UploadFile(ctx context.Context, actor Actor, src Source, hints UploadHints) (*FileRecord, error) {
	result, err := s.Validator.Validate(ctx, src, actor)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		return nil, &RejectionError{Result: result}
	}

	access := hints.AccessLevel
	if access == "" {
		access = AccessInternal
	}
	if !access.Valid() {
		return nil, fmt.Errorf("invalid access level %q", access)
	}

	id := uuid.NewString()
	ext := ExtensionOf(src.Name())
	backend := s.Blobs.Default()
	path := StoragePathFor(id, ext)

	body, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	err = s.Blobs.Put(ctx, backend, path, body)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := s.now().UTC()
	rec := &FileRecord{
		ID:             id,
		OriginalName:   src.Name(),
		StoragePath:    path,
		StorageBackend: backend,
		SizeBytes:      src.Size(),
		MimeType:       normalizeMime(src.MimeType()),
		Extension:      ext,
		Category:       categoryFor(src.MimeType(), ext),
		AccessLevel:    access,
		UploadedBy:     actor.UserID,
		Description:    hints.Description,
		Metadata:       map[string]any{},
		ExpiresAt:      utcPtr(hints.ExpiresAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(hints.Metadata) > 0 {
		rec.Metadata[MetaHints] = maps.Clone(hints.Metadata)
	}

	if err := s.FileRepo.Create(ctx, rec); err != nil {
		if delErr := s.Blobs.Delete(context.WithoutCancel(ctx), backend, path); delErr != nil {
			s.log.Error("Failed to remove blob after record creation failed",
				zap.String("path", path), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create file record: %w", err)
	}

	s.AuditService.LogChange(ctx, actor.UserID, common_models.AuditActionUpload, auditModule, id, map[string]common_models.Change{
		"file": {New: rec.OriginalName},
	})

	// the upload stands even if the job cannot be queued; it can be re-enqueued
	if err := s.Queue.Enqueue(ctx, id); err != nil {
		s.log.Warn("Failed to enqueue processing", zap.String("file_id", id), zap.Error(err))
	}

	s.log.Info("File uploaded",
		zap.String("file_id", id),
		zap.String("backend", backend),
		zap.Int64("size", rec.SizeBytes),
		zap.String("category", string(rec.Category)),
	)
	return rec, nil
}

func (s *FileServiceImpl) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	return s.FileRepo.Get(ctx, id)
}

func (s *FileServiceImpl) ListFiles(ctx context.Context, filter ListFilter) ([]*FileRecord, error) {
	return s.FileRepo.List(ctx, filter)
}

func (s *FileServiceImpl) GetDownloadBlob(ctx context.Context, id string) (*Download, error) {
	rec, err := s.FileRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	body, err := s.Blobs.Get(ctx, rec.StorageBackend, rec.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return &Download{
		Body:     body,
		FileName: rec.OriginalName,
		MimeType: rec.MimeType,
		Size:     rec.SizeBytes,
	}, nil
}

func (s *FileServiceImpl) TrackAccess(ctx context.Context, id string, counter Counter) error {
	return s.FileRepo.IncrementCounter(ctx, id, counter)
}

// DeleteFile removes the blobs first and the record last. It reports false
// when the record did not exist.
func (s *FileServiceImpl) DeleteFile(ctx context.Context, actor Actor, id string) (bool, error) {
	rec, err := s.FileRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.deleteBlobs(ctx, rec); err != nil {
		return false, err
	}

	if err := s.FileRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete file record: %w", err)
	}

	s.AuditService.LogChange(ctx, actor.UserID, common_models.AuditActionDelete, auditModule, id, map[string]common_models.Change{
		"file": {Old: rec.OriginalName, New: "DELETED"},
	})
	return true, nil
}

func (s *FileServiceImpl) deleteBlobs(ctx context.Context, rec *FileRecord) error {
	if !s.Blobs.Exists(ctx, rec.StorageBackend, rec.StoragePath) {
		s.log.Debug("Primary blob already absent", zap.String("file_id", rec.ID), zap.String("path", rec.StoragePath))
	}
	if err := s.Blobs.Delete(ctx, rec.StorageBackend, rec.StoragePath); err != nil {
		return fmt.Errorf("delete primary blob: %w", err)
	}
	for _, thumb := range ThumbnailPaths(rec) {
		if err := s.Blobs.Delete(ctx, rec.StorageBackend, thumb); err != nil {
			return fmt.Errorf("delete thumbnail blob: %w", err)
		}
	}
	return nil
}

// ThumbnailPaths lists every thumbnail location a record may own: the
// recorded one and the derived one a running job could have just written.
func ThumbnailPaths(rec *FileRecord) []string {
	derived := ThumbnailPathFor(rec.ID)
	if rec.ThumbnailPath != nil && *rec.ThumbnailPath != derived {
		return []string{*rec.ThumbnailPath, derived}
	}
	return []string{derived}
}

func (s *FileServiceImpl) DuplicateFile(ctx context.Context, actor Actor, id string) (*FileRecord, error) {
	src, err := s.FileRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newID := uuid.NewString()
	dup := *src
	dup.ID = newID
	dup.OriginalName = copyName(src.OriginalName)
	dup.StoragePath = StoragePathFor(newID, src.Extension)
	dup.ThumbnailPath = nil
	dup.UploadedBy = actor.UserID
	dup.Metadata = maps.Clone(src.Metadata)
	dup.DownloadCount = 0
	dup.ViewCount = 0
	dup.Version = 0
	dup.SweepingAt = nil
	dup.CreatedAt = s.now().UTC()
	dup.UpdatedAt = dup.CreatedAt
	if dup.Metadata == nil {
		dup.Metadata = map[string]any{}
	}

	if err := s.Blobs.Copy(ctx, src.StorageBackend, src.StoragePath, dup.StoragePath); err != nil {
		return nil, fmt.Errorf("copy primary blob: %w", err)
	}

	if src.ThumbnailPath != nil {
		thumb := ThumbnailPathFor(newID)
		if err := s.Blobs.Copy(ctx, src.StorageBackend, *src.ThumbnailPath, thumb); err != nil {
			s.cleanupCopy(ctx, &dup)
			return nil, fmt.Errorf("copy thumbnail blob: %w", err)
		}
		dup.ThumbnailPath = &thumb
	}

	if err := s.FileRepo.Create(ctx, &dup); err != nil {
		s.cleanupCopy(ctx, &dup)
		return nil, fmt.Errorf("create file record: %w", err)
	}

	s.AuditService.LogChange(ctx, actor.UserID, common_models.AuditActionDuplicate, auditModule, newID, map[string]common_models.Change{
		"source": {New: id},
	})

	if dup.Status() != StatusCompleted {
		if err := s.Queue.Enqueue(ctx, newID); err != nil {
			s.log.Warn("Failed to enqueue processing", zap.String("file_id", newID), zap.Error(err))
		}
	}
	return &dup, nil
}

func (s *FileServiceImpl) cleanupCopy(ctx context.Context, dup *FileRecord) {
	if err := s.deleteBlobs(context.WithoutCancel(ctx), dup); err != nil {
		s.log.Error("Failed to clean up duplicate blobs", zap.String("file_id", dup.ID), zap.Error(err))
	}
}

func (s *FileServiceImpl) SetExpiry(ctx context.Context, actor Actor, id string, expiresAt *time.Time) error {
	old, err := s.FileRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.FileRepo.SetExpiry(ctx, id, utcPtr(expiresAt)); err != nil {
		return err
	}
	s.AuditService.LogChange(ctx, actor.UserID, common_models.AuditActionExpiry, auditModule, id, map[string]common_models.Change{
		"expires_at": {Old: old.ExpiresAt, New: expiresAt},
	})
	return nil
}

func (s *FileServiceImpl) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	return s.FileRepo.Stats(ctx)
}

func (s *FileServiceImpl) EnqueueProcessing(ctx context.Context, id string) error {
	if _, err := s.FileRepo.Get(ctx, id); err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, id)
}

// categoryFor trusts the declared MIME type first and falls back to the
// extension's allowlist group for generic types.
func categoryFor(mimeType, ext string) Category {
	if cat := Classify(mimeType); cat != CategoryOther {
		return cat
	}
	if cat, ok := allowedIndex[ext]; ok {
		return cat
	}
	return CategoryOther
}

func copyName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + " (copy)" + ext
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
