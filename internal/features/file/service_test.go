package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	common_models "go-evidence/internal/common/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadFileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte("evidence-"), 1<<20) // ~9 MiB

	rec, err := env.svc.UploadFile(ctx, testActor, NewBytesSource("report.pdf", "application/pdf", data), UploadHints{
		Description: "quarterly report",
		Metadata:    map[string]any{"case": "A-17"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.StoragePath)
	assert.Equal(t, StoragePathFor(rec.ID, "pdf"), rec.StoragePath)
	assert.Equal(t, CategoryDocument, rec.Category)
	assert.Equal(t, AccessInternal, rec.AccessLevel)
	assert.Equal(t, "user-1", rec.UploadedBy)
	assert.Empty(t, rec.Status())
	assert.True(t, env.blobs.Exists(ctx, rec.StorageBackend, rec.StoragePath))
	assert.Equal(t, []string{rec.ID}, env.queue.IDs())
	assert.Contains(t, env.audit.changes, common_models.AuditActionUpload)

	dl, err := env.svc.GetDownloadBlob(ctx, rec.ID)
	require.NoError(t, err)
	got, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Equal(t, data, got)
	assert.Equal(t, "report.pdf", dl.FileName)
	assert.Equal(t, "application/pdf", dl.MimeType)
}

func TestUploadFileRejectionWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, src := range []Source{
		NewBytesSource("virus.exe", "application/octet-stream", []byte("MZ")),
		sizedBytes("video.mp4", "video/mp4", 60<<20),
		NewBytesSource("notes.txt", "text/plain", []byte("<script>alert(1)</script>")),
	} {
		_, err := env.svc.UploadFile(ctx, testActor, src, UploadHints{})
		var rejection *RejectionError
		require.ErrorAs(t, err, &rejection, src.Name())
		assert.False(t, rejection.Result.Accepted)
	}

	assert.Zero(t, env.store.puts.Load())
	assert.Empty(t, env.queue.IDs())

	stats, err := env.svc.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)

	// virus.exe and notes.txt are security events, video.mp4 is not
	assert.Len(t, env.audit.Events(), 2)
}

func TestRejectionErrorSecurityFlag(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.UploadFile(context.Background(), testActor, NewBytesSource("virus.exe", "", []byte("MZ")), UploadHints{})

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.True(t, rejection.IsSecurityViolation())
	assert.Equal(t, []RejectionReason{ReasonDangerousType}, rejection.Reasons())

	_, err = env.svc.UploadFile(context.Background(), testActor, sizedBytes("video.mp4", "video/mp4", 60<<20), UploadHints{})
	require.ErrorAs(t, err, &rejection)
	assert.False(t, rejection.IsSecurityViolation())
}

func TestUploadFailsWhenSecurityAuditFails(t *testing.T) {
	env := newTestEnv(t)
	env.audit.failNext = true

	_, err := env.svc.UploadFile(context.Background(), testActor, NewBytesSource("virus.exe", "", []byte("MZ")), UploadHints{})
	require.Error(t, err)
	var rejection *RejectionError
	assert.False(t, errors.As(err, &rejection))
	assert.Zero(t, env.store.puts.Load())
}

func TestUploadSurvivesQueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = errors.New("redis down")

	rec, err := env.svc.UploadFile(context.Background(), testActor, NewBytesSource("a.txt", "text/plain", []byte("plain")), UploadHints{})
	require.NoError(t, err)

	_, err = env.svc.GetFile(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestUploadRejectsUnknownAccessLevel(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.UploadFile(context.Background(), testActor, NewBytesSource("a.txt", "text/plain", []byte("x")), UploadHints{AccessLevel: "top-secret"})
	assert.Error(t, err)
	assert.Zero(t, env.store.puts.Load())
}

func TestDeleteFileRemovesBlobsThenRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.UploadFile(ctx, testActor, NewBytesSource("photo.png", "image/png", []byte("png")), UploadHints{})
	require.NoError(t, err)

	thumb := ThumbnailPathFor(rec.ID)
	require.NoError(t, env.blobs.Put(ctx, rec.StorageBackend, thumb, bytes.NewReader([]byte("thumb"))))
	_, err = env.repo.UpdateMetadata(ctx, rec.ID, func(r *FileRecord) error {
		r.ThumbnailPath = &thumb
		return nil
	})
	require.NoError(t, err)

	deleted, err := env.svc.DeleteFile(ctx, testActor, rec.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, env.blobs.Exists(ctx, rec.StorageBackend, rec.StoragePath))
	assert.False(t, env.blobs.Exists(ctx, rec.StorageBackend, thumb))

	_, err = env.svc.GetDownloadBlob(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = env.svc.DeleteFile(ctx, testActor, rec.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteFileWithMissingBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.UploadFile(ctx, testActor, NewBytesSource("a.txt", "text/plain", []byte("x")), UploadHints{})
	require.NoError(t, err)
	require.NoError(t, env.blobs.Delete(ctx, rec.StorageBackend, rec.StoragePath))

	_, err = env.svc.GetDownloadBlob(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := env.svc.DeleteFile(ctx, testActor, rec.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestDuplicateFileCopiesThumbnail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.UploadFile(ctx, testActor, NewBytesSource("photo.jpg", "image/jpeg", []byte("jpeg")), UploadHints{})
	require.NoError(t, err)
	thumb := ThumbnailPathFor(rec.ID)
	require.NoError(t, env.blobs.Put(ctx, rec.StorageBackend, thumb, bytes.NewReader([]byte("thumb"))))
	_, err = env.repo.UpdateMetadata(ctx, rec.ID, func(r *FileRecord) error {
		r.ThumbnailPath = &thumb
		r.Metadata[MetaProcessingStatus] = string(StatusCompleted)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, env.svc.TrackAccess(ctx, rec.ID, CounterDownload))

	other := Actor{UserID: "user-2"}
	dup, err := env.svc.DuplicateFile(ctx, other, rec.ID)
	require.NoError(t, err)

	assert.NotEqual(t, rec.ID, dup.ID)
	assert.Equal(t, StoragePathFor(dup.ID, "jpg"), dup.StoragePath)
	assert.Equal(t, "photo (copy).jpg", dup.OriginalName)
	assert.Equal(t, "user-2", dup.UploadedBy)
	assert.Zero(t, dup.DownloadCount)
	require.NotNil(t, dup.ThumbnailPath)
	assert.Equal(t, ThumbnailPathFor(dup.ID), *dup.ThumbnailPath)
	assert.Equal(t, []byte("jpeg"), readBlob(t, env.blobs, dup.StorageBackend, dup.StoragePath))
	assert.Equal(t, []byte("thumb"), readBlob(t, env.blobs, dup.StorageBackend, *dup.ThumbnailPath))

	// completed copies are not re-processed
	assert.Equal(t, []string{rec.ID}, env.queue.IDs())

	// the copy is independent of its source
	deleted, err := env.svc.DeleteFile(ctx, testActor, rec.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	assert.True(t, env.blobs.Exists(ctx, dup.StorageBackend, *dup.ThumbnailPath))
}

func TestDuplicateMissingFile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.DuplicateFile(context.Background(), testActor, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetExpiryAndEnqueueProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.UploadFile(ctx, testActor, NewBytesSource("a.csv", "text/csv", []byte("a,b\n1,2")), UploadHints{})
	require.NoError(t, err)

	when := time.Now().Add(48 * time.Hour)
	require.NoError(t, env.svc.SetExpiry(ctx, testActor, rec.ID, &when))
	got, err := env.svc.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, when, *got.ExpiresAt, time.Second)

	require.NoError(t, env.svc.SetExpiry(ctx, testActor, rec.ID, nil))
	got, err = env.svc.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)

	require.NoError(t, env.svc.EnqueueProcessing(ctx, rec.ID))
	assert.Equal(t, []string{rec.ID, rec.ID}, env.queue.IDs())
	assert.ErrorIs(t, env.svc.EnqueueProcessing(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, env.svc.SetExpiry(ctx, testActor, "missing", nil), ErrNotFound)
}

func TestGetStorageStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.UploadFile(ctx, testActor, NewBytesSource("a.pdf", "application/pdf", make([]byte, 100)), UploadHints{})
	require.NoError(t, err)
	_, err = env.svc.UploadFile(ctx, testActor, NewBytesSource("b.png", "image/png", make([]byte, 300)), UploadHints{})
	require.NoError(t, err)

	stats, err := env.svc.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalFiles)
	assert.EqualValues(t, 400, stats.TotalSize)
	assert.InDelta(t, 200.0, stats.AverageSize, 0.001)
	assert.EqualValues(t, 300, stats.SizeByCategory[CategoryImage])
}

func TestCategoryFallsBackToExtension(t *testing.T) {
	assert.Equal(t, CategoryImage, categoryFor("application/octet-stream", "png"))
	assert.Equal(t, CategoryOther, categoryFor("application/octet-stream", "xyz"))
	assert.Equal(t, "notes (copy)", copyName("notes"))
}
