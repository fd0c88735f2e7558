package lifecycle

import (
	"context"
	"testing"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/features/file"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_DeletesExpiredFileAndBlobs(t *testing.T) {
	env := newTestEnv(t)
	expired := env.seed(t, ago(24*time.Hour), true)
	future := env.seed(t, ahead(24*time.Hour), false)
	forever := env.seed(t, nil, false)

	report, err := env.sweeper.Sweep(testContext(t), time.Now(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.Failures)
	assert.False(t, report.DryRun)

	assert.False(t, env.exists(t, expired.ID))
	assert.False(t, env.blobs.Exists(testContext(t), "memory", expired.StoragePath))
	assert.False(t, env.blobs.Exists(testContext(t), "memory", *expired.ThumbnailPath))

	assert.True(t, env.exists(t, future.ID))
	assert.True(t, env.exists(t, forever.ID))
	assert.True(t, env.blobs.Exists(testContext(t), "memory", future.StoragePath))

	assert.Equal(t, []string{expired.ID}, env.notifier.Expired())
	assert.Contains(t, env.audit.Actions(), common_models.AuditActionSweep)
}

func TestSweep_DryRunNeverMutates(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, ago(time.Hour), true)
	b := env.seed(t, ago(2*time.Hour), false)
	now := time.Now()

	first, err := env.sweeper.Sweep(testContext(t), now, true)
	require.NoError(t, err)
	second, err := env.sweeper.Sweep(testContext(t), now, true)
	require.NoError(t, err)

	ids := func(r *SweepReport) []string {
		return lo.Map(r.Candidates, func(rec *file.FileRecord, _ int) string { return rec.ID })
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(first))
	assert.Equal(t, ids(first), ids(second))
	assert.Zero(t, first.Deleted)
	assert.Zero(t, second.Deleted)
	assert.True(t, second.DryRun)

	assert.True(t, env.exists(t, a.ID))
	assert.True(t, env.exists(t, b.ID))
	assert.True(t, env.blobs.Exists(testContext(t), "memory", *a.ThumbnailPath))
	assert.Empty(t, env.notifier.Expired())
	assert.Empty(t, env.audit.Actions())
}

// racingRepo runs hooks around the calls the sweeper makes, standing in for
// a concurrent writer.
type racingRepo struct {
	file.FileRepository
	afterFind func()
	afterGet  func(rec *file.FileRecord)
}

func (r *racingRepo) FindExpired(ctx context.Context, asOf time.Time) ([]*file.FileRecord, error) {
	recs, err := r.FileRepository.FindExpired(ctx, asOf)
	if err == nil && r.afterFind != nil {
		r.afterFind()
	}
	return recs, err
}

func (r *racingRepo) Get(ctx context.Context, id string) (*file.FileRecord, error) {
	rec, err := r.FileRepository.Get(ctx, id)
	if err == nil && r.afterGet != nil {
		r.afterGet(rec)
	}
	return rec, err
}

func TestSweep_ExpiryClearedAfterQueryIsKept(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, ago(time.Hour), true)

	env.sweeper.Files = &racingRepo{
		FileRepository: env.files,
		afterFind: func() {
			require.NoError(t, env.files.SetExpiry(context.Background(), rec.ID, nil))
		},
	}

	report, err := env.sweeper.Sweep(testContext(t), time.Now(), false)
	require.NoError(t, err)

	assert.Len(t, report.Candidates, 1)
	assert.Zero(t, report.Deleted)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, env.exists(t, rec.ID))
	assert.True(t, env.blobs.Exists(testContext(t), "memory", rec.StoragePath))
	assert.True(t, env.blobs.Exists(testContext(t), "memory", *rec.ThumbnailPath))
}

func TestSweep_ExpiryExtendedBeforeClaimIsKept(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, ago(time.Hour), true)

	env.sweeper.Files = &racingRepo{
		FileRepository: env.files,
		afterFind: func() {
			require.NoError(t, env.files.SetExpiry(context.Background(), rec.ID, ahead(time.Hour)))
		},
	}

	report, err := env.sweeper.Sweep(testContext(t), time.Now(), false)
	require.NoError(t, err)

	assert.Zero(t, report.Deleted)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, env.exists(t, rec.ID), "extended record must survive")
	assert.True(t, env.blobs.Exists(testContext(t), "memory", rec.StoragePath), "kept record keeps its blob")
	assert.True(t, env.blobs.Exists(testContext(t), "memory", *rec.ThumbnailPath))
}

func TestSweep_ClaimedRecordRefusesExpiryChange(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, ago(time.Hour), true)

	var extendErr error
	env.sweeper.Files = &racingRepo{
		FileRepository: env.files,
		afterGet: func(got *file.FileRecord) {
			if got.ID == rec.ID && extendErr == nil {
				extendErr = env.files.SetExpiry(context.Background(), rec.ID, ahead(time.Hour))
			}
		},
	}

	report, err := env.sweeper.Sweep(testContext(t), time.Now(), false)
	require.NoError(t, err)

	assert.ErrorIs(t, extendErr, file.ErrSweeping)
	assert.Equal(t, 1, report.Deleted)
	assert.Zero(t, report.Failed)
	assert.False(t, env.exists(t, rec.ID))
	assert.False(t, env.blobs.Exists(testContext(t), "memory", rec.StoragePath))
	assert.False(t, env.blobs.Exists(testContext(t), "memory", *rec.ThumbnailPath))
}

func TestSweep_OneFailureDoesNotAbort(t *testing.T) {
	env := newTestEnv(t)
	good := env.seed(t, ago(time.Hour), false)

	broken := env.seed(t, ago(2*time.Hour), false)
	require.NoError(t, env.files.Delete(testContext(t), broken.ID))
	broken.ID = "broken-backend"
	broken.StorageBackend = "decommissioned"
	require.NoError(t, env.files.Create(testContext(t), broken))

	report, err := env.sweeper.Sweep(testContext(t), time.Now(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken-backend", report.Failures[0].FileID)
	assert.Contains(t, report.Failures[0].Error, "unknown storage backend")

	assert.False(t, env.exists(t, good.ID))
	assert.True(t, env.exists(t, "broken-backend"))

	// the failed sweep released its claim, the owner can still keep the file
	require.NoError(t, env.files.SetExpiry(testContext(t), "broken-backend", nil))
}

func TestSweep_RecordDeletedConcurrentlyIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, ago(time.Hour), false)

	env.sweeper.Files = &racingRepo{
		FileRepository: env.files,
		afterFind: func() {
			require.NoError(t, env.files.Delete(context.Background(), rec.ID))
		},
	}

	report, err := env.sweeper.Sweep(testContext(t), time.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Deleted)
}
