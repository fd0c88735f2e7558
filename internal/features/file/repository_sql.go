package file

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type SQLFileRepository struct {
	DB *gorm.DB
}

func NewSQLFileRepository(db *gorm.DB) FileRepository {
	return &SQLFileRepository{DB: db}
}

func (r *SQLFileRepository) EnsureIndexes(ctx context.Context) error {
	return r.DB.WithContext(ctx).AutoMigrate(&FileRecord{})
}

func (r *SQLFileRepository) Create(ctx context.Context, rec *FileRecord) error {
	return r.DB.WithContext(ctx).Create(rec).Error
}

func (r *SQLFileRepository) Get(ctx context.Context, id string) (*FileRecord, error) {
	var rec FileRecord
	err := r.DB.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *SQLFileRepository) Delete(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Delete(&FileRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLFileRepository) List(ctx context.Context, filter ListFilter) ([]*FileRecord, error) {
	q := r.DB.WithContext(ctx).Order("created_at desc")
	if filter.UploadedBy != "" {
		q = q.Where("uploaded_by = ?", filter.UploadedBy)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Limit > 0 {
		q = q.Limit(int(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(int(filter.Offset))
	}

	var recs []*FileRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *SQLFileRepository) FindExpired(ctx context.Context, asOf time.Time) ([]*FileRecord, error) {
	var recs []*FileRecord
	err := r.DB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", asOf.UTC()).
		Order("expires_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *SQLFileRepository) IncrementCounter(ctx context.Context, id string, counter Counter) error {
	if err := validCounter(counter); err != nil {
		return err
	}
	col := string(counter)
	res := r.DB.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ?", id).
		UpdateColumn(col, gorm.Expr(col+" + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLFileRepository) UpdateMetadata(ctx context.Context, id string, merge MergeFunc) (*FileRecord, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		version := rec.Version
		if err := merge(rec); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		res := r.DB.WithContext(ctx).Model(&FileRecord{}).
			Where("id = ? AND version = ?", id, version).
			Select("metadata", "thumbnail_path", "updated_at", "version").
			Updates(&FileRecord{
				Metadata:      rec.Metadata,
				ThumbnailPath: rec.ThumbnailPath,
				UpdatedAt:     now,
				Version:       version + 1,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			rec.Version = version + 1
			rec.UpdatedAt = now
			return rec, nil
		}
	}
	return nil, ErrConflict
}

func (r *SQLFileRepository) SetExpiry(ctx context.Context, id string, expiresAt *time.Time) error {
	if expiresAt != nil {
		t := expiresAt.UTC()
		expiresAt = &t
	}
	res := r.DB.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ? AND sweeping_at IS NULL", id).
		Select("expires_at", "updated_at").
		Updates(&FileRecord{ExpiresAt: expiresAt, UpdatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.DB.WithContext(ctx).Model(&FileRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrSweeping
	}
	return nil
}

func (r *SQLFileRepository) ClaimExpired(ctx context.Context, id string, asOf time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ? AND expires_at IS NOT NULL AND expires_at < ?", id, asOf.UTC()).
		UpdateColumns(map[string]any{
			"sweeping_at": asOf.UTC(),
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *SQLFileRepository) ReleaseClaim(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ?", id).
		UpdateColumn("sweeping_at", nil).Error
}

func (r *SQLFileRepository) DeleteIfExpired(ctx context.Context, id string, asOf time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).
		Where("id = ? AND expires_at IS NOT NULL AND expires_at < ?", id, asOf.UTC()).
		Delete(&FileRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *SQLFileRepository) Stats(ctx context.Context) (*StorageStats, error) {
	var totals []categoryTotal
	err := r.DB.WithContext(ctx).Model(&FileRecord{}).
		Select("category, count(*) AS count, coalesce(sum(size_bytes), 0) AS size").
		Group("category").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return buildStats(totals), nil
}
