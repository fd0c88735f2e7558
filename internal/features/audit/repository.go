package audit

import (
	"context"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/config"
	"go-evidence/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

type AuditRepository interface {
	Create(ctx context.Context, log common_models.AuditLog) error
	List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error)
}

func NewAuditRepository(db *database.Database) AuditRepository {
	if db.Driver == config.DBDriverMongo {
		return &AuditRepositoryImpl{Collection: db.Mongo.DB.Collection("audit_logs")}
	}
	return &SQLAuditRepository{DB: db.SQL}
}

type AuditRepositoryImpl struct {
	Collection *mongo.Collection
}

func (r *AuditRepositoryImpl) Create(ctx context.Context, log common_models.AuditLog) error {
	_, err := r.Collection.InsertOne(ctx, log)
	return err
}

func (r *AuditRepositoryImpl) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	opts := options.Find().SetLimit(limit).SetSkip(offset).SetSort(bson.M{"timestamp": -1})

	query := bson.M{}
	for k, v := range filters {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		query[k] = v
	}

	cursor, err := r.Collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var logs []common_models.AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

type SQLAuditRepository struct {
	DB *gorm.DB
}

func (r *SQLAuditRepository) Create(ctx context.Context, log common_models.AuditLog) error {
	return r.DB.WithContext(ctx).Create(&log).Error
}

func (r *SQLAuditRepository) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	q := r.DB.WithContext(ctx).Order("timestamp desc").Limit(int(limit)).Offset(int(offset))
	for k, v := range filters {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		switch k {
		case "action", "module", "record_id", "actor_id":
			q = q.Where(k+" = ?", v)
		}
	}

	var logs []common_models.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
