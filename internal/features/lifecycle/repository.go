package lifecycle

import (
	"context"

	"go-evidence/internal/config"
	"go-evidence/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

type SweepRunRepository interface {
	CreateRun(ctx context.Context, run *SweepRun) error
	UpdateRun(ctx context.Context, run *SweepRun) error
	ListRuns(ctx context.Context, limit int) ([]SweepRun, error)
	EnsureIndexes(ctx context.Context) error
}

func NewSweepRunRepository(db *database.Database) SweepRunRepository {
	if db.Driver == config.DBDriverMongo {
		return &SweepRunRepositoryImpl{collection: db.Mongo.DB.Collection("sweep_runs")}
	}
	return &SQLSweepRunRepository{DB: db.SQL}
}

type SweepRunRepositoryImpl struct {
	collection *mongo.Collection
}

func (r *SweepRunRepositoryImpl) CreateRun(ctx context.Context, run *SweepRun) error {
	_, err := r.collection.InsertOne(ctx, run)
	return err
}

func (r *SweepRunRepositoryImpl) UpdateRun(ctx context.Context, run *SweepRun) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": run.ID}, run)
	return err
}

func (r *SweepRunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var runs []SweepRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *SweepRunRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	return err
}

type SQLSweepRunRepository struct {
	DB *gorm.DB
}

func (r *SQLSweepRunRepository) CreateRun(ctx context.Context, run *SweepRun) error {
	return r.DB.WithContext(ctx).Create(run).Error
}

func (r *SQLSweepRunRepository) UpdateRun(ctx context.Context, run *SweepRun) error {
	return r.DB.WithContext(ctx).Save(run).Error
}

func (r *SQLSweepRunRepository) ListRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	var runs []SweepRun
	err := r.DB.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

func (r *SQLSweepRunRepository) EnsureIndexes(ctx context.Context) error {
	return r.DB.WithContext(ctx).AutoMigrate(&SweepRun{})
}
