package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-evidence/internal/config"
	"go-evidence/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxUpdateAttempts bounds optimistic retries in UpdateMetadata.
const maxUpdateAttempts = 8

// MergeFunc edits a fresh copy of the record. Only Metadata and
// ThumbnailPath are persisted. Returning an error aborts the update.
type MergeFunc func(rec *FileRecord) error

type FileRepository interface {
	Create(ctx context.Context, rec *FileRecord) error
	Get(ctx context.Context, id string) (*FileRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*FileRecord, error)
	FindExpired(ctx context.Context, asOf time.Time) ([]*FileRecord, error)
	IncrementCounter(ctx context.Context, id string, counter Counter) error
	UpdateMetadata(ctx context.Context, id string, merge MergeFunc) (*FileRecord, error)
	// SetExpiry fails with ErrSweeping once the record has been claimed.
	SetExpiry(ctx context.Context, id string, expiresAt *time.Time) error
	// ClaimExpired marks the record as being swept, only if it is still
	// expired at asOf.
	ClaimExpired(ctx context.Context, id string, asOf time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error
	// DeleteIfExpired removes the record only if it is still expired at asOf.
	DeleteIfExpired(ctx context.Context, id string, asOf time.Time) (bool, error)
	Stats(ctx context.Context) (*StorageStats, error)
	EnsureIndexes(ctx context.Context) error
}

// NewFileRepository picks the implementation for the configured database.
func NewFileRepository(db *database.Database) FileRepository {
	if db.Driver == config.DBDriverMongo {
		return NewMongoFileRepository(db.Mongo)
	}
	return NewSQLFileRepository(db.SQL)
}

func validCounter(c Counter) error {
	if c != CounterDownload && c != CounterView {
		return fmt.Errorf("unknown counter %q", c)
	}
	return nil
}

type FileRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewMongoFileRepository(mongodb *database.MongodbDB) FileRepository {
	return &FileRepositoryImpl{
		Collection: mongodb.DB.Collection("files"),
	}
}

func (r *FileRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "uploaded_by", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	})
	return err
}

func (r *FileRepositoryImpl) Create(ctx context.Context, rec *FileRecord) error {
	_, err := r.Collection.InsertOne(ctx, rec)
	return err
}

func (r *FileRepositoryImpl) Get(ctx context.Context, id string) (*FileRecord, error) {
	var rec FileRecord
	err := r.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Metadata = normalizeMetadata(rec.Metadata)
	return &rec, nil
}

func (r *FileRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.Collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FileRepositoryImpl) List(ctx context.Context, filter ListFilter) ([]*FileRecord, error) {
	query := bson.M{}
	if filter.UploadedBy != "" {
		query["uploaded_by"] = filter.UploadedBy
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}
	if filter.Offset > 0 {
		opts.SetSkip(filter.Offset)
	}
	return r.find(ctx, query, opts)
}

func (r *FileRepositoryImpl) FindExpired(ctx context.Context, asOf time.Time) ([]*FileRecord, error) {
	query := bson.M{"expires_at": bson.M{"$ne": nil, "$lt": asOf}}
	return r.find(ctx, query, options.Find().SetSort(bson.M{"expires_at": 1}))
}

func (r *FileRepositoryImpl) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*FileRecord, error) {
	cursor, err := r.Collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*FileRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		rec.Metadata = normalizeMetadata(rec.Metadata)
	}
	return recs, nil
}

func (r *FileRepositoryImpl) IncrementCounter(ctx context.Context, id string, counter Counter) error {
	if err := validCounter(counter); err != nil {
		return err
	}
	res, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{string(counter): 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FileRepositoryImpl) UpdateMetadata(ctx context.Context, id string, merge MergeFunc) (*FileRecord, error) {
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
		res, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id, "version": version}, bson.M{
			"$set": bson.M{
				"metadata":       rec.Metadata,
				"thumbnail_path": rec.ThumbnailPath,
				"updated_at":     now,
			},
			"$inc": bson.M{"version": 1},
		})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			rec.Version = version + 1
			rec.UpdatedAt = now
			return rec, nil
		}
		// lost the race or the record is gone; Get tells which
	}
	return nil, ErrConflict
}

func (r *FileRepositoryImpl) SetExpiry(ctx context.Context, id string, expiresAt *time.Time) error {
	update := bson.M{"$set": bson.M{"expires_at": expiresAt, "updated_at": time.Now().UTC()}}
	if expiresAt == nil {
		update = bson.M{
			"$set":   bson.M{"updated_at": time.Now().UTC()},
			"$unset": bson.M{"expires_at": ""},
		}
	}
	res, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id, "sweeping_at": nil}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.Collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrSweeping
	}
	return nil
}

func (r *FileRepositoryImpl) ClaimExpired(ctx context.Context, id string, asOf time.Time) (bool, error) {
	res, err := r.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "expires_at": bson.M{"$ne": nil, "$lt": asOf}},
		bson.M{
			"$set": bson.M{"sweeping_at": asOf.UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *FileRepositoryImpl) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$unset": bson.M{"sweeping_at": ""}})
	return err
}

func (r *FileRepositoryImpl) DeleteIfExpired(ctx context.Context, id string, asOf time.Time) (bool, error) {
	res, err := r.Collection.DeleteOne(ctx, bson.M{
		"_id":        id,
		"expires_at": bson.M{"$ne": nil, "$lt": asOf},
	})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

type categoryTotal struct {
	Category Category `bson:"_id"`
	Count    int64    `bson:"count"`
	Size     int64    `bson:"size"`
}

func (r *FileRepositoryImpl) Stats(ctx context.Context) (*StorageStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "size", Value: bson.D{{Key: "$sum", Value: "$size_bytes"}}},
		}}},
	}
	cursor, err := r.Collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var totals []categoryTotal
	if err := cursor.All(ctx, &totals); err != nil {
		return nil, err
	}
	return buildStats(totals), nil
}

// normalizeMetadata turns driver-specific container types back into plain
// maps, slices and times so callers see the same shapes for every backend.
func normalizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.M:
		return normalizeMetadata(t)
	case map[string]any:
		return normalizeMetadata(t)
	case primitive.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return v
}
