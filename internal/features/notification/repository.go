package notification

import (
	"context"
	"errors"
	"time"

	"go-evidence/internal/config"
	"go-evidence/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("notification not found")

type NotificationRepository interface {
	Create(ctx context.Context, notification *Notification) error
	GetByUserID(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	MarkAsRead(ctx context.Context, id string, userID string) error
	MarkAllAsRead(ctx context.Context, userID string) error
	// DeleteRead removes the user's read notifications and reports how many went.
	DeleteRead(ctx context.Context, userID string) (int64, error)
}

func NewNotificationRepository(db *database.Database) NotificationRepository {
	if db.Driver == config.DBDriverMongo {
		return &NotificationRepositoryImpl{collection: db.Mongo.DB.Collection("notifications")}
	}
	return &SQLNotificationRepository{DB: db.SQL}
}

type NotificationRepositoryImpl struct {
	collection *mongo.Collection
}

func (r *NotificationRepositoryImpl) Create(ctx context.Context, notification *Notification) error {
	_, err := r.collection.InsertOne(ctx, notification)
	return err
}

func (r *NotificationRepositoryImpl) GetByUserID(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error) {
	skip := (page - 1) * limit
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	filter := bson.M{"user_id": userID}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var notifications []Notification
	if err = cursor.All(ctx, &notifications); err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (r *NotificationRepositoryImpl) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{
		"user_id": userID,
		"is_read": false,
	})
}

func (r *NotificationRepositoryImpl) MarkAsRead(ctx context.Context, id string, userID string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepositoryImpl) MarkAllAsRead(ctx context.Context, userID string) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now().UTC()}},
	)
	return err
}

func (r *NotificationRepositoryImpl) DeleteRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID, "is_read": true})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type SQLNotificationRepository struct {
	DB *gorm.DB
}

func (r *SQLNotificationRepository) Create(ctx context.Context, notification *Notification) error {
	return r.DB.WithContext(ctx).Create(notification).Error
}

func (r *SQLNotificationRepository) GetByUserID(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error) {
	q := r.DB.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var notifications []Notification
	err := q.Order("created_at desc").Offset(int((page - 1) * limit)).Limit(int(limit)).Find(&notifications).Error
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (r *SQLNotificationRepository) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

func (r *SQLNotificationRepository) MarkAsRead(ctx context.Context, id string, userID string) error {
	res := r.DB.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"is_read": true, "read_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLNotificationRepository) MarkAllAsRead(ctx context.Context, userID string) error {
	return r.DB.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": time.Now().UTC()}).Error
}

func (r *SQLNotificationRepository) DeleteRead(ctx context.Context, userID string) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, true).
		Delete(&Notification{})
	return res.RowsAffected, res.Error
}
