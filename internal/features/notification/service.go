package notification

import (
	"context"
)

type NotificationService interface {
	GetUserNotifications(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	MarkAsRead(ctx context.Context, id string, userID string) error
	MarkAllAsRead(ctx context.Context, userID string) error
	ClearRead(ctx context.Context, userID string) (int64, error)
}

type NotificationServiceImpl struct {
	repo NotificationRepository
}

func NewNotificationService(repo NotificationRepository) NotificationService {
	return &NotificationServiceImpl{repo: repo}
}

func (s *NotificationServiceImpl) GetUserNotifications(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return s.repo.GetByUserID(ctx, userID, page, limit)
}

func (s *NotificationServiceImpl) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.GetUnreadCount(ctx, userID)
}

func (s *NotificationServiceImpl) MarkAsRead(ctx context.Context, id string, userID string) error {
	return s.repo.MarkAsRead(ctx, id, userID)
}

func (s *NotificationServiceImpl) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

func (s *NotificationServiceImpl) ClearRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.DeleteRead(ctx, userID)
}
