package notification

import (
	"time"
)

type Event string

const (
	EventProcessingCompleted Event = "file.processing_completed"
	EventProcessingFailed    Event = "file.processing_failed"
	EventFileExpired         Event = "file.expired"
)

type NotificationType string

const (
	NotificationTypeInfo    NotificationType = "info"
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeError   NotificationType = "error"
)

type Notification struct {
	ID        string           `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	UserID    string           `bson:"user_id" json:"user_id" gorm:"index"`
	Event     Event            `bson:"event" json:"event"`
	FileID    string           `bson:"file_id" json:"file_id" gorm:"index"`
	Title     string           `bson:"title" json:"title"`
	Message   string           `bson:"message" json:"message"`
	Type      NotificationType `bson:"type" json:"type"`
	IsRead    bool             `bson:"is_read" json:"is_read"`
	CreatedAt time.Time        `bson:"created_at" json:"created_at"`
	ReadAt    *time.Time       `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}

func describe(event Event, fileID string) (string, string, NotificationType) {
	switch event {
	case EventProcessingCompleted:
		return "File processed", "Processing finished for file " + fileID, NotificationTypeSuccess
	case EventProcessingFailed:
		return "File processing failed", "Processing failed for file " + fileID + "; the file is still downloadable", NotificationTypeError
	case EventFileExpired:
		return "File expired", "File " + fileID + " reached its expiry date and was permanently deleted", NotificationTypeWarning
	}
	return string(event), "Update for file " + fileID, NotificationTypeInfo
}
