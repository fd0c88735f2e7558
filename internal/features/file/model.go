package file

import (
	"io"
	"time"
)

type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

type AccessLevel string

const (
	AccessPublic       AccessLevel = "public"
	AccessInternal     AccessLevel = "internal"
	AccessRestricted   AccessLevel = "restricted"
	AccessConfidential AccessLevel = "confidential"
)

func (a AccessLevel) Valid() bool {
	switch a {
	case AccessPublic, AccessInternal, AccessRestricted, AccessConfidential:
		return true
	}
	return false
}

type ProcessingStatus string

const (
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Metadata keys written by the processing pipeline.
const (
	MetaProcessingStatus   = "processing_status"
	MetaProcessedAt        = "processed_at"
	MetaProcessingError    = "processing_error"
	MetaProcessingWarnings = "processing_warnings"
	MetaHash               = "hash"
	MetaAttributes         = "attributes"
	MetaDetectedMime       = "detected_mime"
	MetaVirusScan          = "virus_scan"
	MetaHints              = "hints"
)

type Counter string

const (
	CounterDownload Counter = "download_count"
	CounterView     Counter = "view_count"
)

// FileRecord is the durable entry for one stored upload. StoragePath and
// StorageBackend never change once the record exists.
type FileRecord struct {
	ID             string         `json:"id" bson:"_id" gorm:"primaryKey;size:36"`
	OriginalName   string         `json:"original_name" bson:"original_name"`
	StoragePath    string         `json:"storage_path" bson:"storage_path"`
	StorageBackend string         `json:"storage_backend" bson:"storage_backend"`
	ThumbnailPath  *string        `json:"thumbnail_path" bson:"thumbnail_path"`
	SizeBytes      int64          `json:"size_bytes" bson:"size_bytes"`
	MimeType       string         `json:"mime_type" bson:"mime_type"`
	Extension      string         `json:"extension" bson:"extension"`
	Category       Category       `json:"category" bson:"category" gorm:"index"`
	AccessLevel    AccessLevel    `json:"access_level" bson:"access_level"`
	UploadedBy     string         `json:"uploaded_by" bson:"uploaded_by" gorm:"index"`
	Description    string         `json:"description,omitempty" bson:"description,omitempty"`
	Metadata       map[string]any `json:"metadata" bson:"metadata" gorm:"type:text;serializer:json"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty" bson:"expires_at,omitempty" gorm:"index"`
	DownloadCount  int64          `json:"download_count" bson:"download_count"`
	ViewCount      int64          `json:"view_count" bson:"view_count"`
	Version        int64          `json:"-" bson:"version"`
	// SweepingAt is set once an expiry sweep has claimed the record.
	SweepingAt     *time.Time     `json:"-" bson:"sweeping_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" bson:"updated_at"`
}

func (FileRecord) TableName() string {
	return "files"
}

// Status returns the processing status, or "" while the job is still queued.
func (r *FileRecord) Status() ProcessingStatus {
	if r.Metadata == nil {
		return ""
	}
	switch v := r.Metadata[MetaProcessingStatus].(type) {
	case string:
		return ProcessingStatus(v)
	case ProcessingStatus:
		return v
	}
	return ""
}

// Expired reports whether the record is eligible for sweeping at asOf.
func (r *FileRecord) Expired(asOf time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(asOf)
}

// ThumbnailPathFor is the derived location of a record's preview blob.
func ThumbnailPathFor(id string) string {
	return "thumbnails/" + id + "_thumb.jpg"
}

// StoragePathFor is the location of the primary blob.
func StoragePathFor(id, ext string) string {
	if ext == "" {
		return "files/" + id
	}
	return "files/" + id + "." + ext
}

type StorageStats struct {
	TotalFiles      int64              `json:"total_files"`
	TotalSize       int64              `json:"total_size"`
	AverageSize     float64            `json:"average_size"`
	SizeByCategory  map[Category]int64 `json:"size_by_category"`
	CountByCategory map[Category]int64 `json:"count_by_category"`
}

type ListFilter struct {
	UploadedBy string
	Category   Category
	Limit      int64
	Offset     int64
}

// Actor is the identity performing an operation, as supplied by the caller.
type Actor struct {
	UserID     string
	SourceAddr string
}

// Download is what GetDownloadBlob hands back. Callers close Body.
type Download struct {
	Body     io.ReadCloser
	FileName string
	MimeType string
	Size     int64
}
