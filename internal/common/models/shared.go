package models

import (
	"time"
)

type AuditAction string

const (
	AuditActionUpload    AuditAction = "UPLOAD"
	AuditActionDelete    AuditAction = "DELETE"
	AuditActionDuplicate AuditAction = "DUPLICATE"
	AuditActionExpiry    AuditAction = "EXPIRY"
	AuditActionSweep     AuditAction = "SWEEP"
	AuditActionSecurity  AuditAction = "SECURITY"
	AuditActionProcess   AuditAction = "PROCESS"
)

type Change struct {
	Old interface{} `bson:"old" json:"old"`
	New interface{} `bson:"new" json:"new"`
}

type AuditLog struct {
	ID        string            `bson:"_id" json:"id" gorm:"column:id;primaryKey"`
	Action    AuditAction       `bson:"action" json:"action" gorm:"column:action;index"`
	Module    string            `bson:"module" json:"module" gorm:"column:module"`
	RecordID  string            `bson:"record_id" json:"record_id" gorm:"column:record_id;index"`
	ActorID   string            `bson:"actor_id" json:"actor_id" gorm:"column:actor_id"`
	Changes   map[string]Change `bson:"changes,omitempty" json:"changes,omitempty" gorm:"column:changes;type:text;serializer:json"`
	Security  *SecurityEvent    `bson:"security,omitempty" json:"security,omitempty" gorm:"column:security;type:text;serializer:json"` // SECURITY entries only
	Timestamp time.Time         `bson:"timestamp" json:"timestamp" gorm:"column:timestamp;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// SecurityEvent is the forensic record of a rejected dangerous or malicious upload.
type SecurityEvent struct {
	ActorID    string    `bson:"actor_id" json:"actor_id"`
	SourceAddr string    `bson:"source_addr" json:"source_addr"`
	Reason     string    `bson:"reason" json:"reason"`
	Rule       string    `bson:"rule" json:"rule"`
	FileName   string    `bson:"file_name" json:"file_name"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}
