// Package lifecycle removes expired files on a schedule and keeps a history
// of sweep runs.
package lifecycle

import (
	"time"

	"go-evidence/internal/features/file"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerCLI      Trigger = "cli"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

type SweepFailure struct {
	FileID string `json:"file_id"`
	Error  string `json:"error"`
}

// SweepReport describes one sweep. Candidates is the expired list as queried;
// in a dry run nothing else happens.
type SweepReport struct {
	Candidates []*file.FileRecord `json:"candidates"`
	Deleted    int                `json:"deleted"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Failures   []SweepFailure     `json:"failures"`
	DryRun     bool               `json:"dry_run"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
}

// SweepRun is the persisted history entry of a sweep execution
type SweepRun struct {
	ID         string     `json:"id" bson:"_id" gorm:"primaryKey;size:36"`
	Trigger    Trigger    `json:"trigger" bson:"trigger"`
	DryRun     bool       `json:"dry_run" bson:"dry_run"`
	Status     RunStatus  `json:"status" bson:"status"`
	StartedAt  time.Time  `json:"started_at" bson:"started_at" gorm:"index"`
	EndedAt    *time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Candidates int        `json:"candidates" bson:"candidates"`
	Deleted    int        `json:"deleted" bson:"deleted"`
	Failed     int        `json:"failed" bson:"failed"`
	Skipped    int        `json:"skipped" bson:"skipped"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
}

func (SweepRun) TableName() string {
	return "sweep_runs"
}
