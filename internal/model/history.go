package model

import (
	"time"

	"gorm.io/gorm"
)

type SyncStatus string

const (
	StatusSuccess SyncStatus = "SUCCESS"
	StatusFailed  SyncStatus = "FAILED"
)

type History struct {
	gorm.Model
	TransferID  string     `gorm:"index;not null" json:"transfer_id"`
	Status      SyncStatus `gorm:"not null" json:"status"`
	EventKind   EventKind  `gorm:"not null" json:"event_kind"`
	RelPath     string     `gorm:"not null" json:"rel_path"`
	Destination string     `gorm:"not null" json:"destination"`
	CommandLine string     `json:"command_line"`
	ExitCode    int        `json:"exit_code"`
	ErrMsg      string     `json:"err_msg"`
	DurationMs  int64      `json:"duration_ms"`
	SyncedAt    time.Time  `gorm:"not null" json:"synced_at"`
}
