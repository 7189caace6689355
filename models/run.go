package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Generation run status values. A run row tracks one orchestrator pass over a
// project so callers (and the progress websocket) can observe it.
const (
	RunStatusPending    = "pending"
	RunStatusProcessing = "processing"
	RunStatusFinished   = "finished"
	RunStatusFailed     = "failed"
)

// Run kinds.
const (
	RunTypeFullGeneration  = "full_generation"
	RunTypeRegenerateScene = "regenerate_scene"
)

// RunProgress is the last progress event the orchestrator emitted for a run,
// stored as a JSON column.
type RunProgress struct {
	Stage     string `json:"stage"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

func (p RunProgress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *RunProgress) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

type GenerationRun struct {
	ID         string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId  string      `json:"projectId"`
	Type       string      `json:"type"`
	Sequence   int         `json:"sequence,omitempty"`
	Status     string      `json:"status"`
	Progress   RunProgress `gorm:"type:json" json:"progress"`
	Error      string      `json:"error"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

func (GenerationRun) TableName() string {
	return "generation_run"
}

func CreateRun(db *gorm.DB, run *GenerationRun) error {
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	return db.Create(run).Error
}

func GetRunByID(db *gorm.DB, runID string) (*GenerationRun, error) {
	var run GenerationRun
	if err := db.First(&run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func UpdateRunFields(db *gorm.DB, runID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return db.Model(&GenerationRun{}).Where("id = ?", runID).Updates(fields).Error
}
