package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SceneStatusPending    = "pending"
	SceneStatusProcessing = "processing"
	SceneStatusCompleted  = "completed"
	SceneStatusFailed     = "failed"
)

// Scene is one shot within a project. Sequence is a 1-based, gapless ordering
// key. The media reference fields (VideoURL, LipSyncVideoURL, AudioURL) are
// the authoritative completion signals; Status can transiently disagree with
// them and is kept for observability only.
type Scene struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId       string    `json:"projectId"`
	Sequence        int       `json:"sequence"`
	Prompt          string    `json:"prompt"`
	NegativePrompt  string    `json:"negativePrompt"`
	Status          string    `json:"status"`
	VideoURL        string    `json:"videoUrl"`
	LipSyncVideoURL string    `json:"lipSyncVideoUrl"`
	AudioURL        string    `json:"audioUrl"`
	NeedsLipSync    bool      `json:"needsLipSync"`
	RetryCount      int       `json:"retryCount"`
	ErrorMessage    string    `json:"errorMessage"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// ActiveVideoRef returns the media reference downstream stages should use:
// the lip-synced clip supersedes the raw clip once present.
func (s *Scene) ActiveVideoRef() string {
	if s.LipSyncVideoURL != "" {
		return s.LipSyncVideoURL
	}
	return s.VideoURL
}

// HasVideo reports whether any usable video reference exists for the scene.
// This, not Status, gates regeneration decisions.
func (s *Scene) HasVideo() bool {
	return s.ActiveVideoRef() != ""
}

func BatchCreateScenes(db *gorm.DB, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	return db.Create(&scenes).Error
}

func GetScenesByProjectID(db *gorm.DB, projectID string) ([]Scene, error) {
	var scenes []Scene
	err := db.Where("project_id = ?", projectID).Order("sequence ASC").Find(&scenes).Error
	return scenes, err
}

func GetSceneBySequence(db *gorm.DB, projectID string, sequence int) (*Scene, error) {
	var scene Scene
	if err := db.First(&scene, "project_id = ? AND sequence = ?", projectID, sequence).Error; err != nil {
		return nil, err
	}
	return &scene, nil
}

// UpdateSceneFields applies a partial update keyed by project + sequence.
func UpdateSceneFields(db *gorm.DB, projectID string, sequence int, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return db.Model(&Scene{}).
		Where("project_id = ? AND sequence = ?", projectID, sequence).
		Updates(fields).Error
}
