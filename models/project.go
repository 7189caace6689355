package models

import "time"

// Project status values. The aggregate status is derived from the scene
// collection by the reconciler; treat it as an observability field, never as
// the source of truth for whether a scene's media exists.
const (
	ProjectStatusPending    = "pending"
	ProjectStatusProcessing = "processing"
	ProjectStatusCompleted  = "completed"
	ProjectStatusFailed     = "failed"
	// generating_scenes is a worker-only transient state while the scripting
	// service populates the scene collection.
	ProjectStatusGeneratingScenes = "generating_scenes"
)

// Generation modes. The ad-creative mode scripts from the product description;
// every other mode scripts from the character description.
const (
	ProjectModeAdCreative = "ad_creative"
	ProjectModeCharacter  = "character"
)

type Project struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Mode             string    `json:"mode"`
	Idea             string    `json:"idea"`
	CharacterDesc    string    `json:"characterDesc"`
	ProductDesc      string    `json:"productDesc"`
	ReferenceImageID string    `json:"referenceImageId"`
	ConfigFlavor     string    `json:"configFlavor"`
	AudioURL         string    `json:"audioUrl"`
	AudioID          string    `json:"audioId"`
	AudioStart       float64   `json:"audioStart"`
	AudioEnd         float64   `json:"audioEnd"`
	Status           string    `json:"status"`
	CompletedScenes  int       `json:"completedScenes"`
	FailedScenes     int       `json:"failedScenes"`
	FinalVideoURL    string    `json:"finalVideoUrl"`
	ErrorMessage     string    `json:"errorMessage"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// Description returns the mode-appropriate description text used by the
// scripting stage.
func (p *Project) Description() string {
	if p.Mode == ProjectModeAdCreative {
		return p.ProductDesc
	}
	return p.CharacterDesc
}
