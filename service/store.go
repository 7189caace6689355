package service

import (
	"context"

	"BriefToVideo-server/models"

	"gorm.io/gorm"
)

// GormStore is the GORM-backed Store used in production.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var p models.Project
	if err := s.DB.WithContext(ctx).First(&p, "id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) GetScenes(ctx context.Context, projectID string) ([]models.Scene, error) {
	return models.GetScenesByProjectID(s.DB.WithContext(ctx), projectID)
}

func (s *GormStore) UpdateProject(ctx context.Context, projectID string, fields map[string]interface{}) error {
	return models.UpdateProjectFields(s.DB.WithContext(ctx), projectID, fields)
}

func (s *GormStore) UpdateScene(ctx context.Context, projectID string, sequence int, fields map[string]interface{}) error {
	return models.UpdateSceneFields(s.DB.WithContext(ctx), projectID, sequence, fields)
}
