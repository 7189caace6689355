package api

import (
	"log"
	"net/http"
	"time"

	"BriefToVideo-server/config"
	"BriefToVideo-server/models"
	"BriefToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateProject inserts a new project. Generation does not start here; the
// client calls StartGeneration when it is ready.
func CreateProject(c *gin.Context) {
	var req struct {
		Mode          string  `json:"mode"`
		Idea          string  `json:"idea"`
		CharacterDesc string  `json:"character_desc"`
		ProductDesc   string  `json:"product_desc"`
		ConfigFlavor  string  `json:"config_flavor"`
		AudioURL      string  `json:"audio_url"`
		AudioID       string  `json:"audio_id"`
		AudioStart    float64 `json:"audio_start"`
		AudioEnd      float64 `json:"audio_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Mode == "" {
		req.Mode = models.ProjectModeCharacter
	}
	if req.Mode != models.ProjectModeCharacter && req.Mode != models.ProjectModeAdCreative {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode: " + req.Mode})
		return
	}
	if req.Idea == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idea is required"})
		return
	}
	if req.ConfigFlavor == "" {
		req.ConfigFlavor = config.DefaultFlavor
	}

	project := models.Project{
		ID:            uuid.NewString(),
		Mode:          req.Mode,
		Idea:          req.Idea,
		CharacterDesc: req.CharacterDesc,
		ProductDesc:   req.ProductDesc,
		ConfigFlavor:  req.ConfigFlavor,
		AudioURL:      req.AudioURL,
		AudioID:       req.AudioID,
		AudioStart:    req.AudioStart,
		AudioEnd:      req.AudioEnd,
		Status:        models.ProjectStatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create project failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// GetProject returns a project with its scenes and most recent run.
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}

	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load scenes failed: " + err.Error()})
		return
	}

	var recentRun *models.GenerationRun
	var run models.GenerationRun
	if err := models.GormDB.Where("project_id = ?", projectID).
		Order("created_at DESC").First(&run).Error; err == nil {
		recentRun = &run
	}

	c.JSON(http.StatusOK, gin.H{
		"project":    project,
		"scenes":     scenes,
		"recent_run": recentRun,
	})
}

// ListProjects lists projects filtered by status. Operators use
// ?status=processing after a restart to find runs that were cut off.
func ListProjects(c *gin.Context) {
	status := c.DefaultQuery("status", models.ProjectStatusProcessing)

	projects, err := models.ListProjectsByStatus(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list projects failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"status":   status,
		"total":    len(projects),
	})
}

// UpdateProject applies a partial update of the editable brief fields.
func UpdateProject(c *gin.Context) {
	projectID := c.Param("project_id")

	var req struct {
		Idea          string   `json:"idea"`
		CharacterDesc string   `json:"character_desc"`
		ProductDesc   string   `json:"product_desc"`
		ConfigFlavor  string   `json:"config_flavor"`
		AudioURL      string   `json:"audio_url"`
		AudioID       string   `json:"audio_id"`
		AudioStart    *float64 `json:"audio_start"`
		AudioEnd      *float64 `json:"audio_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := models.GetProjectByID(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.Idea != "" {
		fields["idea"] = req.Idea
	}
	if req.CharacterDesc != "" {
		fields["character_desc"] = req.CharacterDesc
	}
	if req.ProductDesc != "" {
		fields["product_desc"] = req.ProductDesc
	}
	if req.ConfigFlavor != "" {
		fields["config_flavor"] = req.ConfigFlavor
	}
	if req.AudioURL != "" {
		fields["audio_url"] = req.AudioURL
	}
	if req.AudioID != "" {
		fields["audio_id"] = req.AudioID
	}
	if req.AudioStart != nil {
		fields["audio_start"] = *req.AudioStart
	}
	if req.AudioEnd != nil {
		fields["audio_end"] = *req.AudioEnd
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if err := models.UpdateProjectFields(models.GormDB, projectID, fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update project failed: " + err.Error()})
		return
	}

	updated, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload project failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": updated})
}

// DeleteProject removes the project and its scenes and runs.
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	if err := models.DeleteProjectByID(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete project failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"deleteAt": time.Now(),
	})
}

// StartGeneration creates a run row and enqueues the full pipeline. Repeated
// calls on a project with existing media only fill the gaps: stages skip
// scenes whose media references are already set.
func StartGeneration(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}

	run := models.GenerationRun{
		ID:        uuid.NewString(),
		ProjectId: project.ID,
		Type:      models.RunTypeFullGeneration,
		Status:    models.RunStatusPending,
	}
	if err := models.CreateRun(models.GormDB, &run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create run failed: " + err.Error()})
		return
	}

	payload := service.GenerationPayload{RunID: run.ID, ProjectID: project.ID}
	if err := service.EnqueueGeneration(service.TypeFullGeneration, payload); err != nil {
		log.Printf("enqueue generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":     run.ID,
		"project_id": project.ID,
	})
}
