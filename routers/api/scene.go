package api

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"

	"BriefToVideo-server/models"
	"BriefToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetScenes lists a project's scenes in sequence order.
func GetScenes(c *gin.Context) {
	projectID := c.Param("project_id")

	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load scenes failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id":   projectID,
		"scenes":       scenes,
		"total_scenes": len(scenes),
	})
}

func sceneSequence(c *gin.Context) (int, bool) {
	seq, err := strconv.Atoi(c.Param("sequence"))
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sequence must be a positive integer"})
		return 0, false
	}
	return seq, true
}

// UpdateScene applies a partial update of the editable scene fields. Changing
// the prompt does not clear media references; callers regenerate explicitly.
func UpdateScene(c *gin.Context) {
	projectID := c.Param("project_id")
	seq, ok := sceneSequence(c)
	if !ok {
		return
	}

	var req struct {
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt"`
		NeedsLipSync   *bool  `json:"needs_lip_sync"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := models.GetSceneBySequence(models.GormDB, projectID, seq); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found: " + err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	if req.NegativePrompt != "" {
		fields["negative_prompt"] = req.NegativePrompt
	}
	if req.NeedsLipSync != nil {
		fields["needs_lip_sync"] = *req.NeedsLipSync
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if err := models.UpdateSceneFields(models.GormDB, projectID, seq, fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update scene failed: " + err.Error()})
		return
	}

	scene, err := models.GetSceneBySequence(models.GormDB, projectID, seq)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload scene failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": scene})
}

// RegenerateScene enqueues a single-scene regeneration run. The scene's media
// references are cleared by the run itself, not here, so the project survives
// an enqueue that never gets consumed.
func RegenerateScene(c *gin.Context) {
	projectID := c.Param("project_id")
	seq, ok := sceneSequence(c)
	if !ok {
		return
	}

	if _, err := models.GetProjectByID(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}
	if _, err := models.GetSceneBySequence(models.GormDB, projectID, seq); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found: " + err.Error()})
		return
	}

	run := models.GenerationRun{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Type:      models.RunTypeRegenerateScene,
		Sequence:  seq,
		Status:    models.RunStatusPending,
	}
	if err := models.CreateRun(models.GormDB, &run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create run failed: " + err.Error()})
		return
	}

	payload := service.GenerationPayload{RunID: run.ID, ProjectID: projectID, Sequence: seq}
	if err := service.EnqueueGeneration(service.TypeRegenerateScene, payload); err != nil {
		log.Printf("enqueue scene regeneration failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":     run.ID,
		"project_id": projectID,
		"sequence":   seq,
	})
}

// UploadProjectAudio stores an uploaded audio file in the bucket and binds it
// to the project for lip-sync.
func UploadProjectAudio(c *gin.Context) {
	projectID := c.Param("project_id")

	if _, err := models.GetProjectByID(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file: " + err.Error()})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open upload failed: " + err.Error()})
		return
	}
	defer f.Close()

	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".mp3"
	}
	objectName := fmt.Sprintf("projects/%s/audio%s", projectID, ext)
	audioURL, err := service.UploadToMinIO(f, objectName, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed: " + err.Error()})
		return
	}

	if err := models.UpdateProjectFields(models.GormDB, projectID, map[string]interface{}{
		"audio_url": audioURL,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bind audio failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"audio_url":  audioURL,
	})
}
