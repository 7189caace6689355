package api

import (
	"net/http"

	"BriefToVideo-server/models"

	"github.com/gin-gonic/gin"
)

// GetRunStatus returns one generation run row, progress included.
func GetRunStatus(c *gin.Context) {
	runID := c.Param("run_id")

	run, err := models.GetRunByID(models.GormDB, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}
