package api

import (
	"net/http"
	"time"

	"BriefToVideo-server/models"
	"BriefToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub is the in-process progress fan-out, set from main.go before the router
// starts serving.
var Hub *service.ProgressHub

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProjectProgressWebSocket streams generation progress for one project. Live
// orchestrator events come from the hub; a slow DB poll backs them up so the
// client still converges on the terminal state if events are dropped.
func ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"error": "project not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(gin.H{"kind": "snapshot", "project": project})

	events := Hub.Subscribe(projectID)
	defer Hub.Unsubscribe(projectID, events)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	prevStatus := project.Status
	prevCompleted := project.CompletedScenes
	prevFailed := project.FailedScenes

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			cur, err := models.GetProjectByID(projectID)
			if err != nil {
				continue
			}
			if cur.Status != prevStatus || cur.CompletedScenes != prevCompleted || cur.FailedScenes != prevFailed {
				if err := conn.WriteJSON(gin.H{"kind": "snapshot", "project": cur}); err != nil {
					return
				}
				prevStatus = cur.Status
				prevCompleted = cur.CompletedScenes
				prevFailed = cur.FailedScenes
			}
			if cur.Status == models.ProjectStatusCompleted || cur.Status == models.ProjectStatusFailed {
				_ = conn.WriteJSON(gin.H{"kind": "snapshot", "project": cur})
				return
			}
		}
	}
}
