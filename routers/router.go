package routers

import (
	"BriefToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects", api.ListProjects)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id", api.UpdateProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/generate", api.StartGeneration)
		v1.POST("/projects/:project_id/audio", api.UploadProjectAudio)
		v1.GET("/projects/:project_id/scenes", api.GetScenes)
		v1.PUT("/projects/:project_id/scenes/:sequence", api.UpdateScene)
		v1.POST("/projects/:project_id/scenes/:sequence/regenerate", api.RegenerateScene)
		v1.GET("/runs/:run_id", api.GetRunStatus)
	}
	r.GET("/projects/:project_id/wss", api.ProjectProgressWebSocket)
	return r
}
