package routers

import (
	"ReelForge-server/config"
	"ReelForge-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/audios", config.AppConfig.Media.AudioDir)
	r.GET("/health", api.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/video-tasks", api.ListVideoTasks)
		v1.POST("/generate-video", api.GenerateVideo)
		v1.GET("/video-status/:task_id", api.GetVideoStatus)
		v1.POST("/video-tasks/bulk-status", api.BulkStatus)
		v1.DELETE("/video-tasks/:task_id", api.DeleteVideoTask)

		v1.POST("/regenerate-shot/:task_id", api.RegenerateShot)
		v1.POST("/update-captions/:task_id", api.UpdateCaptions)

		v1.POST("/generate-single-video", api.GenerateSingleVideo)
		v1.POST("/generate-single-audio", api.GenerateSingleAudio)
		v1.POST("/generate-voiceover", api.GenerateVoiceover)
		v1.POST("/generate-image", api.GenerateImage)
		v1.GET("/single-generation-status/:task_id", api.GetSingleGenerationStatus)

		v1.POST("/export-video", api.ExportVideo)
		v1.GET("/export-status/:task_id", api.GetExportStatus)
	}
	r.GET("/tasks/:task_id/ws", api.TaskProgressWebSocket)
	return r
}
