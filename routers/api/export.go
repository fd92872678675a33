package api

import (
	"fmt"
	"log"
	"net/http"

	"ReelForge-server/models"
	"ReelForge-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 发起导出：POST /api/v1/export-video
// 服务端按分镜顺序确定性地构建轨道；同一视频后发请求胜出，
// 旧的未完成导出被标记 FAILED 并停掉轮询。
func ExportVideo(c *gin.Context) {
	var req struct {
		VideoID string `json:"video_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := models.GetVideoTaskByID(models.GormDB, req.VideoID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video task not found: " + err.Error()})
		return
	}
	if len(task.Shots) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task has no shots to export"})
		return
	}
	if order, missing := service.MissingVideoShot(task.Shots); missing {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("shot %d has no generated video yet", order),
		})
		return
	}

	// last-request-wins：取消同一视频仍在途的导出
	if actives, err := models.ActiveExportsByVideoID(models.GormDB, req.VideoID); err == nil {
		for i := range actives {
			old := &actives[i]
			if service.CancelPollTask("export#" + old.ID) {
				log.Printf("Cancelled poll for superseded export %s", old.ID)
			}
			_ = old.UpdateStatus(models.GormDB, models.ExportStatusFailed, "superseded by a newer export request")
		}
	}

	export := models.VideoExport{
		ID:      uuid.NewString(),
		VideoID: req.VideoID,
		Status:  models.ExportStatusQueued,
		Tracks:  service.BuildExportTracks(task.Shots, task.BackgroundMusicURL),
	}

	if err := models.CreateVideoExport(models.GormDB, &export); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create export: " + err.Error()})
		return
	}

	if err := service.EnqueueExport(export.ID); err != nil {
		log.Printf("enqueue export failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue export"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": export.ID,
		"status":  export.Status,
		"message": "Video export started",
	})
}

// 导出状态：GET /api/v1/export-status/:task_id
func GetExportStatus(c *gin.Context) {
	exportID := c.Param("task_id")
	export, err := models.GetVideoExportByID(models.GormDB, exportID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "export task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, export)
}
