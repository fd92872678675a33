package api

import (
	"log"
	"net/http"
	"time"

	"ReelForge-server/models"
	"ReelForge-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// 创建整片生成任务：POST /api/v1/generate-video
func GenerateVideo(c *gin.Context) {
	var req struct {
		ProjectTitle       string `json:"project_title" binding:"required"`
		ProjectDescription string `json:"project_description" binding:"required"`
		TargetAudience     string `json:"target_audience"`
		Duration           int    `json:"duration" binding:"required"`
		Category           string `json:"category"`
		Language           string `json:"language" binding:"required"`
		Style              string `json:"style" binding:"required"`
		RefinedDescription string `json:"refined_description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Duration < 5 || req.Duration > 600 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration must be between 5 and 600 seconds"})
		return
	}
	if !models.ValidVideoStyle(req.Style) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown style: " + req.Style})
		return
	}

	task := models.VideoTask{
		ID:       uuid.NewString(),
		Status:   models.TaskStatusQueued,
		Progress: 0,
		ProjectData: models.ProjectData{
			Title:              req.ProjectTitle,
			Description:        req.ProjectDescription,
			RefinedDescription: req.RefinedDescription,
			TargetAudience:     req.TargetAudience,
			Duration:           req.Duration,
			Category:           req.Category,
			Language:           req.Language,
			Style:              req.Style,
		},
		Shots: models.ShotList{},
	}

	if err := models.CreateVideoTask(models.GormDB, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task: " + err.Error()})
		return
	}

	if err := service.EnqueueGenerateVideo(task.ID); err != nil {
		log.Printf("enqueue generate-video failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue task"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
		"message": "Video generation started",
	})
}

// 任务列表：GET /api/v1/video-tasks
func ListVideoTasks(c *gin.Context) {
	tasks, err := models.ListVideoTasks(models.GormDB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch video tasks: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// 单任务状态：GET /api/v1/video-status/:task_id
func GetVideoStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	task, err := models.GetVideoTaskByID(models.GormDB, taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// 批量状态：POST /api/v1/video-tasks/bulk-status，body 为任务 id 数组
func BulkStatus(c *gin.Context) {
	var taskIDs []string
	if err := c.ShouldBindJSON(&taskIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	found, err := models.BulkTaskStatus(taskIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk status query failed: " + err.Error()})
		return
	}

	statuses := make(map[string]interface{}, len(taskIDs))
	for _, id := range taskIDs {
		if s, ok := found[id]; ok {
			statuses[id] = s
		} else {
			statuses[id] = gin.H{"error": "Task not found"}
		}
	}
	c.JSON(http.StatusOK, statuses)
}

// 删除任务：停本地轮询、尽力取消 Provider 作业、删除记录
func DeleteVideoTask(c *gin.Context) {
	taskID := c.Param("task_id")

	if _, err := models.GetVideoTaskByID(models.GormDB, taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}

	if service.CancelPollTask(taskID) {
		log.Printf("Cancelled poll for task %s before delete", taskID)
	}
	// 连带停掉分镜级再生成轮询（key 形如 taskID#shotN）
	if n := service.CancelPollsByPrefix(taskID + "#"); n > 0 {
		log.Printf("Cancelled %d shot-level polls for task %s", n, taskID)
	}

	if err := models.DeleteVideoTaskByID(models.GormDB, taskID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete task: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Video task deleted successfully",
		"task_id":   taskID,
		"delete_at": time.Now(),
	})
}
