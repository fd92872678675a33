package api

import (
	"log"
	"net/http"

	"ReelForge-server/models"
	"ReelForge-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func createSingleTask(c *gin.Context, taskType string, req models.SingleRequestData) {
	task := models.SingleGenerationTask{
		ID:          uuid.NewString(),
		Type:        taskType,
		Status:      models.SingleStatusGenerating,
		RequestData: req,
	}

	if err := models.CreateSingleTask(models.GormDB, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task: " + err.Error()})
		return
	}

	if err := service.EnqueueSingleGen(task.ID); err != nil {
		log.Printf("enqueue single generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue task"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
		"message": taskType + " generation started",
	})
}

// 单条视频：POST /api/v1/generate-single-video
func GenerateSingleVideo(c *gin.Context) {
	var req struct {
		Prompt   string `json:"prompt" binding:"required"`
		Language string `json:"language" binding:"required"`
		Duration int    `json:"duration"`
		Style    string `json:"style" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidVideoStyle(req.Style) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown style: " + req.Style})
		return
	}
	if req.Duration <= 0 {
		req.Duration = models.ShotSlotSeconds
	}

	createSingleTask(c, models.SingleTypeVideo, models.SingleRequestData{
		Prompt:   req.Prompt,
		Language: req.Language,
		Duration: req.Duration,
		Style:    req.Style,
	})
}

// 单条音频（配音或背景音乐）：POST /api/v1/generate-single-audio
func GenerateSingleAudio(c *gin.Context) {
	var req struct {
		Prompt      string `json:"prompt"`
		Language    string `json:"language" binding:"required"`
		IsVoiceover bool   `json:"is_voiceover"`
		Text        string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IsVoiceover && req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required for voiceover generation"})
		return
	}
	if !req.IsVoiceover && req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required for music generation"})
		return
	}

	createSingleTask(c, models.SingleTypeAudio, models.SingleRequestData{
		Prompt:      req.Prompt,
		Text:        req.Text,
		Language:    req.Language,
		IsVoiceover: req.IsVoiceover,
	})
}

// 配音快捷入口：POST /api/v1/generate-voiceover
func GenerateVoiceover(c *gin.Context) {
	var req struct {
		Text     string `json:"text" binding:"required"`
		Language string `json:"language" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	createSingleTask(c, models.SingleTypeAudio, models.SingleRequestData{
		Text:        req.Text,
		Language:    req.Language,
		IsVoiceover: true,
	})
}

// 新起始图（编辑器点编辑用）：POST /api/v1/generate-image
func GenerateImage(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
		Style  string `json:"style" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidVideoStyle(req.Style) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown style: " + req.Style})
		return
	}

	createSingleTask(c, models.SingleTypeImage, models.SingleRequestData{
		Prompt: req.Prompt,
		Style:  req.Style,
	})
}

// 单媒体任务状态：GET /api/v1/single-generation-status/:task_id
func GetSingleGenerationStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	task, err := models.GetSingleTaskByID(models.GormDB, taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}
