package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"ReelForge-server/models"
	"ReelForge-server/service"

	"github.com/gin-gonic/gin"
)

// 分镜再生成：POST /api/v1/regenerate-shot/:task_id
// 每次只动一个分镜；UI 已保证互斥，服务端用 in-flight 注册表兜底。
func RegenerateShot(c *gin.Context) {
	taskID := c.Param("task_id")

	var req struct {
		ShotOrder        int    `json:"shot_order"`
		RegenerateVideo  bool   `json:"regenerate_video"`
		RegenerateAudio  bool   `json:"regenerate_audio"`
		NewVideoPrompt   string `json:"new_video_prompt"`
		NewVoiceoverText string `json:"new_voiceover_text"`
		StartingImageURL string `json:"starting_image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := models.GetVideoTaskByID(models.GormDB, taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}

	idx, ok := task.Shots.ShotByOrder(req.ShotOrder)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid shot order, task has " + strconv.Itoa(len(task.Shots)) + " shots",
		})
		return
	}

	if !req.RegenerateVideo && !req.RegenerateAudio {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "must specify at least one component to regenerate (video or audio)",
		})
		return
	}

	// 同分镜同组件在途互斥
	var acquired []string
	release := func() {
		for _, key := range acquired {
			service.EndRegen(key)
		}
	}
	components := []string{}
	if req.RegenerateVideo {
		key := service.RegenKey(taskID, req.ShotOrder, "video")
		if !service.TryBeginRegen(key) {
			c.JSON(http.StatusConflict, gin.H{"error": "video regeneration already in flight for this shot"})
			return
		}
		acquired = append(acquired, key)
		components = append(components, "video")
	}
	if req.RegenerateAudio {
		key := service.RegenKey(taskID, req.ShotOrder, "audio")
		if !service.TryBeginRegen(key) {
			release()
			c.JSON(http.StatusConflict, gin.H{"error": "audio regeneration already in flight for this shot"})
			return
		}
		acquired = append(acquired, key)
		components = append(components, "audio")
	}

	// 先写入新素材与 regenerating 状态，再入队
	orig := task.Shots[idx]
	shot := task.Shots[idx]
	if req.RegenerateVideo {
		shot.VideoStatus = models.ShotStateRegenerating
		if req.NewVideoPrompt != "" {
			shot.AIPrompt = req.NewVideoPrompt
		}
	}
	if req.RegenerateAudio {
		shot.AudioStatus = models.ShotStateRegenerating
		if req.NewVoiceoverText != "" {
			shot.VoiceoverScript = req.NewVoiceoverText
		}
	}
	task.Shots[idx] = shot
	if err := task.SaveShots(models.GormDB, task.Shots); err != nil {
		release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update shot: " + err.Error()})
		return
	}

	if err := service.EnqueueRegenerateShot(service.RegeneratePayload{
		TaskID:           taskID,
		ShotOrder:        req.ShotOrder,
		RegenerateVideo:  req.RegenerateVideo,
		RegenerateAudio:  req.RegenerateAudio,
		StartingImageURL: req.StartingImageURL,
	}); err != nil {
		release()
		log.Printf("enqueue regenerate-shot failed: %v", err)
		// 没有任务会来收尾，不能把分镜留在 regenerating
		rollbackRegenStates(&task.Shots[idx], orig, req.RegenerateVideo, req.RegenerateAudio)
		if serr := task.SaveShots(models.GormDB, task.Shots); serr != nil {
			log.Printf("rollback shot state failed: %v", serr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue regeneration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":                 "Shot regeneration started for " + strings.Join(components, " and "),
		"shot_order":              req.ShotOrder,
		"regenerating_components": components,
	})
}

// rollbackRegenStates 入队失败时把子状态恢复到入队前的值
func rollbackRegenStates(shot *models.Shot, orig models.Shot, video, audio bool) {
	if video {
		shot.VideoStatus = orig.VideoStatus
	}
	if audio {
		shot.AudioStatus = orig.AudioStatus
	}
}

// 字幕编辑是同步操作：直接落库，不产生作业也不进轮询
func UpdateCaptions(c *gin.Context) {
	taskID := c.Param("task_id")

	var req struct {
		ShotOrder int      `json:"shot_order"`
		Captions  []string `json:"captions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := models.GetVideoTaskByID(models.GormDB, taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}

	idx, ok := task.Shots.ShotByOrder(req.ShotOrder)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid shot order, task has " + strconv.Itoa(len(task.Shots)) + " shots",
		})
		return
	}

	task.Shots[idx].Captions = req.Captions
	if err := task.SaveShots(models.GormDB, task.Shots); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update captions: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Captions updated",
		"shot_order": req.ShotOrder,
		"shot":       task.Shots[idx],
	})
}

