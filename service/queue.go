package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ReelForge-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeGenerateVideo  = "task:generate_video"
	TypeRegenerateShot = "task:regenerate_shot"
	TypeSingleGen      = "task:single_generation"
	TypeExportVideo    = "task:export_video"
)

type GeneratePayload struct {
	TaskID string `json:"task_id"`
}

type RegeneratePayload struct {
	TaskID           string `json:"task_id"`
	ShotOrder        int    `json:"shot_order"`
	RegenerateVideo  bool   `json:"regenerate_video"`
	RegenerateAudio  bool   `json:"regenerate_audio"`
	StartingImageURL string `json:"starting_image_url,omitempty"`
}

type SinglePayload struct {
	TaskID string `json:"task_id"`
}

type ExportPayload struct {
	ExportID string `json:"export_id"`
}

var QueueClient *asynq.Client

func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

func enqueue(taskType string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(taskType, b,
		asynq.MaxRetry(3),             // 失败重试 3 次
		asynq.Timeout(40*time.Minute), // 生成链路较慢，留足超时
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Task Enqueued: Type=%s, ID=%s", taskType, info.ID)
	return nil
}

func EnqueueGenerateVideo(taskID string) error {
	return enqueue(TypeGenerateVideo, GeneratePayload{TaskID: taskID})
}

func EnqueueRegenerateShot(p RegeneratePayload) error {
	return enqueue(TypeRegenerateShot, p)
}

func EnqueueSingleGen(taskID string) error {
	return enqueue(TypeSingleGen, SinglePayload{TaskID: taskID})
}

func EnqueueExport(exportID string) error {
	return enqueue(TypeExportVideo, ExportPayload{ExportID: exportID})
}
