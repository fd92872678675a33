package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 单媒体生成任务状态
const (
	SingleStatusGenerating = "GENERATING"
	SingleStatusCompleted  = "COMPLETED"
	SingleStatusFailed     = "FAILED"
)

// 单媒体任务类型
const (
	SingleTypeVideo = "video"
	SingleTypeAudio = "audio"
	SingleTypeImage = "image"
)

// SingleRequestData 单媒体任务的请求参数快照
type SingleRequestData struct {
	Prompt      string `json:"prompt,omitempty"`
	Text        string `json:"text,omitempty"`
	Language    string `json:"language,omitempty"`
	Style       string `json:"style,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	IsVoiceover bool   `json:"is_voiceover,omitempty"`
}

func (r SingleRequestData) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *SingleRequestData) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, r)
}

// SingleGenerationTask 独立的单媒体生成任务（编辑器里的"生成新起始图/单条配音"等）
type SingleGenerationTask struct {
	ID          string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	RequestData SingleRequestData `gorm:"type:json" json:"request_data"`
	URL         string            `json:"url"`
	Error       string            `json:"error"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (SingleGenerationTask) TableName() string {
	return "single_generation_task"
}

func CreateSingleTask(db *gorm.DB, t *SingleGenerationTask) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	return db.Create(t).Error
}

func GetSingleTaskByID(db *gorm.DB, taskID string) (*SingleGenerationTask, error) {
	var task SingleGenerationTask
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *SingleGenerationTask) Finish(db *gorm.DB, url string) error {
	t.Status = SingleStatusCompleted
	t.URL = url
	return db.Model(t).Updates(map[string]interface{}{
		"status":     SingleStatusCompleted,
		"url":        url,
		"updated_at": time.Now(),
	}).Error
}

func (t *SingleGenerationTask) Fail(db *gorm.DB, errMsg string) error {
	t.Status = SingleStatusFailed
	t.Error = errMsg
	return db.Model(t).Updates(map[string]interface{}{
		"status":     SingleStatusFailed,
		"error":      errMsg,
		"updated_at": time.Now(),
	}).Error
}
