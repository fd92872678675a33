package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 导出任务状态
const (
	ExportStatusQueued    = "QUEUED"
	ExportStatusExporting = "EXPORTING"
	ExportStatusCompleted = "COMPLETED"
	ExportStatusFailed    = "FAILED"
)

func IsTerminalExportStatus(status string) bool {
	return status == ExportStatusCompleted || status == ExportStatusFailed
}

// KeyFrame 轨道中的一段素材，时间单位毫秒
type KeyFrame struct {
	Timestamp float64 `json:"timestamp"`
	Duration  float64 `json:"duration"`
	URL       string  `json:"url"`
}

// Track 合成轨道（video / audio）
type Track struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Keyframes []KeyFrame `json:"keyframes"`
}

type TrackList []Track

func (t TrackList) Value() (driver.Value, error) {
	if t == nil {
		t = TrackList{}
	}
	return json.Marshal(t)
}

func (t *TrackList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, t)
}

// VideoExport 导出（合成）任务。同一个 video_id 最多一个活跃导出，后发请求胜出。
type VideoExport struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	VideoID      string    `json:"video_id"`
	Status       string    `json:"status"`
	Tracks       TrackList `gorm:"type:json" json:"tracks"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Error        string    `json:"error"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (VideoExport) TableName() string {
	return "video_export"
}

func CreateVideoExport(db *gorm.DB, e *VideoExport) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	return db.Create(e).Error
}

func GetVideoExportByID(db *gorm.DB, exportID string) (*VideoExport, error) {
	var export VideoExport
	if err := db.First(&export, "id = ?", exportID).Error; err != nil {
		return nil, err
	}
	return &export, nil
}

// ActiveExportsByVideoID 查询同一视频上仍未终态的导出（用于 last-request-wins 取消）
func ActiveExportsByVideoID(db *gorm.DB, videoID string) ([]VideoExport, error) {
	var exports []VideoExport
	err := db.Where("video_id = ? AND status IN (?, ?)",
		videoID, ExportStatusQueued, ExportStatusExporting).Find(&exports).Error
	if err != nil {
		return nil, err
	}
	return exports, nil
}

func (e *VideoExport) UpdateStatus(db *gorm.DB, status, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	e.Status = status
	return db.Model(e).Updates(updates).Error
}

func (e *VideoExport) Finish(db *gorm.DB, videoURL, thumbnailURL string) error {
	e.Status = ExportStatusCompleted
	e.VideoURL = videoURL
	e.ThumbnailURL = thumbnailURL
	return db.Model(e).Updates(map[string]interface{}{
		"status":        ExportStatusCompleted,
		"video_url":     videoURL,
		"thumbnail_url": thumbnailURL,
		"updated_at":    time.Now(),
	}).Error
}
