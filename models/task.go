package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	// queued: 任务已创建，等待执行器取走执行
	TaskStatusQueued = "QUEUED"
	// 脚本生成阶段（LLM 生成 script/storyboard/shots）
	TaskStatusGeneratingScript = "GENERATING_SCRIPT"
	// 媒体生成阶段（分镜视频、配音、背景音乐）
	TaskStatusGeneratingMedia = "GENERATING_MEDIA"
	TaskStatusCompleted       = "COMPLETED"
	TaskStatusFailed          = "FAILED"
)

// 分镜子状态：视频/音频各自独立的小状态机
// idle -> regenerating -> {completed, failed}
const (
	ShotStateIdle         = "idle"
	ShotStateRegenerating = "regenerating"
	ShotStateCompleted    = "completed"
	ShotStateFailed       = "failed"
)

// 每个分镜固定时长（秒）：order * ShotSlotSeconds 即时间轴位置
const ShotSlotSeconds = 5

// IsTerminalStatus 判断任务是否到达终态（轮询在此停止）
func IsTerminalStatus(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed
}

var videoStyles = map[string]bool{
	"realistic":    true,
	"cartoonish":   true,
	"anime":        true,
	"doodle":       true,
	"watercolor":   true,
	"pixel_art":    true,
	"oil_painting": true,
	"comic_book":   true,
}

func ValidVideoStyle(style string) bool {
	return videoStyles[style]
}

// ProjectData 项目元数据，整体作为 JSON 列存储
type ProjectData struct {
	Title              string `json:"project_title"`
	Description        string `json:"project_description"`
	RefinedDescription string `json:"refined_description,omitempty"`
	TargetAudience     string `json:"target_audience"`
	Duration           int    `json:"duration"`
	Category           string `json:"category"`
	Language           string `json:"language"`
	Style              string `json:"style"`
}

// Shot 一条时间轴分镜；作为 task.shots JSON 数组的元素存储，不单独建表
type Shot struct {
	Order            int      `json:"order"`
	Timestamp        string   `json:"timestamp"`
	AIPrompt         string   `json:"ai_prompt"`
	StartingImageURL string   `json:"starting_image_url,omitempty"`
	VideoURL         string   `json:"video_url"`
	VoiceoverScript  string   `json:"voiceover_script"`
	VoiceoverURL     string   `json:"voiceover_url"`
	Captions         []string `json:"captions"`
	Mood             string   `json:"mood"`
	SpecialEffects   []string `json:"special_effects"`
	VideoStatus      string   `json:"video_status"`
	AudioStatus      string   `json:"audio_status"`
}

type ShotList []Shot

type VideoTask struct {
	ID                 string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Status             string      `json:"status"`
	Progress           int         `json:"progress"`
	ProjectData        ProjectData `gorm:"type:json" json:"project_data"`
	Shots              ShotList    `gorm:"type:json" json:"shots"`
	BackgroundMusicURL string      `json:"background_music_url"`
	Error              string      `json:"error"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func (VideoTask) TableName() string {
	return "video_task"
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (p ProjectData) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (p *ProjectData) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

func (s ShotList) Value() (driver.Value, error) {
	if s == nil {
		s = ShotList{}
	}
	return json.Marshal(s)
}

func (s *ShotList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, s)
}

// NormalizeShotOrder 保证 order 永远是连续的 0..N-1。
// 所有写 shots 的路径都必须经过这里。
func NormalizeShotOrder(shots ShotList) ShotList {
	sort.SliceStable(shots, func(i, j int) bool {
		return shots[i].Order < shots[j].Order
	})
	for i := range shots {
		shots[i].Order = i
		shots[i].Timestamp = fmt.Sprintf("%d:%02d-%d:%02d",
			i*ShotSlotSeconds/60, i*ShotSlotSeconds%60,
			(i+1)*ShotSlotSeconds/60, (i+1)*ShotSlotSeconds%60)
	}
	return shots
}

// ShotByOrder 按 order 查找分镜，返回下标
func (s ShotList) ShotByOrder(order int) (int, bool) {
	for i := range s {
		if s[i].Order == order {
			return i, true
		}
	}
	return -1, false
}

func (t *VideoTask) UpdateStatus(db *gorm.DB, status string, progress int, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"progress":   progress,
		"updated_at": time.Now(),
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	t.Status = status
	t.Progress = progress
	return db.Model(t).Updates(updates).Error
}

// SaveShots 持久化分镜列表（写入前归一化 order）
func (t *VideoTask) SaveShots(db *gorm.DB, shots ShotList) error {
	shots = NormalizeShotOrder(shots)
	b, err := json.Marshal(shots)
	if err != nil {
		return fmt.Errorf("marshal shots failed: %w", err)
	}
	t.Shots = shots
	return db.Model(t).Updates(map[string]interface{}{
		"shots":      b,
		"updated_at": time.Now(),
	}).Error
}

func (t *VideoTask) SetBackgroundMusic(db *gorm.DB, url string) error {
	t.BackgroundMusicURL = url
	return db.Model(t).Updates(map[string]interface{}{
		"background_music_url": url,
		"updated_at":           time.Now(),
	}).Error
}

func CreateVideoTask(db *gorm.DB, t *VideoTask) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Shots == nil {
		t.Shots = ShotList{}
	}
	return db.Create(t).Error
}

func GetVideoTaskByID(db *gorm.DB, taskID string) (*VideoTask, error) {
	var task VideoTask
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func ListVideoTasks(db *gorm.DB) ([]VideoTask, error) {
	var tasks []VideoTask
	if err := db.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func DeleteVideoTaskByID(db *gorm.DB, taskID string) error {
	return db.Delete(&VideoTask{}, "id = ?", taskID).Error
}

// TaskStatusSummary 批量状态查询的精简视图
type TaskStatusSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *VideoTask) StatusSummary() TaskStatusSummary {
	return TaskStatusSummary{
		ID:        t.ID,
		Status:    t.Status,
		Progress:  t.Progress,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
