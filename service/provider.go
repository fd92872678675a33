package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ReelForge-server/config"
)

// 生成类型：发给 Provider 的 type 字段
const (
	KindScript    = "script"
	KindImage     = "image"
	KindVideo     = "image_to_video"
	KindVoiceover = "voiceover"
	KindMusic     = "music"
	KindCompose   = "compose"
)

// Job Provider 侧的作业视图（GET /v1/jobs/{id} 的响应）
type Job struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Error    string    `json:"error"`
	Output   JobOutput `json:"output"`
}

// JobOutput 统一的结果定位：单资源走 URL，结构化结果走 Payload
type JobOutput struct {
	URL          string          `json:"url,omitempty"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// 作业规范化状态
type JobState int

const (
	JobRunning JobState = iota
	JobCompleted
	JobFailed
)

// State 兼容不同 vendor 的状态拼写，归一化到三态
func (j *Job) State() JobState {
	switch strings.ToLower(j.Status) {
	case "completed", "succeeded", "success", "finished":
		return JobCompleted
	case "failed", "error", "cancelled":
		return JobFailed
	default:
		// QUEUED / IN_QUEUE / IN_PROGRESS / PROCESSING 等一律视为进行中
		return JobRunning
	}
}

// ProviderClient 外部生成服务适配器：提交作业、查询状态、取消作业。
// Provider 被当作不透明的最终一致作业执行器。
type ProviderClient struct {
	Addr   string
	APIKey string
	HTTP   *http.Client
}

var Provider *ProviderClient

func InitProvider() {
	cfg := config.AppConfig.Provider
	Provider = &ProviderClient{
		Addr:   strings.TrimSuffix(cfg.Addr, "/"),
		APIKey: cfg.APIKey,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit 提交生成请求，返回 job id。
// idemKey 随请求头下发，Provider 按 key 去重，enqueue 重试不会产生第二个作业。
func (c *ProviderClient) Submit(ctx context.Context, kind string, params map[string]interface{}, idemKey string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"type":       kind,
		"parameters": params,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Key "+c.APIKey)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("provider status code: %d", resp.StatusCode)
	}

	var respData struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if respData.ID != "" {
		return respData.ID, nil
	}
	if respData.JobID != "" {
		return respData.JobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

// Job 查询单个作业的当前状态
func (c *ProviderClient) Job(ctx context.Context, jobID string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Key "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status code: %d, body: %s", resp.StatusCode, truncate(string(bodyBytes), 512))
	}

	var job Job
	if err := json.Unmarshal(bodyBytes, &job); err != nil {
		return nil, fmt.Errorf("decode job failed: %v, body: %s", err, truncate(string(bodyBytes), 512))
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return &job, nil
}

// Cancel 尽力而为地取消 Provider 侧作业（孤儿作业治理）
func (c *ProviderClient) Cancel(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	req, err := http.NewRequest(http.MethodDelete, c.Addr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("create delete request failed: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Key "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("provider delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		var respData map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&respData)
		return fmt.Errorf("provider delete status: %d, body: %+v", resp.StatusCode, respData)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
