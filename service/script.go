package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ReelForge-server/models"
)

// 脚本流水线：一次 Provider 作业产出 script + 分镜明细。
// 原始工作流是 script -> storyboard -> shots 三步 LLM 链，这里作为一个
// 作业整体提交，Provider 返回结构化 payload。

type ShotDraft struct {
	Timestamp       string   `json:"timestamp"`
	AIPrompt        string   `json:"ai_prompt"`
	VoiceoverScript string   `json:"voiceover_script"`
	Captions        []string `json:"captions"`
	Mood            string   `json:"mood"`
	SpecialEffects  []string `json:"special_effects"`
}

type ScriptResult struct {
	Title         string      `json:"title"`
	ScriptContent string      `json:"script_content"`
	Tone          string      `json:"tone"`
	KeyPoints     []string    `json:"key_points"`
	MusicPrompt   string      `json:"music_prompt"`
	Shots         []ShotDraft `json:"shots"`
}

// ShotCountFor 时长 -> 分镜数：每 5 秒一条，至少 1 条
func ShotCountFor(durationSeconds int) int {
	n := durationSeconds / models.ShotSlotSeconds
	if n < 1 {
		n = 1
	}
	return n
}

// BuildScript 提交脚本生成作业并轮询结果
func BuildScript(ctx context.Context, task *models.VideoTask) (*ScriptResult, error) {
	pd := task.ProjectData
	description := pd.Description
	if pd.RefinedDescription != "" {
		description = pd.RefinedDescription
	}

	jobID, err := Provider.Submit(ctx, KindScript, map[string]interface{}{
		"project_title":       pd.Title,
		"project_description": description,
		"target_audience":     pd.TargetAudience,
		"duration":            pd.Duration,
		"category":            pd.Category,
		"language":            pd.Language,
		"style":               pd.Style,
		"shot_count":          ShotCountFor(pd.Duration),
	}, "script:"+task.ID)
	if err != nil {
		return nil, fmt.Errorf("submit script job failed: %w", err)
	}

	job, err := Provider.Await(ctx, jobID, DefaultPollConfig())
	if err != nil {
		return nil, err
	}

	var result ScriptResult
	if err := json.Unmarshal(job.Output.Payload, &result); err != nil {
		return nil, fmt.Errorf("decode script payload failed: %w", err)
	}
	if len(result.Shots) == 0 {
		return nil, fmt.Errorf("script payload has no shots")
	}
	return &result, nil
}

// DraftShots 把脚本产出的分镜明细转成任务分镜（order 连续 0..N-1）
func DraftShots(drafts []ShotDraft) models.ShotList {
	shots := make(models.ShotList, 0, len(drafts))
	for i, d := range drafts {
		shots = append(shots, models.Shot{
			Order:           i,
			Timestamp:       d.Timestamp,
			AIPrompt:        d.AIPrompt,
			VoiceoverScript: d.VoiceoverScript,
			Captions:        d.Captions,
			Mood:            d.Mood,
			SpecialEffects:  d.SpecialEffects,
			VideoStatus:     models.ShotStateIdle,
			AudioStatus:     models.ShotStateIdle,
		})
	}
	return models.NormalizeShotOrder(shots)
}
