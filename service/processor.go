package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"ReelForge-server/config"
	"ReelForge-server/models"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 同任务并发分镜更新需要串行化读改写（shots 是整列 JSON）
var taskLocks sync.Map

func lockTask(taskID string) func() {
	v, _ := taskLocks.LoadOrStore(taskID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Processor 队列任务消费者
type Processor struct {
	DB *gorm.DB
}

func NewProcessor(db *gorm.DB) *Processor {
	return &Processor{DB: db}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateVideo, p.HandleGenerateVideo)
	mux.HandleFunc(TypeRegenerateShot, p.HandleRegenerateShot)
	mux.HandleFunc(TypeSingleGen, p.HandleSingleGen)
	mux.HandleFunc(TypeExportVideo, p.HandleExport)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// ============================================================================
// 整片生成：脚本 -> 分镜媒体（并行） -> 背景音乐
// ============================================================================

func (p *Processor) HandleGenerateVideo(ctx context.Context, t *asynq.Task) error {
	var payload GeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := models.GetVideoTaskByID(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing VideoTask: %s", task.ID)

	// 删除任务可通过 CancelPollTask 终止整条流水线
	pipeCtx, cancel := context.WithCancel(ctx)
	RegisterPollCancel(task.ID, cancel)
	defer UnregisterPollCancel(task.ID)

	// 1. 脚本生成
	if err := task.UpdateStatus(p.DB, models.TaskStatusGeneratingScript, 10, ""); err != nil {
		log.Printf("UpdateStatus failed: %v", err)
	}

	script, err := BuildScript(pipeCtx, task)
	if err != nil {
		log.Printf("script generation failed: %v", err)
		task.UpdateStatus(p.DB, models.TaskStatusFailed, 0, fmt.Sprintf("Script generation failed: %v", err))
		return nil // 业务失败，不再重试
	}

	// 2. 分镜落库，进入媒体阶段
	shots := DraftShots(script.Shots)
	if err := task.SaveShots(p.DB, shots); err != nil {
		log.Printf("save shots failed: %v", err)
		task.UpdateStatus(p.DB, models.TaskStatusFailed, 0, fmt.Sprintf("Save shots failed: %v", err))
		return nil
	}
	if err := task.UpdateStatus(p.DB, models.TaskStatusGeneratingMedia, 30, ""); err != nil {
		log.Printf("UpdateStatus failed: %v", err)
	}

	// 3. 并行生成每个分镜的视频 + 配音
	g, shotCtx := errgroup.WithContext(pipeCtx)
	g.SetLimit(3) // Provider 侧限流，避免打爆 vendor 配额
	for i := range shots {
		shot := &shots[i]
		g.Go(func() error {
			return p.generateShotMedia(shotCtx, task, shot)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("shot media generation failed: %v", err)
		task.SaveShots(p.DB, shots)
		task.UpdateStatus(p.DB, models.TaskStatusFailed, 0, fmt.Sprintf("Media generation failed: %v", err))
		return nil
	}

	if err := task.SaveShots(p.DB, shots); err != nil {
		log.Printf("save shots failed: %v", err)
	}
	task.UpdateStatus(p.DB, models.TaskStatusGeneratingMedia, 90, "")

	// 4. 背景音乐
	if script.MusicPrompt != "" {
		musicURL, err := p.generateMusic(pipeCtx, task.ID, script.MusicPrompt)
		if err != nil {
			log.Printf("music generation failed: %v", err)
			task.UpdateStatus(p.DB, models.TaskStatusFailed, 0, fmt.Sprintf("Music generation failed: %v", err))
			return nil
		}
		if err := task.SetBackgroundMusic(p.DB, musicURL); err != nil {
			log.Printf("save music url failed: %v", err)
		}
	}

	// 5. 完成
	task.UpdateStatus(p.DB, models.TaskStatusCompleted, 100, "")
	log.Printf("VideoTask %s completed successfully", task.ID)
	return nil
}

// generateShotMedia 单个分镜的媒体链：起始图 -> 图生视频 -> 配音
func (p *Processor) generateShotMedia(ctx context.Context, task *models.VideoTask, shot *models.Shot) error {
	style := task.ProjectData.Style
	pollCfg := DefaultPollConfig()

	// 起始图
	imageJobID, err := Provider.Submit(ctx, KindImage, map[string]interface{}{
		"prompt": shot.AIPrompt,
		"style":  style,
	}, fmt.Sprintf("image:%s:%d", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("shot %d: submit image job failed: %w", shot.Order, err)
	}
	imageJob, err := Provider.Await(ctx, imageJobID, pollCfg)
	if err != nil {
		return fmt.Errorf("shot %d: image job failed: %w", shot.Order, err)
	}
	imageURL, err := MirrorToMinIO(imageJob.Output.URL,
		fmt.Sprintf("tasks/%s/shots/%d/image.png", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("shot %d: mirror image failed: %w", shot.Order, err)
	}
	shot.StartingImageURL = imageURL

	// 图生视频
	videoJobID, err := Provider.Submit(ctx, KindVideo, map[string]interface{}{
		"prompt":    shot.AIPrompt,
		"image_url": imageJob.Output.URL,
		"style":     style,
	}, fmt.Sprintf("video:%s:%d", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("shot %d: submit video job failed: %w", shot.Order, err)
	}
	videoJob, err := Provider.Await(ctx, videoJobID, pollCfg)
	if err != nil {
		return fmt.Errorf("shot %d: video job failed: %w", shot.Order, err)
	}
	videoURL, err := MirrorToMinIO(videoJob.Output.URL,
		fmt.Sprintf("tasks/%s/shots/%d/video.mp4", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("shot %d: mirror video failed: %w", shot.Order, err)
	}
	shot.VideoURL = videoURL
	shot.VideoStatus = models.ShotStateCompleted

	// 配音
	voJobID, err := Provider.Submit(ctx, KindVoiceover, map[string]interface{}{
		"text":     shot.VoiceoverScript,
		"language": task.ProjectData.Language,
	}, fmt.Sprintf("voiceover:%s:%d", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("shot %d: submit voiceover job failed: %w", shot.Order, err)
	}
	voJob, err := Provider.Await(ctx, voJobID, pollCfg)
	if err != nil {
		return fmt.Errorf("shot %d: voiceover job failed: %w", shot.Order, err)
	}
	voURL, err := MirrorToMinIO(voJob.Output.URL,
		fmt.Sprintf("tasks/%s/shots/%d/audio.mp3", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("shot %d: mirror voiceover failed: %w", shot.Order, err)
	}
	shot.VoiceoverURL = voURL
	shot.AudioStatus = models.ShotStateCompleted

	log.Printf("shot %d media completed (task %s)", shot.Order, task.ID)
	return nil
}

func (p *Processor) generateMusic(ctx context.Context, taskID, prompt string) (string, error) {
	jobID, err := Provider.Submit(ctx, KindMusic, map[string]interface{}{
		"prompt": prompt,
	}, "music:"+taskID)
	if err != nil {
		return "", fmt.Errorf("submit music job failed: %w", err)
	}
	job, err := Provider.Await(ctx, jobID, DefaultPollConfig())
	if err != nil {
		return "", err
	}
	return MirrorToMinIO(job.Output.URL, fmt.Sprintf("tasks/%s/music.mp3", taskID))
}

// ============================================================================
// 分镜再生成：idle -> regenerating -> {completed, failed}
// ============================================================================

func (p *Processor) HandleRegenerateShot(ctx context.Context, t *asynq.Task) error {
	var payload RegeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	if payload.RegenerateVideo {
		defer EndRegen(RegenKey(payload.TaskID, payload.ShotOrder, "video"))
	}
	if payload.RegenerateAudio {
		defer EndRegen(RegenKey(payload.TaskID, payload.ShotOrder, "audio"))
	}

	task, err := models.GetVideoTaskByID(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v: %w", err, asynq.SkipRetry)
	}

	idx, ok := task.Shots.ShotByOrder(payload.ShotOrder)
	if !ok {
		return fmt.Errorf("shot order %d not found in task %s: %w", payload.ShotOrder, task.ID, asynq.SkipRetry)
	}
	shot := task.Shots[idx]

	log.Printf("Regenerating shot %d of task %s (video=%v audio=%v)",
		payload.ShotOrder, task.ID, payload.RegenerateVideo, payload.RegenerateAudio)

	pollCtx, cancel := context.WithCancel(ctx)
	regPollKey := fmt.Sprintf("%s#shot%d", task.ID, payload.ShotOrder)
	RegisterPollCancel(regPollKey, cancel)
	defer UnregisterPollCancel(regPollKey)

	if payload.RegenerateVideo {
		if err := p.regenerateShotVideo(pollCtx, task, &shot, payload.StartingImageURL); err != nil {
			log.Printf("regenerate video failed (shot %d): %v", shot.Order, err)
			shot.VideoStatus = models.ShotStateFailed
		} else {
			shot.VideoStatus = models.ShotStateCompleted
		}
		p.saveShot(task.ID, shot, true, false)
	}

	if payload.RegenerateAudio {
		if err := p.regenerateShotAudio(pollCtx, task, &shot); err != nil {
			log.Printf("regenerate audio failed (shot %d): %v", shot.Order, err)
			shot.AudioStatus = models.ShotStateFailed
		} else {
			shot.AudioStatus = models.ShotStateCompleted
		}
		p.saveShot(task.ID, shot, false, true)
	}

	return nil
}

// mergeShotComponents 把再生成产出的组件字段合并到最新分镜上。
// src 是任务开始时的快照，只有本次动过的组件可以覆盖；其余字段
// （另一组件的产物、期间落库的字幕编辑）以 dst 为准。
func mergeShotComponents(dst *models.Shot, src models.Shot, video, audio bool) {
	if video {
		dst.StartingImageURL = src.StartingImageURL
		dst.VideoURL = src.VideoURL
		dst.VideoStatus = src.VideoStatus
	}
	if audio {
		dst.VoiceoverURL = src.VoiceoverURL
		dst.AudioStatus = src.AudioStatus
	}
}

// saveShot 读改写单个分镜；同任务互斥，且只合并本次任务动过的组件，
// 并发的另一组件再生成或字幕编辑不会被快照覆盖
func (p *Processor) saveShot(taskID string, shot models.Shot, video, audio bool) {
	unlock := lockTask(taskID)
	defer unlock()

	task, err := models.GetVideoTaskByID(p.DB, taskID)
	if err != nil {
		log.Printf("saveShot: task not found: %v", err)
		return
	}
	idx, ok := task.Shots.ShotByOrder(shot.Order)
	if !ok {
		log.Printf("saveShot: shot order %d gone from task %s", shot.Order, taskID)
		return
	}
	mergeShotComponents(&task.Shots[idx], shot, video, audio)
	if err := task.SaveShots(p.DB, task.Shots); err != nil {
		log.Printf("saveShot: save failed: %v", err)
	}
}

func (p *Processor) regenerateShotVideo(ctx context.Context, task *models.VideoTask, shot *models.Shot, startingImageURL string) error {
	style := task.ProjectData.Style
	pollCfg := DefaultPollConfig()
	idemKey := fmt.Sprintf("regen-video:%s:%d:%s", task.ID, shot.Order, shot.AIPrompt)

	imageURL := startingImageURL
	if imageURL == "" {
		// 未指定起始图则重新生图
		imageJobID, err := Provider.Submit(ctx, KindImage, map[string]interface{}{
			"prompt": shot.AIPrompt,
			"style":  style,
		}, "regen-image:"+idemKey)
		if err != nil {
			return fmt.Errorf("submit image job failed: %w", err)
		}
		imageJob, err := Provider.Await(ctx, imageJobID, pollCfg)
		if err != nil {
			return err
		}
		imageURL = imageJob.Output.URL
		mirrored, err := MirrorToMinIO(imageURL,
			fmt.Sprintf("tasks/%s/shots/%d/image.png", task.ID, shot.Order))
		if err != nil {
			return fmt.Errorf("mirror image failed: %w", err)
		}
		shot.StartingImageURL = mirrored
	} else {
		shot.StartingImageURL = startingImageURL
	}

	videoJobID, err := Provider.Submit(ctx, KindVideo, map[string]interface{}{
		"prompt":    shot.AIPrompt,
		"image_url": imageURL,
		"style":     style,
	}, idemKey)
	if err != nil {
		return fmt.Errorf("submit video job failed: %w", err)
	}
	videoJob, err := Provider.Await(ctx, videoJobID, pollCfg)
	if err != nil {
		return err
	}
	videoURL, err := MirrorToMinIO(videoJob.Output.URL,
		fmt.Sprintf("tasks/%s/shots/%d/video.mp4", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("mirror video failed: %w", err)
	}
	shot.VideoURL = videoURL
	return nil
}

func (p *Processor) regenerateShotAudio(ctx context.Context, task *models.VideoTask, shot *models.Shot) error {
	jobID, err := Provider.Submit(ctx, KindVoiceover, map[string]interface{}{
		"text":     shot.VoiceoverScript,
		"language": task.ProjectData.Language,
	}, fmt.Sprintf("regen-audio:%s:%d:%s", task.ID, shot.Order, shot.VoiceoverScript))
	if err != nil {
		return fmt.Errorf("submit voiceover job failed: %w", err)
	}
	job, err := Provider.Await(ctx, jobID, DefaultPollConfig())
	if err != nil {
		return err
	}
	voURL, err := MirrorToMinIO(job.Output.URL,
		fmt.Sprintf("tasks/%s/shots/%d/audio.mp3", task.ID, shot.Order))
	if err != nil {
		return fmt.Errorf("mirror voiceover failed: %w", err)
	}
	shot.VoiceoverURL = voURL
	return nil
}

// ============================================================================
// 单媒体任务：视频 / 音频（配音或音乐） / 图片
// ============================================================================

func (p *Processor) HandleSingleGen(ctx context.Context, t *asynq.Task) error {
	var payload SinglePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := models.GetSingleTaskByID(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("single task not found: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing SingleGenerationTask: %s | Type: %s", task.ID, task.Type)

	pollCtx, cancel := context.WithCancel(ctx)
	RegisterPollCancel(task.ID, cancel)
	defer UnregisterPollCancel(task.ID)

	url, err := p.runSingleGeneration(pollCtx, task)
	if err != nil {
		log.Printf("single generation failed (%s): %v", task.ID, err)
		task.Fail(p.DB, err.Error())
		return nil
	}

	task.Finish(p.DB, url)
	log.Printf("SingleGenerationTask %s completed", task.ID)
	return nil
}

func (p *Processor) runSingleGeneration(ctx context.Context, task *models.SingleGenerationTask) (string, error) {
	req := task.RequestData
	pollCfg := DefaultPollConfig()

	switch task.Type {
	case models.SingleTypeImage:
		jobID, err := Provider.Submit(ctx, KindImage, map[string]interface{}{
			"prompt": req.Prompt,
			"style":  req.Style,
		}, "single:"+task.ID)
		if err != nil {
			return "", err
		}
		job, err := Provider.Await(ctx, jobID, pollCfg)
		if err != nil {
			return "", err
		}
		return MirrorToMinIO(job.Output.URL, fmt.Sprintf("singles/%s/image.png", task.ID))

	case models.SingleTypeVideo:
		imageJobID, err := Provider.Submit(ctx, KindImage, map[string]interface{}{
			"prompt": req.Prompt,
			"style":  req.Style,
		}, "single-image:"+task.ID)
		if err != nil {
			return "", err
		}
		imageJob, err := Provider.Await(ctx, imageJobID, pollCfg)
		if err != nil {
			return "", err
		}
		videoJobID, err := Provider.Submit(ctx, KindVideo, map[string]interface{}{
			"prompt":    req.Prompt,
			"image_url": imageJob.Output.URL,
			"style":     req.Style,
		}, "single-video:"+task.ID)
		if err != nil {
			return "", err
		}
		videoJob, err := Provider.Await(ctx, videoJobID, pollCfg)
		if err != nil {
			return "", err
		}
		return MirrorToMinIO(videoJob.Output.URL, fmt.Sprintf("singles/%s/video.mp4", task.ID))

	case models.SingleTypeAudio:
		if req.IsVoiceover {
			jobID, err := Provider.Submit(ctx, KindVoiceover, map[string]interface{}{
				"text":     req.Text,
				"language": req.Language,
			}, "single:"+task.ID)
			if err != nil {
				return "", err
			}
			job, err := Provider.Await(ctx, jobID, pollCfg)
			if err != nil {
				return "", err
			}
			// 单条配音落本地盘，由 /audios 路由直接服务
			return SaveAudioLocal(job.Output.URL)
		}
		jobID, err := Provider.Submit(ctx, KindMusic, map[string]interface{}{
			"prompt": req.Prompt,
		}, "single:"+task.ID)
		if err != nil {
			return "", err
		}
		job, err := Provider.Await(ctx, jobID, pollCfg)
		if err != nil {
			return "", err
		}
		return MirrorToMinIO(job.Output.URL, fmt.Sprintf("singles/%s/music.mp3", task.ID))

	default:
		return "", fmt.Errorf("unknown single generation type: %s", task.Type)
	}
}

// ============================================================================
// 导出：一次合成作业，FAILED 即停（不重试、直接对用户可见）
// ============================================================================

func (p *Processor) HandleExport(ctx context.Context, t *asynq.Task) error {
	var payload ExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	export, err := models.GetVideoExportByID(p.DB, payload.ExportID)
	if err != nil {
		return fmt.Errorf("export not found: %v: %w", err, asynq.SkipRetry)
	}

	// 已终态的导出（被更新的请求 supersede 后标了 FAILED 等）直接丢弃，
	// 不得复活为 EXPORTING
	if models.IsTerminalExportStatus(export.Status) {
		log.Printf("export %s already %s, skipping", export.ID, export.Status)
		return nil
	}

	log.Printf("Processing VideoExport: %s (video %s)", export.ID, export.VideoID)
	export.UpdateStatus(p.DB, models.ExportStatusExporting, "")

	pollCtx, cancel := context.WithCancel(ctx)
	pollKey := "export#" + export.ID
	RegisterPollCancel(pollKey, cancel)
	defer UnregisterPollCancel(pollKey)

	jobID, err := Provider.Submit(pollCtx, KindCompose, map[string]interface{}{
		"tracks": export.Tracks,
	}, "export:"+export.ID)
	if err != nil {
		export.UpdateStatus(p.DB, models.ExportStatusFailed, fmt.Sprintf("Submit compose job failed: %v", err))
		return nil
	}

	job, err := Provider.Await(pollCtx, jobID, DefaultPollConfig())
	if err != nil {
		// 导出失败终止轮询并把错误暴露给用户
		export.UpdateStatus(p.DB, models.ExportStatusFailed, err.Error())
		return nil
	}

	videoURL, err := MirrorToMinIO(job.Output.URL, fmt.Sprintf("exports/%s/final.mp4", export.ID))
	if err != nil {
		export.UpdateStatus(p.DB, models.ExportStatusFailed, fmt.Sprintf("Mirror export failed: %v", err))
		return nil
	}

	thumbnailURL := ""
	if job.Output.ThumbnailURL != "" {
		thumbnailURL, err = MirrorToMinIO(job.Output.ThumbnailURL, fmt.Sprintf("exports/%s/thumbnail.png", export.ID))
		if err != nil {
			log.Printf("mirror thumbnail failed (non-fatal): %v", err)
			thumbnailURL = job.Output.ThumbnailURL
		}
	}

	export.Finish(p.DB, videoURL, thumbnailURL)
	log.Printf("VideoExport %s completed successfully", export.ID)
	return nil
}
