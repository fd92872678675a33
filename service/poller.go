package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"ReelForge-server/config"
)

// 轮询控制器：对一个 in-flight 作业按固定间隔查询状态，
// 到达终态（COMPLETED / FAILED）即停止。
//
// 抓取失败不会终止循环（记日志、按指数退避等到下一轮重试），
// 退避有上限，整体有 deadline，避免对死掉的 Provider 无限紧轮询。

type PollConfig struct {
	Interval    time.Duration // 基础轮询间隔
	MaxInterval time.Duration // 连续失败时退避的上限
	Timeout     time.Duration // 整体超时，0 表示不限制
}

func DefaultPollConfig() PollConfig {
	cfg := config.AppConfig
	if cfg == nil {
		return PollConfig{Interval: 3 * time.Second, MaxInterval: 30 * time.Second, Timeout: 30 * time.Minute}
	}
	return PollConfig{
		Interval:    time.Duration(cfg.Poll.IntervalSeconds) * time.Second,
		MaxInterval: time.Duration(cfg.Poll.MaxIntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.Poll.TimeoutMinutes) * time.Minute,
	}
}

type fetchFunc func(ctx context.Context) (*Job, error)

// awaitJob 轮询主循环。fetch 单独抽出来便于测试。
func awaitJob(ctx context.Context, fetch fetchFunc, cfg PollConfig) (*Job, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	delay := cfg.Interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling stopped: %w", ctx.Err())
		case <-timer.C:
		}

		job, err := fetch(ctx)
		if err != nil {
			// 瞬时失败：退避后继续
			log.Printf("[poll] fetch failed (retrying): %v", err)
			delay *= 2
			if delay > cfg.MaxInterval {
				delay = cfg.MaxInterval
			}
			timer.Reset(delay)
			continue
		}
		// 成功一次即重置退避
		delay = cfg.Interval

		switch job.State() {
		case JobCompleted:
			return job, nil
		case JobFailed:
			msg := job.Error
			if msg == "" {
				msg = job.Status
			}
			return job, fmt.Errorf("provider reported failure: %s", msg)
		}
		timer.Reset(delay)
	}
}

// Await 轮询 jobID 直到终态。
// 本侧被取消（删任务等）时尽力清理 Provider 侧作业，避免孤儿作业继续跑。
func (c *ProviderClient) Await(ctx context.Context, jobID string, cfg PollConfig) (*Job, error) {
	job, err := awaitJob(ctx, func(ctx context.Context) (*Job, error) {
		return c.Job(ctx, jobID)
	}, cfg)
	if err != nil && errors.Is(err, context.Canceled) {
		go func() {
			if cerr := c.Cancel(jobID); cerr != nil {
				log.Printf("[poll] cancel provider job %s failed: %v", jobID, cerr)
			}
		}()
	}
	return job, err
}

// ----------------------------------------------------------------------------
// poll 取消注册表（taskID -> cancelFunc）：删除/更新任务时停止其轮询
// ----------------------------------------------------------------------------

var pollCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

// RegisterPollCancel 注册轮询的 cancelFunc（处理器在开始轮询前调用）
func RegisterPollCancel(taskID string, cancel context.CancelFunc) {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	pollCancelRegistry.m[taskID] = cancel
}

// UnregisterPollCancel 轮询结束或任务完成时注销
func UnregisterPollCancel(taskID string) {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	delete(pollCancelRegistry.m, taskID)
}

// CancelPollTask 外部调用以取消正在轮询的任务，返回是否实际找到并取消
func CancelPollTask(taskID string) bool {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	if cancel, ok := pollCancelRegistry.m[taskID]; ok {
		cancel()
		delete(pollCancelRegistry.m, taskID)
		return true
	}
	return false
}

// CancelPollsByPrefix 取消所有 key 以 prefix 开头的轮询（删任务时连带停掉
// "taskID#shotN" 这类分镜级轮询），返回取消的数量
func CancelPollsByPrefix(prefix string) int {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	n := 0
	for key, cancel := range pollCancelRegistry.m {
		if strings.HasPrefix(key, prefix) {
			cancel()
			delete(pollCancelRegistry.m, key)
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// 分镜级 in-flight 注册表：同一分镜同一组件同时只允许一个再生成。
// key: taskID:order:component
// ----------------------------------------------------------------------------

var regenInflight = struct {
	sync.Mutex
	m map[string]bool
}{
	m: make(map[string]bool),
}

func RegenKey(taskID string, order int, component string) string {
	return fmt.Sprintf("%s:%d:%s", taskID, order, component)
}

// TryBeginRegen 占用分镜组件，已有在途再生成时返回 false
func TryBeginRegen(key string) bool {
	regenInflight.Lock()
	defer regenInflight.Unlock()
	if regenInflight.m[key] {
		return false
	}
	regenInflight.m[key] = true
	return true
}

func EndRegen(key string) {
	regenInflight.Lock()
	defer regenInflight.Unlock()
	delete(regenInflight.m, key)
}
