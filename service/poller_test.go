package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastPollConfig() PollConfig {
	return PollConfig{
		Interval:    time.Millisecond,
		MaxInterval: 4 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestAwaitJobStopsOnCompleted(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (*Job, error) {
		calls++
		if calls < 3 {
			return &Job{ID: "j1", Status: "IN_PROGRESS"}, nil
		}
		return &Job{ID: "j1", Status: "COMPLETED", Output: JobOutput{URL: "http://x/video.mp4"}}, nil
	}

	job, err := awaitJob(context.Background(), fetch, fastPollConfig())
	if err != nil {
		t.Fatalf("awaitJob returned error: %v", err)
	}
	if job.Output.URL != "http://x/video.mp4" {
		t.Fatalf("unexpected output url: %q", job.Output.URL)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 fetches, got %d", calls)
	}
}

func TestAwaitJobStopsOnFailed(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (*Job, error) {
		calls++
		return &Job{ID: "j1", Status: "FAILED", Error: "gpu quota exceeded"}, nil
	}

	_, err := awaitJob(context.Background(), fetch, fastPollConfig())
	if err == nil {
		t.Fatal("expected error for failed job")
	}
	if !strings.Contains(err.Error(), "gpu quota exceeded") {
		t.Fatalf("error should carry provider message, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("polling must stop at terminal status, got %d fetches", calls)
	}
}

func TestAwaitJobSurvivesTransientErrors(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (*Job, error) {
		calls++
		if calls <= 4 {
			return nil, errors.New("connection refused")
		}
		return &Job{ID: "j1", Status: "finished"}, nil
	}

	job, err := awaitJob(context.Background(), fetch, fastPollConfig())
	if err != nil {
		t.Fatalf("transient fetch errors must not terminate polling: %v", err)
	}
	if job.State() != JobCompleted {
		t.Fatalf("expected completed job, got status %q", job.Status)
	}
	if calls != 5 {
		t.Fatalf("expected 5 fetches (4 failures + 1 success), got %d", calls)
	}
}

func TestAwaitJobBackoffIsBounded(t *testing.T) {
	cfg := PollConfig{
		Interval:    time.Millisecond,
		MaxInterval: 8 * time.Millisecond,
		Timeout:     2 * time.Second,
	}

	var gaps []time.Duration
	last := time.Now()
	calls := 0
	fetch := func(ctx context.Context) (*Job, error) {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		calls++
		if calls <= 8 {
			return nil, errors.New("provider down")
		}
		return &Job{Status: "COMPLETED"}, nil
	}

	if _, err := awaitJob(context.Background(), fetch, cfg); err != nil {
		t.Fatalf("awaitJob returned error: %v", err)
	}
	// 首个 gap 是基础间隔；之后即使连续失败，间隔也不得超过上限（留一点调度余量）
	slack := 150 * time.Millisecond
	for i, gap := range gaps {
		if gap > cfg.MaxInterval+slack {
			t.Fatalf("gap %d exceeded max interval: %v", i, gap)
		}
	}
}

func TestAwaitJobHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fetch := func(ctx context.Context) (*Job, error) {
		return &Job{Status: "IN_PROGRESS"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := awaitJob(ctx, fetch, PollConfig{Interval: time.Millisecond, MaxInterval: time.Millisecond})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("awaitJob did not stop after cancel")
	}
}

func TestAwaitJobHonorsTimeout(t *testing.T) {
	fetch := func(ctx context.Context) (*Job, error) {
		return &Job{Status: "IN_PROGRESS"}, nil
	}

	_, err := awaitJob(context.Background(), fetch, PollConfig{
		Interval:    time.Millisecond,
		MaxInterval: time.Millisecond,
		Timeout:     20 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got: %v", err)
	}
}

func TestPollCancelRegistry(t *testing.T) {
	cancelled := false
	RegisterPollCancel("task-1", func() { cancelled = true })

	if !CancelPollTask("task-1") {
		t.Fatal("expected CancelPollTask to find registered task")
	}
	if !cancelled {
		t.Fatal("cancel func was not invoked")
	}
	// 第二次取消应当找不到
	if CancelPollTask("task-1") {
		t.Fatal("task should be unregistered after cancel")
	}
}

func TestCancelPollsByPrefix(t *testing.T) {
	hits := make(map[string]bool)
	RegisterPollCancel("task-2", func() { hits["task-2"] = true })
	RegisterPollCancel("task-2#shot0", func() { hits["task-2#shot0"] = true })
	RegisterPollCancel("task-2#shot3", func() { hits["task-2#shot3"] = true })
	RegisterPollCancel("task-20#shot0", func() { hits["task-20#shot0"] = true })

	if n := CancelPollsByPrefix("task-2#"); n != 2 {
		t.Fatalf("expected 2 prefix cancellations, got %d", n)
	}
	if !hits["task-2#shot0"] || !hits["task-2#shot3"] {
		t.Fatal("shot-level cancel funcs were not invoked")
	}
	if hits["task-2"] || hits["task-20#shot0"] {
		t.Fatal("prefix cancel hit an unrelated key")
	}

	UnregisterPollCancel("task-2")
	UnregisterPollCancel("task-20#shot0")
}

func TestRegenInflightRegistry(t *testing.T) {
	key := RegenKey("task-1", 2, "video")
	if !TryBeginRegen(key) {
		t.Fatal("first acquire should succeed")
	}
	if TryBeginRegen(key) {
		t.Fatal("second acquire must be rejected while in flight")
	}
	// 其他组件不受影响
	if !TryBeginRegen(RegenKey("task-1", 2, "audio")) {
		t.Fatal("audio component should be independent of video")
	}
	EndRegen(key)
	if !TryBeginRegen(key) {
		t.Fatal("acquire should succeed again after EndRegen")
	}
	EndRegen(key)
	EndRegen(RegenKey("task-1", 2, "audio"))
}
