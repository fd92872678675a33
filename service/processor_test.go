package service

import (
	"testing"

	"ReelForge-server/models"
)

// 同一分镜的视频/音频再生成可以并行（in-flight 注册表按组件互斥），
// 后落库的一方不能用自己的旧快照覆盖先落库一方的产物，
// 也不能覆盖期间同步落库的字幕编辑
func TestMergeShotComponentsInterleaved(t *testing.T) {
	base := models.Shot{
		Order:           2,
		AIPrompt:        "sunset over the bay",
		VoiceoverScript: "hello",
		Captions:        []string{"old caption"},
		VideoStatus:     models.ShotStateRegenerating,
		AudioStatus:     models.ShotStateRegenerating,
	}

	// 两个任务在开始时各拿一份快照
	videoSnap := base
	audioSnap := base

	videoSnap.StartingImageURL = "http://cdn/img.png"
	videoSnap.VideoURL = "http://cdn/new-video.mp4"
	videoSnap.VideoStatus = models.ShotStateCompleted

	audioSnap.VoiceoverURL = "http://cdn/new-voice.mp3"
	audioSnap.AudioStatus = models.ShotStateCompleted

	// 视频任务先落库，随后用户编辑了字幕
	current := base
	mergeShotComponents(&current, videoSnap, true, false)
	current.Captions = []string{"edited caption"}

	// 音频任务后落库，只应合并音频字段
	mergeShotComponents(&current, audioSnap, false, true)

	if current.VideoURL != "http://cdn/new-video.mp4" || current.VideoStatus != models.ShotStateCompleted {
		t.Fatalf("audio merge clobbered video fields: %+v", current)
	}
	if current.StartingImageURL != "http://cdn/img.png" {
		t.Fatalf("starting image lost: %q", current.StartingImageURL)
	}
	if current.VoiceoverURL != "http://cdn/new-voice.mp3" || current.AudioStatus != models.ShotStateCompleted {
		t.Fatalf("audio fields not merged: %+v", current)
	}
	if len(current.Captions) != 1 || current.Captions[0] != "edited caption" {
		t.Fatalf("caption edit reverted: %v", current.Captions)
	}
}

func TestMergeShotComponentsLeavesOtherComponentAlone(t *testing.T) {
	dst := models.Shot{
		Order:        0,
		VideoURL:     "http://cdn/keep.mp4",
		VideoStatus:  models.ShotStateCompleted,
		VoiceoverURL: "http://cdn/keep.mp3",
		AudioStatus:  models.ShotStateCompleted,
	}
	src := models.Shot{
		Order:        0,
		VideoURL:     "",
		VideoStatus:  models.ShotStateRegenerating,
		VoiceoverURL: "http://cdn/new.mp3",
		AudioStatus:  models.ShotStateFailed,
	}

	mergeShotComponents(&dst, src, false, true)

	if dst.VideoURL != "http://cdn/keep.mp4" || dst.VideoStatus != models.ShotStateCompleted {
		t.Fatalf("video fields changed by audio-only merge: %+v", dst)
	}
	if dst.VoiceoverURL != "http://cdn/new.mp3" || dst.AudioStatus != models.ShotStateFailed {
		t.Fatalf("audio fields not applied: %+v", dst)
	}
}
