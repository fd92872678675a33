package service

import (
	"ReelForge-server/models"
)

// 导出轨道构建：从分镜顺序确定性地生成 video / voiceover / music 轨道。
// 每个分镜固定 5 秒，order 即时间轴位置。

const ShotSlotMillis = float64(models.ShotSlotSeconds * 1000)

// MissingVideoShot 返回第一个还没有视频产物的分镜 order。
// 导出前校验用：带空 url keyframe 的合成请求没有意义。
func MissingVideoShot(shots models.ShotList) (int, bool) {
	for _, shot := range shots {
		if shot.VideoURL == "" {
			return shot.Order, true
		}
	}
	return 0, false
}

// BuildExportTracks 生成合成请求的轨道列表。
// N 个分镜 -> video/voiceover 轨各 N 个 keyframe，总时长 N*5s；
// musicURL 非空时附加一条横跨全片的 music 轨。
func BuildExportTracks(shots models.ShotList, musicURL string) models.TrackList {
	shots = models.NormalizeShotOrder(shots)

	videoTrack := models.Track{
		ID:        "video-main",
		Type:      "video",
		Keyframes: make([]models.KeyFrame, 0, len(shots)),
	}
	voiceTrack := models.Track{
		ID:        "audio-voiceover",
		Type:      "audio",
		Keyframes: make([]models.KeyFrame, 0, len(shots)),
	}

	for _, shot := range shots {
		at := float64(shot.Order) * ShotSlotMillis
		videoTrack.Keyframes = append(videoTrack.Keyframes, models.KeyFrame{
			Timestamp: at,
			Duration:  ShotSlotMillis,
			URL:       shot.VideoURL,
		})
		voiceTrack.Keyframes = append(voiceTrack.Keyframes, models.KeyFrame{
			Timestamp: at,
			Duration:  ShotSlotMillis,
			URL:       shot.VoiceoverURL,
		})
	}

	tracks := models.TrackList{videoTrack, voiceTrack}

	if musicURL != "" {
		tracks = append(tracks, models.Track{
			ID:   "audio-music",
			Type: "audio",
			Keyframes: []models.KeyFrame{{
				Timestamp: 0,
				Duration:  float64(len(shots)) * ShotSlotMillis,
				URL:       musicURL,
			}},
		})
	}

	return tracks
}
