package api

import (
	"testing"

	"ReelForge-server/models"
)

func TestRollbackRegenStates(t *testing.T) {
	orig := models.Shot{
		Order:       1,
		VideoStatus: models.ShotStateCompleted,
		AudioStatus: models.ShotStateFailed,
	}
	shot := orig
	shot.VideoStatus = models.ShotStateRegenerating
	shot.AudioStatus = models.ShotStateRegenerating

	rollbackRegenStates(&shot, orig, true, false)
	if shot.VideoStatus != models.ShotStateCompleted {
		t.Fatalf("video status not restored: %q", shot.VideoStatus)
	}
	if shot.AudioStatus != models.ShotStateRegenerating {
		t.Fatalf("audio status must stay untouched on a video-only rollback: %q", shot.AudioStatus)
	}

	rollbackRegenStates(&shot, orig, false, true)
	if shot.AudioStatus != models.ShotStateFailed {
		t.Fatalf("audio status not restored: %q", shot.AudioStatus)
	}
}
