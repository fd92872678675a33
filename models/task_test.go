package models

import (
	"testing"
)

func TestNormalizeShotOrderContiguous(t *testing.T) {
	shots := ShotList{
		{Order: 5, AIPrompt: "c"},
		{Order: 0, AIPrompt: "a"},
		{Order: 2, AIPrompt: "b"},
	}

	shots = NormalizeShotOrder(shots)

	wantPrompts := []string{"a", "b", "c"}
	for i, s := range shots {
		if s.Order != i {
			t.Fatalf("shot %d has order %d, orders must be contiguous 0..N-1", i, s.Order)
		}
		if s.AIPrompt != wantPrompts[i] {
			t.Fatalf("shot %d is %q, want %q (relative order must be kept)", i, s.AIPrompt, wantPrompts[i])
		}
	}
}

func TestNormalizeShotOrderTimestamps(t *testing.T) {
	shots := NormalizeShotOrder(make(ShotList, 14))

	cases := map[int]string{
		0:  "0:00-0:05",
		1:  "0:05-0:10",
		11: "0:55-1:00",
		12: "1:00-1:05",
		13: "1:05-1:10",
	}
	for i, want := range cases {
		if shots[i].Timestamp != want {
			t.Errorf("shot %d timestamp %q, want %q", i, shots[i].Timestamp, want)
		}
	}
}

func TestNormalizeShotOrderStable(t *testing.T) {
	// 重复 order（并发写坏的情况）也要归一化，保持稳定顺序
	shots := ShotList{
		{Order: 1, AIPrompt: "first-of-1"},
		{Order: 1, AIPrompt: "second-of-1"},
		{Order: 0, AIPrompt: "zero"},
	}

	shots = NormalizeShotOrder(shots)
	if shots[0].AIPrompt != "zero" || shots[1].AIPrompt != "first-of-1" || shots[2].AIPrompt != "second-of-1" {
		t.Fatalf("unexpected order after normalization: %+v", shots)
	}
	for i := range shots {
		if shots[i].Order != i {
			t.Fatalf("shot %d has order %d", i, shots[i].Order)
		}
	}
}

func TestShotByOrder(t *testing.T) {
	shots := NormalizeShotOrder(make(ShotList, 3))

	idx, ok := shots.ShotByOrder(1)
	if !ok || idx != 1 {
		t.Fatalf("ShotByOrder(1) = %d, %v", idx, ok)
	}
	if _, ok := shots.ShotByOrder(9); ok {
		t.Fatal("ShotByOrder(9) should miss")
	}
	if _, ok := shots.ShotByOrder(-1); ok {
		t.Fatal("ShotByOrder(-1) should miss")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := []string{TaskStatusCompleted, TaskStatusFailed}
	for _, s := range terminal {
		if !IsTerminalStatus(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	running := []string{TaskStatusQueued, TaskStatusGeneratingScript, TaskStatusGeneratingMedia}
	for _, s := range running {
		if IsTerminalStatus(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidVideoStyle(t *testing.T) {
	for _, s := range []string{"realistic", "anime", "pixel_art", "comic_book"} {
		if !ValidVideoStyle(s) {
			t.Errorf("style %q should be valid", s)
		}
	}
	for _, s := range []string{"", "photoreal", "REALISTIC"} {
		if ValidVideoStyle(s) {
			t.Errorf("style %q should be rejected", s)
		}
	}
}

func TestShotListRoundTrip(t *testing.T) {
	shots := ShotList{{Order: 0, AIPrompt: "scene", Captions: []string{"hi"}}}

	v, err := shots.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var decoded ShotList
	if err := decoded.Scan(v.([]byte)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(decoded) != 1 || decoded[0].AIPrompt != "scene" || decoded[0].Captions[0] != "hi" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	// nil 列表写库时应当存 [] 而不是 null
	var empty ShotList
	v, err = empty.Value()
	if err != nil {
		t.Fatalf("Value(nil): %v", err)
	}
	if string(v.([]byte)) != "[]" {
		t.Fatalf("nil ShotList should serialize as [], got %s", v.([]byte))
	}
}
