package api

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ReelForge-server/models"
)

type fakeProgressConn struct {
	mu         sync.Mutex
	writes     []interface{}
	clientGone chan struct{}
}

func newFakeProgressConn() *fakeProgressConn {
	return &fakeProgressConn{clientGone: make(chan struct{})}
}

func (f *fakeProgressConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeProgressConn) ReadMessage() (int, []byte, error) {
	<-f.clientGone
	return 0, nil, errors.New("connection closed")
}

func (f *fakeProgressConn) lastWrite() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeProgressConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestStreamTaskProgressStopsWhenTaskDeleted(t *testing.T) {
	conn := newFakeProgressConn()
	calls := 0
	fetch := func() (*models.VideoTask, error) {
		calls++
		if calls == 1 {
			return &models.VideoTask{ID: "t1", Status: models.TaskStatusGeneratingMedia, Progress: 30}, nil
		}
		return nil, errors.New("record not found")
	}

	done := make(chan struct{})
	go func() {
		streamTaskProgress(conn, fetch, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after task disappeared")
	}

	m, ok := conn.lastWrite().(map[string]interface{})
	if !ok || m["error"] == nil {
		t.Fatalf("expected a final error frame, got %#v", conn.lastWrite())
	}
	// 初始推送 1 次 + 连续 taskGoneLimit 次查不到后结束
	if calls != 1+taskGoneLimit {
		t.Fatalf("expected %d fetches, got %d", 1+taskGoneLimit, calls)
	}
}

func TestStreamTaskProgressStopsOnClientDisconnect(t *testing.T) {
	conn := newFakeProgressConn()
	fetch := func() (*models.VideoTask, error) {
		return &models.VideoTask{ID: "t1", Status: models.TaskStatusGeneratingMedia, Progress: 30}, nil
	}

	done := make(chan struct{})
	go func() {
		streamTaskProgress(conn, fetch, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(conn.clientGone)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
}

func TestStreamTaskProgressStopsAtTerminal(t *testing.T) {
	conn := newFakeProgressConn()
	calls := 0
	fetch := func() (*models.VideoTask, error) {
		calls++
		switch calls {
		case 1:
			return &models.VideoTask{ID: "t1", Status: models.TaskStatusGeneratingMedia, Progress: 30}, nil
		case 2:
			return &models.VideoTask{ID: "t1", Status: models.TaskStatusGeneratingMedia, Progress: 60}, nil
		default:
			return &models.VideoTask{ID: "t1", Status: models.TaskStatusCompleted, Progress: 100}, nil
		}
	}

	done := make(chan struct{})
	go func() {
		streamTaskProgress(conn, fetch, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop at terminal status")
	}
	if calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", calls)
	}
	// 初始 + 进度变化 + 终态推送
	if conn.writeCount() < 3 {
		t.Fatalf("expected at least 3 pushes, got %d", conn.writeCount())
	}
}

func TestStreamTaskProgressTerminalTaskEndsImmediately(t *testing.T) {
	conn := newFakeProgressConn()
	calls := 0
	fetch := func() (*models.VideoTask, error) {
		calls++
		return &models.VideoTask{ID: "t1", Status: models.TaskStatusFailed, Progress: 0}, nil
	}

	streamTaskProgress(conn, fetch, time.Millisecond)

	if calls != 1 {
		t.Fatalf("terminal task should not enter the poll loop, got %d fetches", calls)
	}
	if conn.writeCount() != 1 {
		t.Fatalf("expected a single initial push, got %d", conn.writeCount())
	}
}
