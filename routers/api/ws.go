package api

import (
	"net/http"
	"time"

	"ReelForge-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 连续查不到任务这么多次即认为任务已被删除，结束推送
const taskGoneLimit = 3

// progressConn 推送循环用到的连接子集，抽出接口便于不起真连接测试
type progressConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
}

// streamTaskProgress 任务进度推送循环（以数据库为来源：先推一次当前状态，
// 然后按 interval 查询并在变化时推送）。任务到终态、任务被删除或客户端
// 断开时结束。外部 Provider 轮询并写回 DB 的逻辑由处理器负责，这里只订阅并推送。
func streamTaskProgress(conn progressConn, fetch func() (*models.VideoTask, error), interval time.Duration) {
	task, err := fetch()
	if err != nil {
		_ = conn.WriteJSON(map[string]interface{}{"error": "task not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(task)

	if models.IsTerminalStatus(task.Status) {
		return
	}

	// 读协程只为感知客户端断开
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prevStatus := task.Status
	prevProgress := task.Progress
	misses := 0

	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
		}

		cur, err := fetch()
		if err != nil {
			misses++
			if misses >= taskGoneLimit {
				_ = conn.WriteJSON(map[string]interface{}{"error": "task no longer exists"})
				return
			}
			continue
		}
		misses = 0

		if cur.Status != prevStatus || cur.Progress != prevProgress {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			prevStatus = cur.Status
			prevProgress = cur.Progress
		}

		if models.IsTerminalStatus(cur.Status) {
			_ = conn.WriteJSON(cur)
			return
		}
	}
}

func TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	streamTaskProgress(conn, func() (*models.VideoTask, error) {
		return models.GetVideoTaskByID(models.GormDB, taskID)
	}, time.Second)
}
