package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aquant/internal/backtest"
	"aquant/internal/logger"
	"aquant/internal/optimizer"
)

// RunEvent 回测运行状态事件，通过 WebSocket 推送给订阅者
type RunEvent struct {
	RunID  string                       `json:"run_id"`
	Status string                       `json:"status"`
	Report *backtest.PerformanceReport  `json:"report,omitempty"`
	Error  string                       `json:"error,omitempty"`
}

// Message represents a WebSocket message envelope.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// ProgressHub fans run lifecycle events out to WebSocket subscribers.
// Publishing never blocks: slow subscribers drop events.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan RunEvent]struct{} // run_id -> subscribers
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string]map[chan RunEvent]struct{})}
}

// Subscribe registers interest in one run's events.
func (h *ProgressHub) Subscribe(runID string) chan RunEvent {
	ch := make(chan RunEvent, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan RunEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *ProgressHub) Unsubscribe(runID string, ch chan RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[runID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, runID)
		}
	}
}

// Publish delivers an event to every subscriber of the run.
func (h *ProgressHub) Publish(runID string, event RunEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[runID] {
		select {
		case ch <- event:
		default:
			// 订阅者消费过慢，丢弃事件而不是阻塞引擎
		}
	}
}

// WebSocketHandler handles WebSocket connections for run and sweep progress.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *ProgressHub
	sweeper  *optimizer.Sweeper
}

// NewWebSocketHandler creates the WebSocket handler.
func NewWebSocketHandler(hub *ProgressHub, sweeper *optimizer.Sweeper) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hub:     hub,
		sweeper: sweeper,
	}
}

// RunStream streams lifecycle events for one backtest run until it reaches a
// terminal status or the client disconnects.
func (h *WebSocketHandler) RunStream(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "run id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	events := h.hub.Subscribe(runID)
	defer h.hub.Unsubscribe(runID, events)

	go discardReads(conn)

	if err := writeMessage(conn, "connected", gin.H{"run_id": runID}); err != nil {
		return
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeMessage(conn, "run_event", event); err != nil {
				return
			}
			if event.Status == "completed" || event.Status == "failed" {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SweepStream streams progress snapshots for one sweep job on a fixed
// interval until the job finishes.
func (h *WebSocketHandler) SweepStream(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "sweep job id is required"})
		return
	}
	if _, err := h.sweeper.Job(jobID); err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	go discardReads(conn)

	if err := writeMessage(conn, "connected", gin.H{"job_id": jobID}); err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		job, err := h.sweeper.Job(jobID)
		if err != nil {
			writeMessage(conn, "error", gin.H{"error": err.Error()})
			return
		}

		// 结果集可能很大，进度帧只携带计数
		snapshot := gin.H{
			"job_id":    job.ID,
			"status":    job.Status,
			"total":     job.Total,
			"completed": job.Completed,
			"failed":    job.Failed,
		}
		if err := writeMessage(conn, "sweep_progress", snapshot); err != nil {
			return
		}

		switch job.Status {
		case optimizer.JobCompleted, optimizer.JobFailed, optimizer.JobCanceled:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msgType string, data interface{}) error {
	msg := Message{Type: msgType, Data: data, Time: time.Now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// discardReads drains the connection so pong frames and client closes are
// processed.
func discardReads(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(time.Hour))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(time.Hour))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
