package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"a2a-agent/internal/rpc"
	"a2a-agent/internal/task"
)

const wsWriteTimeout = 5 * time.Second

// HealthResponse 是 /health 的返回体。
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Skills    []string       `json:"skills"`
	Tasks     task.TaskStats `json:"tasks"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Skills:    s.registry.Skills(),
		Tasks:     s.registry.Stats(c.Request.Context(), ""),
	})
}

func (s *Server) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, rpc.ErrorResponse(&rpc.Error{
			Code:    rpc.CodeInvalidRequest,
			Message: "Invalid Request: body too large or unreadable",
		}))
		return
	}
	resp := s.dispatcher.DispatchBytes(c.Request.Context(), callerFrom(c), body)
	c.JSON(http.StatusOK, resp)
}

// handleTask 是 tasks/get 的 REST 形式。
func (s *Server) handleTask(c *gin.Context) {
	t, err := s.registry.Get(c.Request.Context(), c.Param("id"), callerFrom(c).Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleStream 以 SSE 推送任务快照，终态快照发出后结束。
func (s *Server) handleStream(c *gin.Context) {
	events, err := s.registry.Subscribe(c.Request.Context(), c.Param("id"), callerFrom(c).Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		snapshot, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent("task", snapshot)
		return true
	})
}

// handleWebSocket 通过 WebSocket 推送任务快照。客户端发来的消息被忽略，
// 读取失败即视为断开。
func (s *Server) handleWebSocket(c *gin.Context) {
	caller := callerFrom(c)
	id := c.Param("id")
	// 先校验任务归属，避免升级后才发现无权访问。
	if _, err := s.registry.Get(c.Request.Context(), id, caller.Name); err != nil {
		s.writeError(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket 升级失败", slog.String("task_id", id), slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events, err := s.registry.Subscribe(ctx, id, caller.Name)
	if err != nil {
		_ = conn.WriteJSON(rpc.ErrorResponse(rpc.ToError(err)))
		return
	}
	for snapshot := range events {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(snapshot); err != nil {
			s.logger.Debug("WebSocket 写入失败", slog.String("task_id", id), slog.Any("error", err))
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"),
		time.Now().Add(wsWriteTimeout))
}

// writeError 把内部错误映射为 REST 状态码，响应体沿用协议错误结构。
func (s *Server) writeError(c *gin.Context, err error) {
	rpcErr := rpc.ToError(err)
	status := http.StatusInternalServerError
	switch rpcErr.Code {
	case rpc.CodeTaskNotFound:
		status = http.StatusNotFound
	case rpc.CodeForbidden:
		status = http.StatusForbidden
	case rpc.CodeInvalidParams, rpc.CodeInvalidState:
		status = http.StatusBadRequest
	case rpc.CodeInternalError:
		s.logger.Error("请求处理失败", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
	}
	c.JSON(status, rpc.ErrorResponse(rpcErr))
}
