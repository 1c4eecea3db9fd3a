// Package api 通过 gin 暴露 HTTP 入口：JSON-RPC 端点、任务状态查询、
// SSE 与 WebSocket 状态流，以及健康检查和指标。
package api
