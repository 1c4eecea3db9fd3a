package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"a2a-agent/internal/credential"
	"a2a-agent/internal/observability/metrics"
	"a2a-agent/internal/rpc"
)

const (
	apiKeyHeader = "X-API-Key"
	callerKey    = "a2a.caller"
)

// requireCaller 在分发之前完成认证，失败时返回 401 与协议错误。
func (s *Server) requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := s.auth.AuthenticateRequest(c.Request.Context(), c.GetHeader(apiKeyHeader), c.GetHeader("Authorization"))
		if err != nil {
			rpcErr := rpc.ToError(err)
			if rpcErr.Code != rpc.CodeUnauthenticated {
				rpcErr = &rpc.Error{Code: rpc.CodeUnauthenticated, Message: "authentication required"}
			}
			s.logger.Debug("请求未通过认证",
				slog.String("path", c.Request.URL.Path),
				slog.String("client_ip", c.ClientIP()),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, rpc.ErrorResponse(rpcErr))
			return
		}
		c.Set(callerKey, *cred)
		c.Request = c.Request.WithContext(credential.WithCredential(c.Request.Context(), cred))
		c.Next()
	}
}

func callerFrom(c *gin.Context) credential.Credential {
	if v, ok := c.Get(callerKey); ok {
		if cred, ok := v.(credential.Credential); ok {
			return cred
		}
	}
	return credential.Credential{}
}

// callerLimiter 为每个调用方维护一个令牌桶。
type callerLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newCallerLimiter(rps float64, burst int) *callerLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &callerLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *callerLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := callerFrom(c).Name
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rpc.ErrorResponse(&rpc.Error{
				Code:    rpc.CodeRateLimited,
				Message: "rate limit exceeded",
			}))
			return
		}
		c.Next()
	}
}

// observe 记录请求耗时指标与访问日志。
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, c.Request.Method, c.Writer.Status(), elapsed)
		s.logger.Debug("HTTP 请求",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", elapsed),
		)
	}
}
