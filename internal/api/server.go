package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"a2a-agent/internal/credential"
	"a2a-agent/internal/observability/metrics"
	"a2a-agent/internal/rpc"
	"a2a-agent/internal/task"
	"a2a-agent/pkg/logger"
)

// maxBodyBytes 限制 RPC 请求体大小。
const maxBodyBytes = 1 << 20

// Dispatcher 处理原始 JSON-RPC 请求体，由 rpc.Dispatcher 实现。
type Dispatcher interface {
	DispatchBytes(ctx context.Context, caller credential.Credential, body []byte) rpc.Response
}

// Authenticator 根据请求头识别调用方，由 credential.Store 实现。
type Authenticator interface {
	AuthenticateRequest(ctx context.Context, apiKeyHeader, authorization string) (*credential.Credential, error)
}

// Server 负责暴露 HTTP 接口。
type Server struct {
	addr        string
	dispatcher  Dispatcher
	registry    *task.Registry
	auth        Authenticator
	limiter     *callerLimiter
	corsOrigins []string
	upgrader    websocket.Upgrader
	now         func() time.Time
	logger      *slog.Logger
	engine      *gin.Engine
}

// Option 定义可选配置。
type Option func(*Server)

// WithCORSOrigins 指定允许的跨域来源，为空时允许任意来源。
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = append([]string(nil), origins...)
	}
}

// WithRateLimit 为每个调用方启用令牌桶限流，rps <= 0 时关闭。
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.limiter = newCallerLimiter(rps, burst)
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, dispatcher Dispatcher, registry *task.Registry, auth Authenticator, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		dispatcher: dispatcher,
		registry:   registry,
		auth:       auth,
		now:        time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	s.engine = s.routes()
	return s
}

// Handler 返回完整的 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery(), s.observe())
	g.Use(cors.New(s.corsConfig()))

	g.GET("/health", s.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	secured := g.Group("/")
	secured.Use(s.requireCaller(), s.rateLimit())
	{
		secured.POST("/rpc", s.handleRPC)
		secured.GET("/tasks/:id", s.handleTask)
		secured.GET("/tasks/:id/stream", s.handleStream)
		secured.GET("/tasks/:id/ws", s.handleWebSocket)
	}
	return g
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", apiKeyHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.corsOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.corsOrigins
	}
	return cfg
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
