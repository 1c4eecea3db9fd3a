package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"a2a-agent/internal/credential"
	xerrors "a2a-agent/internal/errors"
	"a2a-agent/pkg/logger"
)

// Config 描述了 a2a-agentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     logger.Config     `yaml:"logging"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Queue       QueueConfig       `yaml:"queue"`
	LLM         LLMConfig         `yaml:"llm"`
	Router      RouterConfig      `yaml:"router"`
	Alerting    AlertingConfig    `yaml:"alerting"`
}

// ServerConfig 控制 HTTP 服务的监听地址等参数。
type ServerConfig struct {
	Address     string          `yaml:"address"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig 是每个调用方的令牌桶参数，rps 为 0 时关闭限流。
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CredentialsConfig 汇总凭证来源，多个来源会被合并。
type CredentialsConfig struct {
	File   string                  `yaml:"file"`
	Inline []credential.Credential `yaml:"inline"`
	MySQL  MySQLConfig             `yaml:"mysql"`
	JWT    JWTConfig               `yaml:"jwt"`
}

// MySQLConfig 描述从 MySQL 读取凭证的方式。DSN 为空时不启用。
type MySQLConfig struct {
	DSN                    string `yaml:"dsn"`
	DSNEnv                 string `yaml:"dsn_env"`
	Table                  string `yaml:"table"`
	AutoMigrate            bool   `yaml:"auto_migrate"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (c MySQLConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最长空闲时间。
func (c MySQLConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// JWTConfig 启用 Bearer JWT 认证。
type JWTConfig struct {
	Secret    string `yaml:"secret"`
	SecretEnv string `yaml:"secret_env"`
	Issuer    string `yaml:"issuer"`
}

// QueueConfig 描述异步任务的派发方式。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Instance string         `yaml:"instance"`
	Workers  int            `yaml:"workers"`
	Size     int            `yaml:"size"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 是 Redis 队列配置。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	PasswordEnv      string `yaml:"password_env"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 队列配置。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	URLEnv     string `yaml:"url_env"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LLMConfig 选择能力的实现方式。
type LLMConfig struct {
	Provider      string         `yaml:"provider"`
	MockLatencyMS int            `yaml:"mock_latency_ms"`
	Gemini        ProviderConfig `yaml:"gemini"`
	OpenAI        ProviderConfig `yaml:"openai"`
}

// ProviderConfig 是单个大模型服务的连接参数。
type ProviderConfig struct {
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Retries        int     `yaml:"retries"`
}

// Timeout 返回单次请求的超时时间。
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// RouterConfig 是能力路由的参数。
type RouterConfig struct {
	HardTimeoutSeconds int `yaml:"hard_timeout_seconds"`
}

// HardTimeout 返回能力调用的硬超时。
func (r RouterConfig) HardTimeout() time.Duration {
	return time.Duration(r.HardTimeoutSeconds) * time.Second
}

// AlertingConfig 描述能力失败时的告警渠道。
type AlertingConfig struct {
	Log      bool            `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig 是单个 webhook 渠道。kind 取 webhook、dingtalk 或 slack。
type WebhookConfig struct {
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`
	Kind   string `yaml:"kind"`
}

// 支持的驱动与服务名。
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"

	ProviderMock   = "mock"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Load 负责解析指定路径的 YAML 配置文件。path 为空时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		cfg.applyDefaults("")
		cfg.resolveSecrets()
		return cfg, cfg.Validate()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse 解析 YAML 内容，baseDir 用于解析相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParams, err, "解析配置失败")
	}
	cfg.applyDefaults(baseDir)
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RPS) + 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "a2a-agent"
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path, "logs/audit.log")
	}

	if c.Credentials.File != "" {
		c.Credentials.File = resolvePath(baseDir, c.Credentials.File, "")
	}
	if c.Credentials.JWT.Issuer == "" {
		c.Credentials.JWT.Issuer = "a2a-agent"
	}

	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueMemory
	}
	if c.Queue.Instance == "" && c.Queue.Driver != QueueMemory {
		// 外部 broker 上的队列按实例隔离，任务状态只存在于本进程。
		if host, err := os.Hostname(); err == nil {
			c.Queue.Instance = host
		}
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 1024
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderMock
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.5-flash"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	for _, p := range []*ProviderConfig{&c.LLM.Gemini, &c.LLM.OpenAI} {
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 30
		}
	}

	if c.Router.HardTimeoutSeconds <= 0 {
		c.Router.HardTimeoutSeconds = 60
	}
}

// resolveSecrets 用环境变量补齐未直接写在文件中的密钥。
func (c *Config) resolveSecrets() {
	fromEnv(&c.Credentials.JWT.Secret, c.Credentials.JWT.SecretEnv)
	fromEnv(&c.Credentials.MySQL.DSN, c.Credentials.MySQL.DSNEnv)
	fromEnv(&c.Queue.Redis.Password, c.Queue.Redis.PasswordEnv)
	fromEnv(&c.Queue.RabbitMQ.URL, c.Queue.RabbitMQ.URLEnv)
	fromEnv(&c.LLM.Gemini.APIKey, c.LLM.Gemini.APIKeyEnv)
	fromEnv(&c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	for i := range c.Alerting.Webhooks {
		fromEnv(&c.Alerting.Webhooks[i].URL, c.Alerting.Webhooks[i].URLEnv)
	}
}

// Validate 检查驱动名与必填字段。
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.Redis.Address == "" {
			return xerrors.New(xerrors.CodeInvalidParams, "queue.redis.address is required for the redis driver")
		}
	case QueueRabbitMQ:
		if c.Queue.RabbitMQ.URL == "" {
			return xerrors.New(xerrors.CodeInvalidParams, "queue.rabbitmq.url is required for the rabbitmq driver")
		}
	default:
		return xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("unknown queue driver %q", c.Queue.Driver))
	}

	switch c.LLM.Provider {
	case ProviderMock:
	case ProviderGemini:
		if c.LLM.Gemini.APIKey == "" {
			return xerrors.New(xerrors.CodeInvalidParams, "gemini provider requires api_key or api_key_env")
		}
	case ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			return xerrors.New(xerrors.CodeInvalidParams, "openai provider requires api_key or api_key_env")
		}
	default:
		return xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}

	for i, hook := range c.Alerting.Webhooks {
		switch strings.ToLower(hook.Kind) {
		case "", "webhook", "dingtalk", "slack":
		default:
			return xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("alerting.webhooks[%d]: unknown kind %q", i, hook.Kind))
		}
	}
	return nil
}

func fromEnv(dst *string, env string) {
	if strings.TrimSpace(*dst) != "" || env == "" {
		return
	}
	*dst = strings.TrimSpace(os.Getenv(env))
}

func resolvePath(baseDir, path, def string) string {
	if path == "" {
		path = def
	}
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
