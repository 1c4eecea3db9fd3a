package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"a2a-agent/internal/api"
	"a2a-agent/internal/capability"
	"a2a-agent/internal/config"
	"a2a-agent/internal/credential"
	"a2a-agent/internal/execution"
	"a2a-agent/internal/llm"
	"a2a-agent/internal/llm/gemini"
	"a2a-agent/internal/llm/openai"
	"a2a-agent/internal/observability/alerting"
	"a2a-agent/internal/observability/metrics"
	"a2a-agent/internal/rpc"
	"a2a-agent/internal/storage/mysql"
	"a2a-agent/internal/task"
	"a2a-agent/pkg/logger"
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("main")

	store, err := loadCredentials(ctx, cfg.Credentials)
	if err != nil {
		return err
	}

	handlers, err := createHandlers(cfg.LLM)
	if err != nil {
		return err
	}
	skills := make([]string, 0, len(handlers))
	for skill := range handlers {
		skills = append(skills, skill)
	}
	sort.Strings(skills)

	registry := task.NewRegistry(
		task.WithSkills(skills...),
		task.WithTransitionHook(func(from, to task.Status, skill string) {
			metrics.ObserveTaskTransition(string(from), string(to), skill)
		}),
	)
	router := capability.NewRouter(registry,
		capability.WithHandlers(handlers),
		capability.WithHardTimeout(cfg.Router.HardTimeout()),
		capability.WithAlertDispatcher(createAlerts(cfg.Alerting)),
	)

	queue, err := createQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	controller := execution.NewController(registry, router,
		execution.WithProducer(queue),
		execution.WithBaseContext(gctx),
	)
	worker := execution.NewWorker(controller, queue, execution.WithWorkerCount(cfg.Queue.Workers))
	dispatcher := rpc.NewDispatcher(registry, controller, router)
	server := api.NewServer(cfg.Server.Address, dispatcher, registry, store,
		api.WithCORSOrigins(cfg.Server.CORSOrigins...),
		api.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
	)

	log.Info("a2a-agentd 启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("llm", cfg.LLM.Provider),
		slog.Int("credentials", store.Len()),
		slog.String("skills", strings.Join(skills, ",")),
	)

	g.Go(func() error { return ignoreCanceled(worker.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadCredentials(ctx context.Context, cfg config.CredentialsConfig) (*credential.Store, error) {
	var sources []credential.Source
	if cfg.File != "" {
		sources = append(sources, credential.FileSource{Path: cfg.File})
	}
	if len(cfg.Inline) > 0 {
		sources = append(sources, credential.StaticSource(cfg.Inline))
	}
	if cfg.MySQL.DSN != "" {
		source, err := mysql.NewCredentialSource(mysql.Config{
			DSN:             cfg.MySQL.DSN,
			Table:           cfg.MySQL.Table,
			AutoMigrate:     cfg.MySQL.AutoMigrate,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime(),
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	if len(sources) == 0 {
		return nil, errors.New("未配置任何凭证来源")
	}
	store, err := credential.Load(ctx, sources, credential.WithJWTSecret(cfg.JWT.Secret, cfg.JWT.Issuer))
	if err != nil {
		return nil, err
	}
	if store.Len() == 0 {
		return nil, errors.New("凭证列表为空，所有请求都会被拒绝")
	}
	return store, nil
}

func createHandlers(cfg config.LLMConfig) (map[string]capability.Handler, error) {
	var client llm.Client
	switch cfg.Provider {
	case config.ProviderMock:
		return capability.NewMockHandlers(time.Duration(cfg.MockLatencyMS) * time.Millisecond), nil
	case config.ProviderGemini:
		c, err := gemini.NewClient(gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			MaxTokens:   cfg.Gemini.MaxTokens,
			Timeout:     cfg.Gemini.Timeout(),
			Retries:     cfg.Gemini.Retries,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case config.ProviderOpenAI:
		c, err := openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
	return capability.NewLLMHandlers(client), nil
}

func createAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	client := &http.Client{Timeout: 5 * time.Second}
	for _, hook := range cfg.Webhooks {
		if hook.URL == "" {
			continue
		}
		kind := alerting.Channel(strings.ToLower(hook.Kind))
		if kind == "" {
			kind = alerting.ChannelWebhook
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: hook.URL, Kind: kind, Client: client})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func createQueue(ctx context.Context, cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case config.QueueMemory:
		return task.NewMemoryQueue(cfg.Size), nil
	case config.QueueRedis:
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			Instance:  cfg.Instance,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case config.QueueRabbitMQ:
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Instance:   cfg.Instance,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
