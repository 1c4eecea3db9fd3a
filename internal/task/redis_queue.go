package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	Instance  string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 作为工作队列：LPUSH 投递，BRPOP 取出。
type RedisQueue struct {
	client   *redis.Client
	queue    string
	instance string
	wait     time.Duration
	backoff  time.Duration
	now      func() time.Time
}

// NewRedisQueue 创建 Redis 队列实例并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	base := cfg.Queue
	if base == "" {
		base = "a2a:tasks"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{
		client:   client,
		queue:    QueueName(base, cfg.Instance),
		instance: cfg.Instance,
		wait:     wait,
		backoff:  time.Second,
		now:      time.Now,
	}
}

// Name 返回实际使用的 list 键名。
func (q *RedisQueue) Name() string {
	return q.queue
}

// Publish 将任务推入 Redis list。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	body, err := encodeDelivery(q.instance, taskID, q.now())
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 投递任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 取任务。处理失败的任务不会重新入队，失败结果已经
// 写入 Registry。临时错误按固定间隔重试，连接关闭时返回。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	log := logger.Named("queue.redis")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				values, err := q.client.BRPop(gctx, q.wait, q.queue).Result()
				switch {
				case err == nil:
				case errors.Is(err, redis.Nil):
					continue
				case errors.Is(err, context.Canceled), errors.Is(err, redis.ErrClosed):
					return err
				default:
					log.Warn("Redis 取任务失败，稍后重试", slog.String("queue", q.queue), slog.Any("error", err))
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(q.backoff):
					}
					continue
				}
				if len(values) != 2 {
					continue
				}
				q.deliver(gctx, log, []byte(values[1]), handler)
			}
		})
	}
	return g.Wait()
}

func (q *RedisQueue) deliver(ctx context.Context, log *slog.Logger, body []byte, handler Handler) {
	d, err := decodeDelivery(body)
	if err != nil {
		log.Warn("丢弃无法解析的队列消息", slog.String("queue", q.queue), slog.Any("error", err))
		return
	}
	if !d.accepts(q.instance) {
		log.Warn("丢弃其他实例的任务", slog.String("task_id", d.TaskID), slog.String("instance", d.Instance))
		return
	}
	_ = handler(ctx, d.TaskID)
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
