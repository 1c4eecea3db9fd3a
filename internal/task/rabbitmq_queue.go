package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Instance   string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 作为工作队列。
type RabbitMQQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	instance string
	now      func() time.Time
}

// NewRabbitMQQueue 建立连接并声明实例专属的队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "rabbitmq url is required")
	}
	base := cfg.Queue
	if base == "" {
		base = "a2a.tasks"
	}
	name := QueueName(base, cfg.Instance)

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	setup := func() error {
		if cfg.Prefetch > 0 {
			if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
				return err
			}
		}
		_, err := ch.QueueDeclare(name, cfg.Durable, cfg.AutoDelete, false, false, nil)
		return err
	}
	if err := setup(); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 RabbitMQ 队列失败")
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: name, instance: cfg.Instance, now: time.Now}, nil
}

// Name 返回实际声明的队列名。
func (q *RabbitMQQueue) Name() string {
	return q.queue
}

// Publish 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "rabbitmq queue not initialised")
	}
	now := q.now()
	body, err := encodeDelivery(q.instance, taskID, now)
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   taskID,
		Timestamp:   now,
		Body:        body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 投递任务失败")
	}
	return nil
}

// Consume 以手动确认模式消费。无法解析或处理失败的消息 Nack 且不重新入队，
// 任务的失败状态由 Registry 记录。broker 断开时返回 QUEUE_FAILURE。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "rabbitmq queue not initialised")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	log := logger.Named("queue.rabbitmq")

	var (
		wg     sync.WaitGroup
		closed sync.Once
		lost   bool
	)
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						closed.Do(func() { lost = ctx.Err() == nil })
						return
					}
					q.deliver(ctx, log, msg, handler)
				}
			}
		}()
	}
	wg.Wait()
	if lost {
		return xerrors.New(xerrors.CodeQueueFailure, "rabbitmq delivery channel closed")
	}
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, log *slog.Logger, msg amqp.Delivery, handler Handler) {
	d, err := decodeDelivery(msg.Body)
	if err != nil {
		log.Warn("丢弃无法解析的队列消息", slog.String("queue", q.queue), slog.Any("error", err))
		_ = msg.Nack(false, false)
		return
	}
	if !d.accepts(q.instance) {
		log.Warn("丢弃其他实例的任务", slog.String("task_id", d.TaskID), slog.String("instance", d.Instance))
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(ctx, d.TaskID); err != nil {
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
