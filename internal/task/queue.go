package task

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	xerrors "a2a-agent/internal/errors"
)

// Handler 处理从工作队列取出的任务 ID。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责把待执行的任务 ID 投递到工作队列。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从工作队列消费任务 ID。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
// 任务状态始终只保存在本进程的 Registry 中，外部 broker 只缓冲 ID，
// 因此队列名按实例区分，见 QueueName。
type Queue interface {
	Producer
	Consumer
}

// Delivery 是外部 broker 中传输的消息体。
type Delivery struct {
	TaskID      string    `json:"taskId"`
	Instance    string    `json:"instance,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// QueueName 拼接实例专属的队列名，instance 为空时直接使用 base。
func QueueName(base, instance string) string {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return base
	}
	return base + "." + instance
}

func encodeDelivery(instance, taskID string, now time.Time) ([]byte, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "task id is required")
	}
	return json.Marshal(Delivery{TaskID: taskID, Instance: instance, PublishedAt: now.UTC()})
}

// decodeDelivery 解析消息体。非 JSON 的消息按裸任务 ID 处理。
func decodeDelivery(body []byte) (Delivery, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Delivery{}, xerrors.New(xerrors.CodeQueueFailure, "empty queue message")
	}
	if trimmed[0] != '{' {
		return Delivery{TaskID: string(trimmed)}, nil
	}
	var d Delivery
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return Delivery{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "malformed queue message")
	}
	if d.TaskID == "" {
		return Delivery{}, xerrors.New(xerrors.CodeQueueFailure, "queue message without task id")
	}
	return d, nil
}

// accepts 判断消息是否属于本实例。未标注实例的消息一律接收。
func (d Delivery) accepts(instance string) bool {
	return d.Instance == "" || instance == "" || d.Instance == instance
}
