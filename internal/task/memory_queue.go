package task

import (
	"context"
	"sync"

	xerrors "a2a-agent/internal/errors"
)

// ErrQueueFull 表示内存队列已满，调用方应拒绝该任务而不是阻塞请求。
var ErrQueueFull = xerrors.New(xerrors.CodeQueueFailure, "memory queue is full")

// MemoryQueue 使用带缓冲的 channel 作为进程内工作队列，是默认驱动。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将任务放入队列。队列满时立即返回 ErrQueueFull。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish to memory queue interrupted")
	}
	select {
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "memory queue closed")
	default:
	}
	select {
	case q.ch <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume 启动 workerCount 个协程消费队列，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case taskID := <-q.ch:
					_ = handler(ctx, taskID)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Len 返回队列中等待的任务数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 停止消费。仍在队列中的任务保持 pending。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*RabbitMQQueue)(nil)
)
