package execution

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"a2a-agent/internal/task"
)

type countingRunner struct {
	processed atomic.Int32
	latency   time.Duration
}

func (c *countingRunner) Run(ctx context.Context, taskID string) error {
	if c.latency > 0 {
		select {
		case <-time.After(c.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if taskID == "missing" {
		return task.ErrTaskNotFound
	}
	c.processed.Add(1)
	return nil
}

func TestWorkerHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := task.NewMemoryQueue(1024)
	runner := &countingRunner{latency: 10 * time.Millisecond}
	worker := NewWorker(runner, queue, WithWorkerCount(8))

	go func() {
		if err := worker.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			t.Errorf("worker exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		if err := queue.Publish(ctx, fmt.Sprintf("task-%d", i)); err != nil {
			t.Fatalf("投递任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(runner.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", runner.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWorkerSkipsUnknownTasks(t *testing.T) {
	worker := NewWorker(&countingRunner{}, task.NewMemoryQueue(1))
	if err := worker.handle(context.Background(), "missing"); err != nil {
		t.Fatalf("unknown task ids must be dropped, got %v", err)
	}
}

func TestWorkerRequiresConsumer(t *testing.T) {
	if err := NewWorker(&countingRunner{}, nil).Start(context.Background()); err == nil {
		t.Fatalf("expected initialization error")
	}
}
