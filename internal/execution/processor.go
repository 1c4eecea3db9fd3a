package execution

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/task"
	"a2a-agent/pkg/logger"
)

// Worker 负责从工作队列消费任务 ID 并交给 Controller 执行。
type Worker struct {
	runner      Runner
	consumer    task.Consumer
	workerCount int
	logger      *slog.Logger
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerLogger 指定日志输出。
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) WorkerOption {
	return func(w *Worker) {
		if workers > 0 {
			w.workerCount = workers
		}
	}
}

// NewWorker 构造 Worker。runner 通常是 *Controller，以便复用其 panic 边界。
func NewWorker(runner Runner, consumer task.Consumer, opts ...WorkerOption) *Worker {
	w := &Worker{
		runner:      runner,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.logger == nil {
		w.logger = logger.Named("worker")
	}
	return w
}

// Start 启动任务处理循环，直到 ctx 结束。
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil || w.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	w.logger.Info("任务消费者已启动", slog.Int("workers", w.workerCount))
	return w.consumer.Consume(ctx, w.workerCount, w.handle)
}

func (w *Worker) handle(ctx context.Context, taskID string) error {
	err := w.runner.Run(ctx, taskID)
	if err == nil {
		return nil
	}
	// 队列中的 ID 可能来自已重启的进程，registry 中不存在时直接丢弃。
	if stdErrors.Is(err, task.ErrTaskNotFound) {
		w.logger.Debug("跳过未知任务", slog.String("task_id", taskID))
		return nil
	}
	return err
}
