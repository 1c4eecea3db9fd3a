package execution

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"a2a-agent/internal/credential"
	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/observability/metrics"
	"a2a-agent/internal/task"
	"a2a-agent/pkg/logger"
)

// Runner 执行单个任务的流水线步骤，由 capability.Router 实现。
type Runner interface {
	Run(ctx context.Context, taskID string) error
}

// Controller 根据调用方凭证决定同步等待还是异步派发。
type Controller struct {
	registry *task.Registry
	runner   Runner
	producer task.Producer
	baseCtx  context.Context
	logger   *slog.Logger
}

// ControllerOption 定义可选配置。
type ControllerOption func(*Controller)

// WithProducer 让异步任务经由工作队列派发；未配置时直接启动后台协程。
func WithProducer(producer task.Producer) ControllerOption {
	return func(c *Controller) {
		c.producer = producer
	}
}

// WithBaseContext 指定后台执行使用的上下文，进程退出时应被取消。
func WithBaseContext(ctx context.Context) ControllerOption {
	return func(c *Controller) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// WithControllerLogger 指定日志输出。
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController 构造 Controller。
func NewController(registry *task.Registry, runner Runner, opts ...ControllerOption) *Controller {
	c := &Controller{
		registry: registry,
		runner:   runner,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = logger.Named("execution")
	}
	return c
}

// Execute 执行刚创建的 pending 任务。
//
// 异步模式立即返回 pending 任务。同步模式等待任务进入终态或凭证超时；
// 超时返回 TIMEOUT 错误，registry 中的任务不被修改，后台执行可能在之后完成它。
func (c *Controller) Execute(ctx context.Context, t *task.Task, cred credential.Credential) (*task.Task, error) {
	if t == nil {
		return nil, xerrors.New(xerrors.CodeInternal, "nil task")
	}
	if !cred.Sync() {
		if err := c.dispatch(ctx, t.ID); err != nil {
			return nil, err
		}
		return t, nil
	}
	return c.executeSync(ctx, t, cred.Timeout())
}

func (c *Controller) dispatch(ctx context.Context, taskID string) error {
	if c.producer == nil {
		go c.Run(c.baseCtx, taskID)
		return nil
	}
	if err := c.producer.Publish(ctx, taskID); err != nil {
		c.logger.Error("任务投递失败", slog.String("task_id", taskID), slog.Any("error", err))
		if _, rejectErr := c.registry.Transition(context.Background(), taskID, task.Update{Status: task.StatusRejected}); rejectErr != nil {
			c.logger.Warn("拒绝未投递任务失败", slog.String("task_id", taskID), slog.Any("error", rejectErr))
		}
		if xerrors.CodeOf(err) == xerrors.CodeQueueFailure {
			return err
		}
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "failed to enqueue task")
	}
	return nil
}

func (c *Controller) executeSync(ctx context.Context, t *task.Task, timeout time.Duration) (*task.Task, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := c.registry.Subscribe(subCtx, t.ID, t.Owner)
	if err != nil {
		return nil, err
	}

	go c.Run(c.baseCtx, t.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	last := t
	for {
		select {
		case snapshot, ok := <-events:
			if !ok {
				// 只有在终态或 ctx 结束时才会关闭。
				if last.Status.Terminal() {
					return last, nil
				}
				return nil, c.canceledError(last, ctx.Err())
			}
			snap := snapshot
			last = &snap
			if snap.Status.Terminal() {
				return last, nil
			}
		case <-timer.C:
			return nil, c.timeoutError(last, timeout, nil)
		case <-ctx.Done():
			return nil, c.canceledError(last, ctx.Err())
		}
	}
}

func (c *Controller) timeoutError(last *task.Task, timeout time.Duration, cause error) error {
	metrics.ObserveSyncTimeout()
	c.logger.Warn("同步等待超时",
		slog.String("task_id", last.ID),
		slog.String("status", string(last.Status)),
		slog.Duration("timeout", timeout),
	)
	msg := fmt.Sprintf("task %s did not finish within %s; it keeps running in the background, poll tasks/get or use async mode for long-running work", last.ID, timeout)
	opts := []xerrors.Option{
		xerrors.WithData("taskId", last.ID),
		xerrors.WithData("status", string(last.Status)),
		xerrors.WithData("hint", "use async mode or raise timeoutSeconds"),
	}
	if cause != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, cause, msg, opts...)
	}
	return xerrors.New(xerrors.CodeTimeout, msg, opts...)
}

// canceledError 用于调用方在同步等待期间断开的情况，不计入同步超时。
func (c *Controller) canceledError(last *task.Task, cause error) error {
	c.logger.Info("调用方已断开，停止同步等待",
		slog.String("task_id", last.ID),
		slog.String("status", string(last.Status)),
	)
	if cause == nil {
		cause = context.Canceled
	}
	return xerrors.Wrap(xerrors.CodeCanceled, cause,
		fmt.Sprintf("request canceled while waiting for task %s; it keeps running in the background", last.ID),
		xerrors.WithData("taskId", last.ID),
		xerrors.WithData("status", string(last.Status)),
	)
}

// Run 在独立的错误边界内执行任务，panic 会把任务标记为失败。
func (c *Controller) Run(ctx context.Context, taskID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("任务执行发生 panic",
				slog.String("task_id", taskID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			c.failAfterPanic(taskID)
			err = xerrors.New(xerrors.CodeInternal, "task execution panicked")
		}
	}()
	if c.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务执行器")
	}
	if err := c.runner.Run(ctx, taskID); err != nil {
		c.logger.Error("任务执行失败", slog.String("task_id", taskID), slog.Any("error", err))
		return err
	}
	return nil
}

func (c *Controller) failAfterPanic(taskID string) {
	ctx := context.Background()
	update := task.Update{
		Status: task.StatusFailed,
		Error:  &task.ErrorInfo{Code: string(xerrors.CodeInternal), Message: xerrors.AttributesOf(xerrors.CodeInternal).Message},
	}
	current, err := c.registry.Transition(ctx, taskID, update)
	if err == nil || current == nil || current.Status.Terminal() {
		return
	}
	// pending 任务不能直接失败。
	_, _ = c.registry.Transition(ctx, taskID, task.Update{Status: task.StatusRejected})
}
