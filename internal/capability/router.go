package capability

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/observability/alerting"
	"a2a-agent/internal/observability/metrics"
	"a2a-agent/internal/task"
	"a2a-agent/pkg/logger"
)

// DefaultHardTimeout 是单次能力调用的上限，与调用方的同步等待时间无关。
const DefaultHardTimeout = 60 * time.Second

const (
	progressRunning   = 10
	progressCompleted = 100
)

// Router 按技能名把任务派发给唯一的 Handler，并负责把结果写回 registry。
type Router struct {
	registry    *task.Registry
	handlers    map[string]Handler
	hardTimeout time.Duration
	alerter     alerting.Dispatcher
	logger      *slog.Logger
}

// RouterOption 定义可选配置。
type RouterOption func(*Router)

// WithHandler 注册技能处理器，重复注册以后者为准。
func WithHandler(skill string, handler Handler) RouterOption {
	return func(r *Router) {
		if skill != "" && handler != nil {
			r.handlers[skill] = handler
		}
	}
}

// WithHardTimeout 设置单次调用的硬超时。
func WithHardTimeout(timeout time.Duration) RouterOption {
	return func(r *Router) {
		if timeout > 0 {
			r.hardTimeout = timeout
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) RouterOption {
	return func(r *Router) {
		r.alerter = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter 构造 Router。
func NewRouter(registry *task.Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry:    registry,
		handlers:    make(map[string]Handler),
		hardTimeout: DefaultHardTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("capability")
	}
	return r
}

// Skills 返回已注册的技能名，按字母序排列。
func (r *Router) Skills() []string {
	skills := make([]string, 0, len(r.handlers))
	for skill := range r.handlers {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	return skills
}

// Supports 判断技能是否已注册。
func (r *Router) Supports(skill string) bool {
	_, ok := r.handlers[skill]
	return ok
}

// Invoke 在硬超时内调用技能处理器。处理器错误统一归一为 CAPABILITY_FAILURE，
// 硬超时归一为 TIMEOUT，参数错误保持 INVALID_PARAMS。
func (r *Router) Invoke(ctx context.Context, skill string, input task.Input) (result map[string]any, err error) {
	handler, ok := r.handlers[skill]
	if !ok {
		return nil, xerrors.New(CodeUnknownSkill, fmt.Sprintf("skill %q is not supported", skill))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.hardTimeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("能力处理器发生 panic",
					slog.String("skill", skill),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: xerrors.New(xerrors.CodeCapabilityFailure, "capability handler crashed")}
			}
		}()
		res, err := handler.Invoke(callCtx, input)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, normalize(callCtx, out.err)
		}
		if out.result == nil {
			out.result = map[string]any{}
		}
		return out.result, nil
	case <-callCtx.Done():
		if stdErrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, xerrors.New(xerrors.CodeTimeout,
				fmt.Sprintf("capability %s exceeded %s", skill, r.hardTimeout))
		}
		return nil, xerrors.Wrap(xerrors.CodeCapabilityFailure, ctx.Err(), "capability call aborted")
	}
}

func normalize(ctx context.Context, err error) error {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidParams, xerrors.CodeTimeout, xerrors.CodeCapabilityFailure:
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "capability deadline exceeded")
	}
	return xerrors.Wrap(xerrors.CodeCapabilityFailure, err, "capability failed")
}

// Run 是执行流水线的一步：pending -> running -> completed | failed。
// 任务已被取消或已有终态时，迟到的结果被丢弃并记录日志。
func (r *Router) Run(ctx context.Context, taskID string) error {
	progress := progressRunning
	current, err := r.registry.Transition(ctx, taskID, task.Update{Status: task.StatusRunning, Progress: &progress})
	if err != nil {
		if stdErrors.Is(err, task.ErrTaskTerminal) {
			r.logger.Info("任务已结束，跳过执行", slog.String("task_id", taskID), slog.String("status", string(current.Status)))
			return nil
		}
		return err
	}

	log := logger.ForTask(r.logger, taskID, current.Skill)
	started := time.Now()
	result, invokeErr := r.Invoke(ctx, current.Skill, current.Input)
	outcome := "ok"
	if invokeErr != nil {
		outcome = string(xerrors.CodeOf(invokeErr))
	}
	metrics.ObserveCapability(current.Skill, outcome, time.Since(started))

	update := task.Update{Status: task.StatusCompleted, Result: result}
	if invokeErr != nil {
		code := xerrors.CodeOf(invokeErr)
		update = task.Update{
			Status: task.StatusFailed,
			Error:  &task.ErrorInfo{Code: string(code), Message: publicMessage(invokeErr)},
		}
		log.Warn("能力调用失败",
			slog.String("error_code", string(code)),
			slog.Any("error", invokeErr),
		)
		r.emitAlert(ctx, current, code, invokeErr)
	} else {
		done := progressCompleted
		update.Progress = &done
	}

	final, err := r.registry.Transition(ctx, taskID, update)
	if err != nil {
		if stdErrors.Is(err, task.ErrTaskTerminal) {
			log.Info("迟到的能力结果已丢弃",
				slog.String("status", string(final.Status)),
				slog.String("dropped", string(update.Status)),
			)
			return nil
		}
		return err
	}
	return nil
}

// publicMessage 返回可以暴露给调用方的错误描述。
func publicMessage(err error) string {
	if xe, ok := xerrors.From(err); ok {
		return xe.Message()
	}
	return xerrors.AttributesOf(xerrors.CodeCapabilityFailure).Message
}

func (r *Router) emitAlert(ctx context.Context, t *task.Task, code xerrors.Code, cause error) {
	if r.alerter == nil || t == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:     code,
		Message:  cause.Error(),
		Severity: attrs.Severity,
		TaskID:   t.ID,
		Metadata: map[string]string{
			"skill": t.Skill,
			"owner": t.Owner,
		},
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败", slog.Any("error", err), slog.String("task_id", t.ID))
	}
}
