package task

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/pkg/logger"
)

// CreateRequest 描述创建任务所需的信息。ID 为空时自动生成。
type CreateRequest struct {
	ID    string
	Skill string
	Input Input
	Owner string
}

// Update 描述执行流水线对任务的一次写入。
type Update struct {
	Status   Status
	Result   map[string]any
	Error    *ErrorInfo
	Progress *int
}

// TransitionHook 在每次状态迁移成功后被调用，常用于指标统计。
type TransitionHook func(from, to Status, skill string)

// Registry 以内存方式保存进程生命周期内的全部任务。
// 所有写入通过同一把锁串行化，读取可以并发进行。
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*entry
	seq    uint64
	now    func() time.Time
	hooks  []TransitionHook
	skills []string
}

type entry struct {
	task        *Task
	subscribers map[*subscriber]struct{}
}

// RegistryOption 定义可选配置。
type RegistryOption func(*Registry)

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTransitionHook 注册状态迁移回调。
func WithTransitionHook(hook TransitionHook) RegistryOption {
	return func(r *Registry) {
		if hook != nil {
			r.hooks = append(r.hooks, hook)
		}
	}
}

// WithSkills 声明可以被路由的技能名，供发现层读取。
func WithSkills(skills ...string) RegistryOption {
	return func(r *Registry) {
		r.skills = append(r.skills[:0], skills...)
	}
}

// NewRegistry 创建 Registry。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tasks: make(map[string]*entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create 新建一个 pending 状态的任务。
func (r *Registry) Create(_ context.Context, req CreateRequest) (*Task, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "task owner is required")
	}
	if strings.TrimSpace(req.Skill) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParams, "task skill is required")
	}
	id := strings.TrimSpace(req.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	} else if _, ok := r.tasks[id]; ok {
		return nil, ErrTaskConflict
	}

	r.seq++
	now := r.now()
	t := &Task{
		ID:        id,
		Status:    StatusPending,
		Skill:     req.Skill,
		Input:     Input{Text: req.Input.Text, Parameters: cloneMap(req.Input.Parameters)},
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
		seq:       r.seq,
	}
	r.tasks[id] = &entry{task: t}
	logger.Audit().Info("任务已创建",
		slog.String("task_id", id),
		slog.String("skill", t.Skill),
		slog.String("owner", owner),
	)
	return cloneTask(t), nil
}

// Get 返回调用方拥有的任务。
func (r *Registry) Get(_ context.Context, id, owner string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(id, owner)
	if err != nil {
		return nil, err
	}
	return cloneTask(e.task), nil
}

// Lookup 不做归属校验地返回任务，仅供执行流水线使用。
func (r *Registry) Lookup(_ context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(e.task), nil
}

// List 按创建时间倒序返回调用方的任务分页。
func (r *Registry) List(_ context.Context, owner string, query ListQuery) ([]*Task, Pagination, error) {
	if err := query.Validate(); err != nil {
		return nil, Pagination{}, err
	}

	r.mu.RLock()
	matched := make([]*Task, 0)
	for _, e := range r.tasks {
		if e.task.Owner != owner || !query.matches(e.task) {
			continue
		}
		matched = append(matched, cloneTask(e.task))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].seq > matched[j].seq
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := paginate(len(matched), query)
	start := (query.Page - 1) * query.Limit
	if start >= len(matched) {
		return []*Task{}, page, nil
	}
	end := start + query.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], page, nil
}

// Cancel 将非终态任务置为 canceled。已经派发出去的能力调用不会被中断。
func (r *Registry) Cancel(_ context.Context, id, owner string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id, owner)
	if err != nil {
		return nil, err
	}
	if e.task.Status.Terminal() {
		return nil, xerrors.New(CodeTaskInvalidState, "task is already "+string(e.task.Status),
			xerrors.WithData("status", string(e.task.Status)))
	}
	if err := r.apply(e, Update{Status: StatusCanceled}); err != nil {
		return nil, err
	}
	return cloneTask(e.task), nil
}

// Transition 是执行流水线写入任务的唯一入口。终态任务拒绝一切写入。
func (r *Registry) Transition(_ context.Context, id string, update Update) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := r.apply(e, update); err != nil {
		return cloneTask(e.task), err
	}
	return cloneTask(e.task), nil
}

// SetProgress 更新非终态任务的进度，取值范围 0-100。
func (r *Registry) SetProgress(_ context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return xerrors.New(xerrors.CodeInvalidParams, "progress must be between 0 and 100")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if e.task.Status.Terminal() {
		return ErrTaskTerminal
	}
	if e.task.Progress == progress {
		return nil
	}
	e.task.Progress = progress
	e.task.UpdatedAt = r.now()
	r.publish(e)
	return nil
}

// Stats 统计任务数量。owner 为空时统计全部任务。
func (r *Registry) Stats(_ context.Context, owner string) TaskStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stats TaskStats
	for _, e := range r.tasks {
		if owner != "" && e.task.Owner != owner {
			continue
		}
		stats.add(e.task.Status)
	}
	return stats
}

// Skills 返回已声明的技能列表。
func (r *Registry) Skills() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.skills...)
}

func (r *Registry) lookup(id, owner string) (*entry, error) {
	e, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if e.task.Owner != owner {
		return nil, ErrTaskForbidden
	}
	return e, nil
}

// apply 必须在持有写锁时调用。
func (r *Registry) apply(e *entry, update Update) error {
	t := e.task
	from := t.Status
	if from.Terminal() {
		return ErrTaskTerminal
	}
	if !CanTransition(from, update.Status) {
		return invalidTransition(from, update.Status)
	}

	now := r.now()
	t.Status = update.Status
	t.UpdatedAt = now
	if update.Progress != nil {
		t.Progress = clampProgress(*update.Progress)
	}
	switch update.Status {
	case StatusCompleted:
		t.Result = cloneMap(update.Result)
		if t.Result == nil {
			t.Result = map[string]any{}
		}
		t.Error = nil
		t.CompletedAt = &now
	case StatusFailed:
		t.Result = nil
		if update.Error != nil {
			errCopy := *update.Error
			t.Error = &errCopy
		} else {
			t.Error = &ErrorInfo{Code: string(xerrors.CodeUnknown), Message: "task failed"}
		}
		t.FailedAt = &now
	case StatusCanceled:
		t.CanceledAt = &now
	case StatusRejected:
		t.RejectedAt = &now
	}

	for _, hook := range r.hooks {
		hook(from, t.Status, t.Skill)
	}
	r.publish(e)

	attrs := []any{
		slog.String("task_id", t.ID),
		slog.String("from", string(from)),
		slog.String("to", string(t.Status)),
		slog.String("skill", t.Skill),
	}
	if t.Error != nil {
		attrs = append(attrs, slog.String("error_code", t.Error.Code))
	}
	logger.Audit().Info("任务状态变更", attrs...)
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
