package task

import (
	"time"

	xerrors "a2a-agent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusInputRequired Status = "input-required"
	StatusAuthRequired  Status = "auth-required"
	StatusCompleted     Status = "completed"
	StatusCanceled      Status = "canceled"
	StatusRejected      Status = "rejected"
	StatusFailed        Status = "failed"
)

// transitions 描述允许的状态迁移，终态没有出边。
var transitions = map[Status][]Status{
	StatusPending:       {StatusRunning, StatusCanceled, StatusRejected},
	StatusRunning:       {StatusCompleted, StatusFailed, StatusCanceled, StatusInputRequired, StatusAuthRequired},
	StatusInputRequired: {StatusRunning, StatusCanceled, StatusFailed},
	StatusAuthRequired:  {StatusRunning, StatusCanceled, StatusFailed},
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusInputRequired, StatusAuthRequired,
		StatusCompleted, StatusCanceled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition 判断 from -> to 是否符合状态机。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Input 是提交给能力的规范化输入。
type Input struct {
	Text       string         `json:"text"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ErrorInfo 是失败任务携带的结构化错误。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task 是任务在某一时刻的快照，registry 对外只返回副本。
type Task struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	Skill       string         `json:"skill"`
	Input       Input          `json:"input"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	Owner       string         `json:"owner"`
	Progress    int            `json:"progress"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	FailedAt    *time.Time     `json:"failedAt,omitempty"`
	CanceledAt  *time.Time     `json:"canceledAt,omitempty"`
	RejectedAt  *time.Time     `json:"rejectedAt,omitempty"`

	seq uint64
}

const (
	CodeTaskNotFound     xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskForbidden    xerrors.Code = "TASK_FORBIDDEN"
	CodeTaskConflict     xerrors.Code = "TASK_CONFLICT"
	CodeTaskInvalidState xerrors.Code = "TASK_INVALID_STATE"
	CodeTaskTerminal     xerrors.Code = "TASK_TERMINAL"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskForbidden 表示任务属于其他调用方。
	ErrTaskForbidden = xerrors.New(CodeTaskForbidden, "task belongs to another caller")
	// ErrTaskConflict 表示显式指定的任务 ID 已被占用。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task id already exists")
	// ErrTaskTerminal 表示任务已处于终态，写入被丢弃。
	ErrTaskTerminal = xerrors.New(CodeTaskTerminal, "task already in terminal state")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskForbidden, xerrors.Attributes{
		Message:  "task belongs to another caller",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task id already exists",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskInvalidState, xerrors.Attributes{
		Message:  "task state does not permit this operation",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskTerminal, xerrors.Attributes{
		Message:  "task already in terminal state",
		Severity: xerrors.SeverityInfo,
	})
}

func invalidTransition(from, to Status) error {
	return xerrors.New(CodeTaskInvalidState, "cannot move task from "+string(from)+" to "+string(to),
		xerrors.WithData("status", string(from)))
}

func cloneTask(t *Task) *Task {
	clone := *t
	clone.Input.Parameters = cloneMap(t.Input.Parameters)
	clone.Result = cloneMap(t.Result)
	if t.Error != nil {
		errCopy := *t.Error
		clone.Error = &errCopy
	}
	clone.CompletedAt = cloneTime(t.CompletedAt)
	clone.FailedAt = cloneTime(t.FailedAt)
	clone.CanceledAt = cloneTime(t.CanceledAt)
	clone.RejectedAt = cloneTime(t.RejectedAt)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cloned := make(map[string]any, len(m))
	for key, value := range m {
		cloned[key] = value
	}
	return cloned
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
