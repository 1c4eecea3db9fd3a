package capability

import (
	"context"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/task"
)

// 受支持的技能名。
const (
	SkillSummarize = "text.summarize"
	SkillSentiment = "text.analyze_sentiment"
	SkillExtract   = "data.extract"
)

// Handler 是单个技能的外部实现。返回的 map 原样写入任务 result。
type Handler interface {
	Invoke(ctx context.Context, input task.Input) (map[string]any, error)
}

// HandlerFunc 允许普通函数充当 Handler。
type HandlerFunc func(ctx context.Context, input task.Input) (map[string]any, error)

// Invoke 调用 f(ctx, input)。
func (f HandlerFunc) Invoke(ctx context.Context, input task.Input) (map[string]any, error) {
	return f(ctx, input)
}

// CodeUnknownSkill 表示路由表中不存在该技能。
const CodeUnknownSkill xerrors.Code = "UNKNOWN_SKILL"

func init() {
	xerrors.Register(CodeUnknownSkill, xerrors.Attributes{
		Message:  "no handler registered for skill",
		Severity: xerrors.SeverityWarning,
	})
}

// requireText 校验技能所需的文本输入。
func requireText(input task.Input) (string, error) {
	if input.Text == "" {
		return "", xerrors.New(xerrors.CodeInvalidParams, "text parameter is required")
	}
	return input.Text, nil
}
