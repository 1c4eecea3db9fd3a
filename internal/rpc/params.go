package rpc

import (
	"bytes"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/task"
)

// Part 是消息中的一段内容，类型由 kind（或旧字段 type）决定。
type Part struct {
	Kind string `json:"kind,omitempty"`
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
	// MimeType 仅对文本片段有意义，text/html 的片段会被清洗。
	MimeType string         `json:"mimeType,omitempty"`
	File     *FilePart      `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// PartKind 返回规范化后的类型：text、file 或 data。
func (p Part) PartKind() string {
	kind := strings.ToLower(strings.TrimSpace(p.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(p.Type))
	}
	return kind
}

// FilePart 描述文件内容，uri 与 bytes 至少提供其一。
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
}

// Message 是 message/send 的消息体。
type Message struct {
	Role      string `json:"role,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Parts     []Part `json:"parts"`
}

// SendParams 是 message/send 的参数。
type SendParams struct {
	Message Message `json:"message"`
	TaskID  string  `json:"taskId,omitempty"`
	Skill   string  `json:"skill,omitempty"`
}

// Validate 校验消息结构。
func (p *SendParams) Validate() error {
	if len(p.Message.Parts) == 0 {
		return invalidParams("message.parts must contain at least one part")
	}
	for i, part := range p.Message.Parts {
		switch part.PartKind() {
		case "text":
			// 空文本在清洗后统一判断。
		case "file":
			if part.File == nil || (part.File.URI == "" && part.File.Bytes == "") {
				return invalidParams(fmt.Sprintf("message.parts[%d].file requires uri or bytes", i))
			}
		case "data":
			if part.Data == nil {
				return invalidParams(fmt.Sprintf("message.parts[%d].data must be an object", i))
			}
		default:
			return invalidParams(fmt.Sprintf("message.parts[%d] has unsupported kind %q", i, part.PartKind()))
		}
	}
	p.TaskID = strings.TrimSpace(p.TaskID)
	p.Skill = strings.TrimSpace(p.Skill)
	return nil
}

// TaskRefParams 是 tasks/get 与 tasks/cancel 的参数。
type TaskRefParams struct {
	TaskID string `json:"taskId"`
}

// GetParams 是 tasks/get 的参数。
type GetParams = TaskRefParams

// CancelParams 是 tasks/cancel 的参数。
type CancelParams = TaskRefParams

// Validate 校验 taskId。
func (p *TaskRefParams) Validate() error {
	p.TaskID = strings.TrimSpace(p.TaskID)
	if p.TaskID == "" {
		return invalidParams("taskId is required")
	}
	return nil
}

// ListParams 是 tasks/list 的参数，page 与 limit 缺省时使用默认值。
type ListParams struct {
	Page   *int   `json:"page,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
	Status string `json:"status,omitempty"`
	Skill  string `json:"skill,omitempty"`
}

// Query 转换为 registry 查询并校验范围，越界值直接报错而不是截断。
func (p ListParams) Query() (task.ListQuery, error) {
	opts := []task.ListOption{
		task.WithStatus(task.Status(strings.TrimSpace(p.Status))),
		task.WithSkill(p.Skill),
	}
	if p.Page != nil {
		opts = append(opts, task.WithPage(*p.Page))
	}
	if p.Limit != nil {
		opts = append(opts, task.WithLimit(*p.Limit))
	}
	return task.BuildListQuery(opts...)
}

// SkillParams 是旧式按技能命名方法的参数。
type SkillParams struct {
	Text     string         `json:"text"`
	MaxWords *int           `json:"max_words,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"`
	TaskID   string         `json:"taskId,omitempty"`
}

// Validate 校验必填字段。
func (p *SkillParams) Validate() error {
	if p.MaxWords != nil && (*p.MaxWords < 1 || *p.MaxWords > 1000) {
		return invalidParams("max_words must be between 1 and 1000")
	}
	p.TaskID = strings.TrimSpace(p.TaskID)
	return nil
}

type validator interface {
	Validate() error
}

// decodeParams 解码并校验参数。required 为 false 时允许缺省。
func decodeParams(raw json.RawMessage, dst any, required bool) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return invalidParams("params are required")
		}
	} else {
		if trimmed[0] != '{' {
			return invalidParams("params must be an object")
		}
		if err := json.Unmarshal(trimmed, dst); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidParams, err, "malformed params: "+describeDecodeError(err))
		}
	}
	if v, ok := dst.(validator); ok {
		return v.Validate()
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if stdErrors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type.String())
	}
	return "invalid JSON value"
}

func invalidParams(msg string) error {
	return xerrors.New(xerrors.CodeInvalidParams, msg)
}
