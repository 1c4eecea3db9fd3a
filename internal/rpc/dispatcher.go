package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"a2a-agent/internal/capability"
	"a2a-agent/internal/credential"
	"a2a-agent/internal/intent"
	"a2a-agent/internal/observability/metrics"
	"a2a-agent/internal/task"
	"a2a-agent/pkg/logger"
)

// 支持的方法名。
const (
	MethodSend   = "message/send"
	MethodGet    = "tasks/get"
	MethodList   = "tasks/list"
	MethodCancel = "tasks/cancel"
)

// Executor 执行新建的任务，由 execution.Controller 实现。
type Executor interface {
	Execute(ctx context.Context, t *task.Task, cred credential.Credential) (*task.Task, error)
}

// SkillSet 判断技能是否可以被路由，由 capability.Router 实现。
type SkillSet interface {
	Supports(skill string) bool
}

// SendResult 是异步 message/send 的返回值。
type SendResult struct {
	TaskID string      `json:"taskId"`
	Status task.Status `json:"status"`
}

// ListResult 是 tasks/list 的返回值。
type ListResult struct {
	Tasks      []*task.Task    `json:"tasks"`
	Pagination task.Pagination `json:"pagination"`
	Filters    ListFilters     `json:"filters"`
}

// ListFilters 回显生效的过滤条件。
type ListFilters struct {
	Status string `json:"status,omitempty"`
	Skill  string `json:"skill,omitempty"`
}

type methodHandler func(ctx context.Context, caller credential.Credential, req Request) (any, error)

// Dispatcher 校验请求参数并把方法路由到 registry 或执行控制器。
// 它从不直接调用能力处理器。
type Dispatcher struct {
	registry   *task.Registry
	executor   Executor
	classifier *intent.Classifier
	skills     SkillSet
	methods    map[string]methodHandler
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Dispatcher)

// WithClassifier 替换默认意图分类器。
func WithClassifier(c *intent.Classifier) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.classifier = c
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(registry *task.Registry, executor Executor, skills SkillSet, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		executor: executor,
		skills:   skills,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.classifier == nil {
		d.classifier = intent.New()
	}
	if d.logger == nil {
		d.logger = logger.Named("rpc")
	}
	d.methods = map[string]methodHandler{
		MethodSend:                d.handleSend,
		MethodGet:                 d.handleGet,
		MethodList:                d.handleList,
		MethodCancel:              d.handleCancel,
		capability.SkillSummarize: d.legacy(capability.SkillSummarize),
		capability.SkillSentiment: d.legacy(capability.SkillSentiment),
		capability.SkillExtract:   d.legacy(capability.SkillExtract),
	}
	return d
}

// Methods 返回支持的方法名。
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	return out
}

// DispatchBytes 解析原始请求体并分发。
func (d *Dispatcher) DispatchBytes(ctx context.Context, caller credential.Credential, body []byte) Response {
	req, perr := ParseRequest(body)
	if perr != nil {
		metrics.ObserveRPC("invalid", fmt.Sprint(perr.Code))
		return failure(req.ID, perr)
	}
	return d.Dispatch(ctx, caller, req)
}

// Dispatch 执行一次调用。任何错误与 panic 都在这里转换为协议错误。
func (d *Dispatcher) Dispatch(ctx context.Context, caller credential.Credential, req Request) (resp Response) {
	handler, ok := d.methods[req.Method]
	if !ok {
		metrics.ObserveRPC("unknown", fmt.Sprint(CodeMethodNotFound))
		return failure(req.ID, methodNotFound(req.Method))
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("RPC 处理发生 panic",
				slog.String("method", req.Method),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			metrics.ObserveRPC(req.Method, fmt.Sprint(CodeInternalError))
			resp = failure(req.ID, internalError())
		}
	}()

	result, err := handler(ctx, caller, req)
	if err != nil {
		rpcErr := ToError(err)
		if rpcErr.Code == CodeInternalError {
			d.logger.Error("RPC 内部错误",
				slog.String("method", req.Method),
				slog.String("caller", caller.Name),
				slog.Any("error", err),
			)
		} else {
			d.logger.Debug("RPC 调用失败",
				slog.String("method", req.Method),
				slog.String("caller", caller.Name),
				slog.Int("code", rpcErr.Code),
				slog.String("error", err.Error()),
			)
		}
		metrics.ObserveRPC(req.Method, fmt.Sprint(rpcErr.Code))
		return failure(req.ID, rpcErr)
	}
	metrics.ObserveRPC(req.Method, "ok")
	return success(req.ID, result)
}

func (d *Dispatcher) handleSend(ctx context.Context, caller credential.Credential, req Request) (any, error) {
	var params SendParams
	if err := decodeParams(req.Params, &params, true); err != nil {
		return nil, err
	}
	input, err := d.buildInput(params.Message)
	if err != nil {
		return nil, err
	}

	skill := params.Skill
	if skill == "" {
		skill = d.classifier.Classify(input.Text)
	}
	if !d.skills.Supports(skill) {
		return nil, invalidParams(fmt.Sprintf("skill %q is not supported", skill))
	}
	if skill == capability.SkillSummarize {
		if n, ok := intent.ExtractParameter(input.Text, intent.ParamMaxWords); ok {
			input.Parameters[intent.ParamMaxWords] = n
		} else {
			input.Parameters[intent.ParamMaxWords] = capability.DefaultMaxWords
		}
	}
	return d.submit(ctx, caller, params.TaskID, skill, input)
}

// buildInput 合并消息片段：文本片段清洗后拼接，data 与 file 片段作为参数保留。
func (d *Dispatcher) buildInput(msg Message) (task.Input, error) {
	var texts []string
	var data []any
	var files []any
	for _, part := range msg.Parts {
		switch part.PartKind() {
		case "text":
			if text := d.classifier.SanitizeAs(part.Text, part.MimeType); text != "" {
				texts = append(texts, text)
			}
		case "data":
			data = append(data, part.Data)
		case "file":
			files = append(files, map[string]any{
				"name":     part.File.Name,
				"mimeType": part.File.MimeType,
				"uri":      part.File.URI,
				"hasBytes": part.File.Bytes != "",
			})
		}
	}
	if len(texts) == 0 {
		return task.Input{}, invalidParams("message must contain a non-empty text part")
	}
	params := map[string]any{}
	if len(data) > 0 {
		params["data"] = data
	}
	if len(files) > 0 {
		params["files"] = files
	}
	return task.Input{Text: strings.Join(texts, "\n"), Parameters: params}, nil
}

func (d *Dispatcher) legacy(skill string) methodHandler {
	return func(ctx context.Context, caller credential.Credential, req Request) (any, error) {
		var params SkillParams
		if err := decodeParams(req.Params, &params, true); err != nil {
			return nil, err
		}
		text := d.classifier.Sanitize(params.Text)
		if text == "" {
			return nil, invalidParams("text is required")
		}
		if !d.skills.Supports(skill) {
			return nil, invalidParams(fmt.Sprintf("skill %q is not supported", skill))
		}
		input := task.Input{Text: text, Parameters: map[string]any{}}
		if skill == capability.SkillSummarize {
			maxWords := capability.DefaultMaxWords
			if params.MaxWords != nil {
				maxWords = *params.MaxWords
			}
			input.Parameters[intent.ParamMaxWords] = maxWords
		}
		if params.Schema != nil {
			input.Parameters["schema"] = params.Schema
		}
		return d.submit(ctx, caller, params.TaskID, skill, input)
	}
}

func (d *Dispatcher) submit(ctx context.Context, caller credential.Credential, taskID, skill string, input task.Input) (any, error) {
	created, err := d.registry.Create(ctx, task.CreateRequest{
		ID:    taskID,
		Skill: skill,
		Input: input,
		Owner: caller.Name,
	})
	if err != nil {
		return nil, err
	}
	result, err := d.executor.Execute(ctx, created, caller)
	if err != nil {
		return nil, err
	}
	if !caller.Sync() {
		return SendResult{TaskID: result.ID, Status: result.Status}, nil
	}
	return result, nil
}

func (d *Dispatcher) handleGet(ctx context.Context, caller credential.Credential, req Request) (any, error) {
	var params GetParams
	if err := decodeParams(req.Params, &params, true); err != nil {
		return nil, err
	}
	return d.registry.Get(ctx, params.TaskID, caller.Name)
}

func (d *Dispatcher) handleList(ctx context.Context, caller credential.Credential, req Request) (any, error) {
	var params ListParams
	if err := decodeParams(req.Params, &params, false); err != nil {
		return nil, err
	}
	query, err := params.Query()
	if err != nil {
		return nil, err
	}
	tasks, page, err := d.registry.List(ctx, caller.Name, query)
	if err != nil {
		return nil, err
	}
	return ListResult{
		Tasks:      tasks,
		Pagination: page,
		Filters:    ListFilters{Status: string(query.Status), Skill: query.Skill},
	}, nil
}

func (d *Dispatcher) handleCancel(ctx context.Context, caller credential.Credential, req Request) (any, error) {
	var params CancelParams
	if err := decodeParams(req.Params, &params, true); err != nil {
		return nil, err
	}
	return d.registry.Cancel(ctx, params.TaskID, caller.Name)
}
