package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Sync-mode credentials may hold a request open for their whole timeout, so
// callers using them should pass a client with a longer deadline.
const DefaultHTTPTimeout = 60 * time.Second

// Error codes returned by the agent.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeTaskNotFound      = -32001
	CodeForbidden         = -32002
	CodeInvalidState      = -32003
	CodeCapabilityFailure = -32004
	CodeTimeout           = -32005
	CodeUnauthenticated   = -32006
	CodeRateLimited       = -32007
	CodeRequestCanceled   = -32008
)

// Client talks to the agent's JSON-RPC endpoint.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	nextID     atomic.Int64

	mu          sync.RWMutex
	apiKey      string
	bearerToken string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates with the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBearerToken authenticates with an Authorization: Bearer header.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient instantiates a client for the agent located at rawURL.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// SetBearerToken overrides the stored bearer token.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = token
}

// Part is one piece of a message.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *FilePart      `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FilePart references a file by URI or carries base64 bytes.
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
}

// Message is the payload of message/send.
type Message struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// TextMessage builds a user message with a single text part.
func TextMessage(text string) Message {
	return Message{Role: "user", Parts: []Part{{Kind: "text", Text: text}}}
}

// Task mirrors the agent's task snapshot.
type Task struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Skill       string         `json:"skill"`
	Input       TaskInput      `json:"input"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *TaskError     `json:"error,omitempty"`
	Progress    int            `json:"progress"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Terminal reports whether the task reached a final state.
func (t Task) Terminal() bool {
	switch t.Status {
	case "completed", "canceled", "rejected", "failed":
		return true
	default:
		return false
	}
}

// TaskInput is the normalized input the agent stored.
type TaskInput struct {
	Text       string         `json:"text"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// TaskError is the failure recorded on a failed task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendOptions tunes message/send.
type SendOptions struct {
	TaskID string
	Skill  string
}

// SendResult is the outcome of message/send. Async callers get TaskID and
// Status only; sync callers also get the terminal Task.
type SendResult struct {
	TaskID string
	Status string
	Task   *Task
}

// ListOptions filters tasks/list. Zero values use server defaults.
type ListOptions struct {
	Page   int
	Limit  int
	Status string
	Skill  string
}

// Pagination describes a tasks/list page.
type Pagination struct {
	Page            int  `json:"page"`
	Limit           int  `json:"limit"`
	TotalTasks      int  `json:"totalTasks"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// TaskList is the tasks/list result.
type TaskList struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

// RPCError is an error object returned by the agent.
type RPCError struct {
	StatusCode int            `json:"-"`
	Code       int            `json:"code"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("a2a rpc error %d: %s", e.Code, e.Message)
}

// IsCode reports whether err is an RPCError with the given code.
func IsCode(err error, code int) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// SendMessage submits a message and lets the agent pick the skill unless
// opts.Skill is set.
func (c *Client) SendMessage(ctx context.Context, msg Message, opts SendOptions) (SendResult, error) {
	params := map[string]any{"message": msg}
	if opts.TaskID != "" {
		params["taskId"] = opts.TaskID
	}
	if opts.Skill != "" {
		params["skill"] = opts.Skill
	}
	var raw json.RawMessage
	if err := c.Call(ctx, "message/send", params, &raw); err != nil {
		return SendResult{}, err
	}
	return decodeSendResult(raw)
}

// Summarize calls the legacy text.summarize method. maxWords <= 0 uses the
// server default.
func (c *Client) Summarize(ctx context.Context, text string, maxWords int) (SendResult, error) {
	params := map[string]any{"text": text}
	if maxWords > 0 {
		params["max_words"] = maxWords
	}
	var raw json.RawMessage
	if err := c.Call(ctx, "text.summarize", params, &raw); err != nil {
		return SendResult{}, err
	}
	return decodeSendResult(raw)
}

func decodeSendResult(raw json.RawMessage) (SendResult, error) {
	var probe struct {
		ID     string `json:"id"`
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return SendResult{}, fmt.Errorf("decode send result: %w", err)
	}
	if probe.ID == "" {
		return SendResult{TaskID: probe.TaskID, Status: probe.Status}, nil
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return SendResult{}, fmt.Errorf("decode task: %w", err)
	}
	return SendResult{TaskID: t.ID, Status: t.Status, Task: &t}, nil
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := c.Call(ctx, "tasks/get", map[string]any{"taskId": taskID}, &t)
	return t, err
}

// CancelTask cancels a non-terminal task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := c.Call(ctx, "tasks/cancel", map[string]any{"taskId": taskID}, &t)
	return t, err
}

// ListTasks returns one page of the caller's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskList, error) {
	params := map[string]any{}
	if opts.Page > 0 {
		params["page"] = opts.Page
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Status != "" {
		params["status"] = opts.Status
	}
	if opts.Skill != "" {
		params["skill"] = opts.Skill
	}
	var list TaskList
	err := c.Call(ctx, "tasks/list", params, &list)
	return list, err
}

// WaitForTask polls tasks/get until the task is terminal or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if t.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call performs one JSON-RPC call and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return &RPCError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		envelope.Error.StatusCode = resp.StatusCode
		return envelope.Error
	}
	if resp.StatusCode >= 400 {
		return &RPCError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	apiKey, token := c.apiKey, c.bearerToken
	c.mu.RUnlock()
	switch {
	case apiKey != "":
		req.Header.Set("X-API-Key", apiKey)
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return nil, errors.New("a2a: no api key or bearer token configured")
	}
	return req, nil
}
