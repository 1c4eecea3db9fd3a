package rpc

import (
	"a2a-agent/internal/capability"
	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/task"
)

// JSON-RPC 错误码。-32000 段为本服务自定义。
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

var codeTable = map[xerrors.Code]int{
	xerrors.CodeInvalidParams:     CodeInvalidParams,
	xerrors.CodeConflict:          CodeInvalidParams,
	task.CodeTaskConflict:         CodeInvalidParams,
	capability.CodeUnknownSkill:   CodeInvalidParams,
	xerrors.CodeMethodNotFound:    CodeMethodNotFound,
	xerrors.CodeNotFound:          CodeTaskNotFound,
	task.CodeTaskNotFound:         CodeTaskNotFound,
	xerrors.CodeForbidden:         CodeForbidden,
	task.CodeTaskForbidden:        CodeForbidden,
	xerrors.CodeInvalidState:      CodeInvalidState,
	task.CodeTaskInvalidState:     CodeInvalidState,
	task.CodeTaskTerminal:         CodeInvalidState,
	xerrors.CodeCapabilityFailure: CodeCapabilityFailure,
	xerrors.CodeTimeout:           CodeTimeout,
	xerrors.CodeCanceled:          CodeRequestCanceled,
	xerrors.CodeUnauthenticated:   CodeUnauthenticated,
	// 队列故障保留原因，便于调用方判断是否重试。
	xerrors.CodeQueueFailure: CodeInternalError,
}

// ToError 把内部错误转换为协议错误。未登记的错误码一律视为内部错误，
// 只返回通用描述，细节留在日志中。
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	xe, ok := xerrors.From(err)
	if !ok {
		return internalError()
	}
	code, known := codeTable[xe.Code()]
	if !known {
		return internalError()
	}
	out := &Error{Code: code, Message: xe.Message()}
	if data := xe.Data(); len(data) > 0 {
		out.Data = data
	}
	return out
}

// StatusCode 返回协议错误对应的 HTTP 状态码。JSON-RPC 错误一般仍返回 200，
// 仅未认证与限流例外。
func StatusCode(rpcErr *Error) int {
	if rpcErr == nil {
		return 200
	}
	switch rpcErr.Code {
	case CodeUnauthenticated:
		return 401
	case CodeRateLimited:
		return 429
	default:
		return 200
	}
}

// ErrorResponse 构造不携带请求 id 的错误响应，用于分发之前就被拒绝的请求。
func ErrorResponse(rpcErr *Error) Response {
	return failure(nil, rpcErr)
}

func internalError() *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error"}
}

func methodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found: " + method}
}
