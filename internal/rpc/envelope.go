package rpc

import (
	"bytes"
	"encoding/json"
)

// Version 是响应中固定的 jsonrpc 字段。
const Version = "2.0"

// Request 是入站 JSON-RPC 请求。ID 以原始 JSON 保存，响应时原样回写。
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response 是出站 JSON-RPC 响应，Result 与 Error 互斥。
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error 是 JSON-RPC 错误对象。
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func success(id json.RawMessage, result any) Response {
	return Response{JSONRPC: Version, Result: result, ID: normalizeID(id)}
}

func failure(id json.RawMessage, rpcErr *Error) Response {
	return Response{JSONRPC: Version, Error: rpcErr, ID: normalizeID(id)}
}

// normalizeID 保留字符串、数字与 null，其他形态的 id 按 null 处理。
func normalizeID(id json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	switch trimmed[0] {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'n':
		return trimmed
	default:
		return json.RawMessage("null")
	}
}

// ParseRequest 解析请求体。返回的 *Error 已经是可直接回写的协议错误。
// 只有语法错误才是 Parse error；JSON 合法但结构不对时返回 Invalid Request，
// 并尽量保留调用方的 id。
func ParseRequest(body []byte) (Request, *Error) {
	if !json.Valid(body) {
		return Request{}, &Error{Code: CodeParseError, Message: "Parse error"}
	}
	var raw struct {
		JSONRPC json.RawMessage `json:"jsonrpc"`
		Method  json.RawMessage `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, &Error{Code: CodeInvalidRequest, Message: "Invalid Request: body must be a JSON object"}
	}
	req := Request{Params: raw.Params, ID: raw.ID}
	if !decodeString(raw.JSONRPC, &req.JSONRPC) || (req.JSONRPC != "" && req.JSONRPC != Version) {
		return req, &Error{Code: CodeInvalidRequest, Message: "Invalid Request: jsonrpc must be \"2.0\""}
	}
	if !decodeString(raw.Method, &req.Method) {
		return req, &Error{Code: CodeInvalidRequest, Message: "Invalid Request: method must be a string"}
	}
	if req.Method == "" {
		return req, &Error{Code: CodeInvalidRequest, Message: "Invalid Request: method is required"}
	}
	return req, nil
}

// decodeString 接受缺省、null 或字符串，其他类型返回 false。
func decodeString(raw json.RawMessage, dst *string) bool {
	if len(raw) == 0 {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}
