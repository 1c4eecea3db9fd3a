package llm

import (
	"context"
	"strings"
)

// Request 描述发送给大模型的一次生成请求。
type Request struct {
	// System 为系统提示词，可为空。
	System string
	// Prompt 为用户输入。
	Prompt string
	// JSON 要求模型只输出 JSON 对象。
	JSON bool
	// MaxTokens 为 0 时使用提供方默认值。
	MaxTokens int
}

// Response 是大模型返回的文本。
type Response struct {
	Text  string
	Model string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// StripCodeFence 去掉模型常见的 ```json 包裹。
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
