package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/llm"
	"a2a-agent/internal/task"
)

// DefaultMaxWords 是摘要未指定长度时的上限。
const DefaultMaxWords = 50

// WithHandlers 批量注册技能处理器。
func WithHandlers(handlers map[string]Handler) RouterOption {
	return func(r *Router) {
		for skill, h := range handlers {
			WithHandler(skill, h)(r)
		}
	}
}

// NewLLMHandlers 返回基于大模型实现的三个技能。
func NewLLMHandlers(client llm.Client) map[string]Handler {
	return map[string]Handler{
		SkillSummarize: &Summarizer{client: client},
		SkillSentiment: &SentimentAnalyzer{client: client},
		SkillExtract:   &Extractor{client: client},
	}
}

// Summarizer 生成限定词数的摘要。
type Summarizer struct {
	client llm.Client
}

// Invoke 实现 Handler。
func (s *Summarizer) Invoke(ctx context.Context, input task.Input) (map[string]any, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, err
	}
	maxWords := IntParam(input.Parameters, "max_words", DefaultMaxWords)
	resp, err := s.client.Generate(ctx, llm.Request{
		System: "You are a precise summarization engine. Reply with the summary only.",
		Prompt: fmt.Sprintf("Summarize the following text in at most %d words:\n\n%s", maxWords, text),
	})
	if err != nil {
		return nil, err
	}
	return summaryResult(text, strings.TrimSpace(resp.Text), maxWords), nil
}

func summaryResult(text, summary string, maxWords int) map[string]any {
	original := len([]rune(text))
	length := len([]rune(summary))
	ratio := 0.0
	if original > 0 {
		ratio = float64(length) / float64(original)
	}
	return map[string]any{
		"summary":           summary,
		"original_length":   original,
		"summary_length":    length,
		"compression_ratio": ratio,
		"max_words":         maxWords,
	}
}

// SentimentAnalyzer 判断文本情绪倾向。
type SentimentAnalyzer struct {
	client llm.Client
}

const sentimentPrompt = `Analyze the sentiment of the text below. Respond with a JSON object:
{"sentiment": "positive" | "negative" | "neutral", "confidence": number between 0 and 1,
 "scores": {"positive": number, "negative": number, "neutral": number}}

Text: %s`

// Invoke 实现 Handler。
func (s *SentimentAnalyzer) Invoke(ctx context.Context, input task.Input) (map[string]any, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Generate(ctx, llm.Request{Prompt: fmt.Sprintf(sentimentPrompt, text), JSON: true})
	if err != nil {
		return nil, err
	}
	return parseSentiment(resp.Text)
}

func parseSentiment(raw string) (map[string]any, error) {
	var decoded struct {
		Sentiment  string             `json:"sentiment"`
		Confidence float64            `json:"confidence"`
		Scores     map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &decoded); err != nil {
		// 模型有时只回一个单词，例如 "Positive"。
		label := labelFromText(raw)
		if label == "" {
			return nil, xerrors.Wrap(xerrors.CodeCapabilityFailure, err, "unrecognised sentiment response")
		}
		decoded.Sentiment = label
	}
	label := strings.ToLower(strings.TrimSpace(decoded.Sentiment))
	if label != "positive" && label != "negative" && label != "neutral" {
		label = labelFromText(label)
		if label == "" {
			return nil, xerrors.New(xerrors.CodeCapabilityFailure, "unrecognised sentiment label")
		}
	}
	scores := map[string]any{}
	for _, key := range []string{"positive", "negative", "neutral"} {
		scores[key] = clampUnit(decoded.Scores[key])
	}
	confidence := clampUnit(decoded.Confidence)
	if confidence == 0 {
		if v, ok := scores[label].(float64); ok {
			confidence = v
		}
	}
	return map[string]any{
		"sentiment":  label,
		"confidence": confidence,
		"scores":     scores,
	}, nil
}

func labelFromText(text string) string {
	lower := strings.ToLower(text)
	for _, label := range []string{"negative", "positive", "neutral"} {
		if strings.Contains(lower, label) {
			return label
		}
	}
	return ""
}

// Extractor 从文本中抽取结构化实体。
type Extractor struct {
	client llm.Client
}

const extractPrompt = `Extract the entities from the following text.
Recognize persons, locations, organizations, dates, events, phone numbers and emails.
Respond with a JSON object {"extracted_data": {<entity type>: [values]}, "confidence": number between 0 and 1}.%s

Text: %s`

// Invoke 实现 Handler。parameters.schema 可以限定输出字段。
func (e *Extractor) Invoke(ctx context.Context, input task.Input) (map[string]any, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, err
	}
	hint := ""
	if schema, ok := input.Parameters["schema"]; ok && schema != nil {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidParams, err, "schema must be a JSON object")
		}
		hint = "\nThe extracted_data object must follow this schema: " + string(encoded)
	}
	resp, err := e.client.Generate(ctx, llm.Request{Prompt: fmt.Sprintf(extractPrompt, hint, text), JSON: true})
	if err != nil {
		return nil, err
	}
	return parseExtraction(resp.Text)
}

func parseExtraction(raw string) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCapabilityFailure, err, "extraction response is not valid JSON")
	}
	data, ok := decoded["extracted_data"].(map[string]any)
	if !ok {
		data = decoded
	}
	confidence, _ := decoded["confidence"].(float64)
	delete(data, "confidence")
	return map[string]any{
		"extracted_data": data,
		"confidence":     clampUnit(confidence),
	}, nil
}

// IntParam 读取整数参数，兼容 JSON 解码得到的 float64 与字符串。
func IntParam(params map[string]any, name string, def int) int {
	v, ok := params[name]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
