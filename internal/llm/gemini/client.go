package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"a2a-agent/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModelName = "gemini-2.5-flash"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
	defaultRetries   = 2
)

// Config 描述了调用 Gemini generateContent 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// Retries 为 429 与 5xx 响应的额外重试次数。
	Retries int
	Backoff time.Duration
}

// Client 通过 REST 接口调用 Gemini。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	retries     int
	backoff     time.Duration
	httpClient  *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: API key not configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       normalizeModel(cfg.Model),
		temperature: orFloat(cfg.Temperature, 0.2),
		maxTokens:   orInt(cfg.MaxTokens, defaultMaxTokens),
		retries:     retries,
		backoff:     backoff,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Generate 调用 generateContent 并返回第一段非空文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}
	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.model)

	var raw []byte
	for attempt := 0; ; attempt++ {
		status, payload, err := c.send(ctx, url, body)
		if err == nil {
			raw = payload
			break
		}
		if attempt >= c.retries || !retryable(status) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt+1)):
		}
	}

	var result generateContentResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	text := result.FirstText()
	if text == "" {
		if result.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", result.PromptFeedback.BlockReason)
		}
		return nil, errors.New("gemini: empty response")
	}
	return &llm.Response{Text: strings.TrimSpace(text), Model: strings.TrimPrefix(c.model, "models/")}, nil
}

func (c *Client) send(ctx context.Context, url string, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := payload
		if len(snippet) > 2048 {
			snippet = snippet[:2048]
		}
		return resp.StatusCode, nil, fmt.Errorf("gemini API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.StatusCode, payload, nil
}

func (c *Client) buildRequestBody(req llm.Request) map[string]any {
	generation := map[string]any{
		"temperature":     c.temperature,
		"maxOutputTokens": orInt(req.MaxTokens, c.maxTokens),
	}
	if req.JSON {
		generation["responseMimeType"] = "application/json"
	}
	body := map[string]any{
		"contents": []map[string]any{{
			"role":  "user",
			"parts": []map[string]string{{"text": req.Prompt}},
		}},
		"generationConfig": generation,
	}
	if system := strings.TrimSpace(req.System); system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": system}},
		}
	}
	return body
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelName
	}
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (r generateContentResponse) FirstText() string {
	for _, candidate := range r.Candidates {
		for _, part := range candidate.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}
