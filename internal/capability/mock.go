package capability

import (
	"context"
	"fmt"
	"time"

	"a2a-agent/internal/task"
)

// NewMockHandlers 返回离线可用的技能实现，输出固定结构的示例数据。
// latency 模拟外部调用耗时，会响应 ctx 取消。
func NewMockHandlers(latency time.Duration) map[string]Handler {
	return map[string]Handler{
		SkillSummarize: HandlerFunc(func(ctx context.Context, input task.Input) (map[string]any, error) {
			text, err := requireText(input)
			if err != nil {
				return nil, err
			}
			if err := sleep(ctx, latency); err != nil {
				return nil, err
			}
			runes := []rune(text)
			head := runes
			if len(head) > 100 {
				head = head[:100]
			}
			summary := fmt.Sprintf("Summary of %d characters: %s...", len(runes), string(head))
			return summaryResult(text, summary, IntParam(input.Parameters, "max_words", DefaultMaxWords)), nil
		}),
		SkillSentiment: HandlerFunc(func(ctx context.Context, input task.Input) (map[string]any, error) {
			if _, err := requireText(input); err != nil {
				return nil, err
			}
			if err := sleep(ctx, latency); err != nil {
				return nil, err
			}
			return map[string]any{
				"sentiment":  "positive",
				"confidence": 0.85,
				"scores": map[string]any{
					"positive": 0.85,
					"negative": 0.10,
					"neutral":  0.05,
				},
			}, nil
		}),
		SkillExtract: HandlerFunc(func(ctx context.Context, input task.Input) (map[string]any, error) {
			if _, err := requireText(input); err != nil {
				return nil, err
			}
			if err := sleep(ctx, latency); err != nil {
				return nil, err
			}
			return map[string]any{
				"extracted_data": map[string]any{
					"entities":  []any{"mock_entity_1", "mock_entity_2"},
					"dates":     []any{"2025-09-21"},
					"locations": []any{"Google Cloud"},
				},
				"confidence": 0.92,
			}, nil
		}),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
