package capability

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	xerrors "a2a-agent/internal/errors"
	"a2a-agent/internal/llm"
	"a2a-agent/internal/task"
)

func newTask(t *testing.T, registry *task.Registry, skill, text string) *task.Task {
	t.Helper()
	created, err := registry.Create(context.Background(), task.CreateRequest{
		Skill: skill,
		Owner: "tester",
		Input: task.Input{Text: text},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func TestRouterInvokeNormalizesErrors(t *testing.T) {
	registry := task.NewRegistry()
	router := NewRouter(registry,
		WithHardTimeout(20*time.Millisecond),
		WithHandler("boom", HandlerFunc(func(context.Context, task.Input) (map[string]any, error) {
			return nil, stdErrors.New("upstream 500")
		})),
		WithHandler("slow", HandlerFunc(func(ctx context.Context, _ task.Input) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})),
		WithHandler("panic", HandlerFunc(func(context.Context, task.Input) (map[string]any, error) {
			panic("handler bug")
		})),
		WithHandler("nil", HandlerFunc(func(context.Context, task.Input) (map[string]any, error) {
			return nil, nil
		})),
	)
	ctx := context.Background()

	if _, err := router.Invoke(ctx, "missing", task.Input{}); xerrors.CodeOf(err) != CodeUnknownSkill {
		t.Fatalf("expected unknown skill, got %v", err)
	}
	if _, err := router.Invoke(ctx, "boom", task.Input{}); xerrors.CodeOf(err) != xerrors.CodeCapabilityFailure {
		t.Fatalf("expected capability failure, got %v", err)
	}
	if _, err := router.Invoke(ctx, "slow", task.Input{}); xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, err := router.Invoke(ctx, "panic", task.Input{}); xerrors.CodeOf(err) != xerrors.CodeCapabilityFailure {
		t.Fatalf("expected capability failure for panic, got %v", err)
	}
	res, err := router.Invoke(ctx, "nil", task.Input{})
	if err != nil || res == nil {
		t.Fatalf("nil result must become an empty object, got %v %v", res, err)
	}
}

func TestRouterRunCompletesTask(t *testing.T) {
	registry := task.NewRegistry()
	router := NewRouter(registry, WithHandlers(NewMockHandlers(0)))
	created := newTask(t, registry, SkillSummarize, "Go is an open source programming language.")

	if err := router.Run(context.Background(), created.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := registry.Get(context.Background(), created.ID, "tester")
	if got.Status != task.StatusCompleted || got.Progress != 100 {
		t.Fatalf("unexpected task after run: %+v", got)
	}
	summary, _ := got.Result["summary"].(string)
	if !strings.HasPrefix(summary, "Summary of 42 characters") {
		t.Fatalf("unexpected summary %q", summary)
	}
	if got.Result["max_words"] != DefaultMaxWords {
		t.Fatalf("expected default max_words, got %v", got.Result["max_words"])
	}
}

func TestRouterRunFailsTask(t *testing.T) {
	registry := task.NewRegistry()
	router := NewRouter(registry, WithHandlers(NewMockHandlers(0)))
	created := newTask(t, registry, SkillSentiment, "")

	if err := router.Run(context.Background(), created.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := registry.Get(context.Background(), created.ID, "tester")
	if got.Status != task.StatusFailed || got.Error == nil || got.Result != nil {
		t.Fatalf("expected failed task, got %+v", got)
	}
	if got.Error.Code != string(xerrors.CodeInvalidParams) {
		t.Fatalf("unexpected error code %s", got.Error.Code)
	}
}

func TestRouterRunSkipsCanceledTask(t *testing.T) {
	registry := task.NewRegistry()
	called := false
	router := NewRouter(registry, WithHandler(SkillSummarize, HandlerFunc(func(context.Context, task.Input) (map[string]any, error) {
		called = true
		return map[string]any{}, nil
	})))
	created := newTask(t, registry, SkillSummarize, "text")
	if _, err := registry.Cancel(context.Background(), created.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := router.Run(context.Background(), created.ID); err != nil {
		t.Fatalf("run on canceled task: %v", err)
	}
	if called {
		t.Fatalf("handler must not run for a canceled task")
	}
}

func TestRouterDiscardsLateResult(t *testing.T) {
	registry := task.NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	router := NewRouter(registry, WithHandler(SkillSummarize, HandlerFunc(func(context.Context, task.Input) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"summary": "late"}, nil
	})))
	created := newTask(t, registry, SkillSummarize, "text")

	done := make(chan error, 1)
	go func() { done <- router.Run(context.Background(), created.ID) }()
	<-started
	if _, err := registry.Cancel(context.Background(), created.ID, "tester"); err != nil {
		t.Fatalf("cancel running task: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := registry.Get(context.Background(), created.ID, "tester")
	if got.Status != task.StatusCanceled || got.Result != nil {
		t.Fatalf("late result must be discarded, got %+v", got)
	}
}

type fakeLLM struct {
	reply   string
	request llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.request = req
	return &llm.Response{Text: f.reply}, nil
}

func TestSummarizerUsesMaxWords(t *testing.T) {
	client := &fakeLLM{reply: " Go is a language. "}
	handlers := NewLLMHandlers(client)
	res, err := handlers[SkillSummarize].Invoke(context.Background(), task.Input{
		Text:       "Go is an open source programming language that makes it simple to build software.",
		Parameters: map[string]any{"max_words": float64(20)},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(client.request.Prompt, "at most 20 words") {
		t.Fatalf("prompt does not carry max_words: %q", client.request.Prompt)
	}
	if res["summary"] != "Go is a language." || res["max_words"] != 20 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSentimentParsing(t *testing.T) {
	res, err := parseSentiment("```json\n{\"sentiment\":\"Negative\",\"scores\":{\"positive\":0.1,\"negative\":0.8,\"neutral\":0.1}}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res["sentiment"] != "negative" || res["confidence"] != 0.8 {
		t.Fatalf("unexpected sentiment: %+v", res)
	}

	res, err = parseSentiment("Positive")
	if err != nil || res["sentiment"] != "positive" {
		t.Fatalf("plain label fallback failed: %+v %v", res, err)
	}

	if _, err := parseSentiment("I cannot tell"); xerrors.CodeOf(err) != xerrors.CodeCapabilityFailure {
		t.Fatalf("expected capability failure, got %v", err)
	}
}

func TestExtractionParsing(t *testing.T) {
	res, err := parseExtraction(`{"extracted_data":{"persons":["John Doe"]},"confidence":0.7}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := res["extracted_data"].(map[string]any)
	if len(data["persons"].([]any)) != 1 || res["confidence"] != 0.7 {
		t.Fatalf("unexpected extraction: %+v", res)
	}

	res, err = parseExtraction(`{"emails":["john.doe@acmeinc.com"]}`)
	if err != nil {
		t.Fatalf("parse flat: %v", err)
	}
	if _, ok := res["extracted_data"].(map[string]any)["emails"]; !ok {
		t.Fatalf("flat object should be used as extracted data: %+v", res)
	}

	if _, err := parseExtraction("not json"); xerrors.CodeOf(err) != xerrors.CodeCapabilityFailure {
		t.Fatalf("expected capability failure, got %v", err)
	}
}

func TestIntParam(t *testing.T) {
	params := map[string]any{"a": float64(30), "b": "12", "c": 2.5, "d": 7}
	if IntParam(params, "a", 1) != 30 || IntParam(params, "b", 1) != 12 || IntParam(params, "d", 1) != 7 {
		t.Fatalf("unexpected conversions")
	}
	if IntParam(params, "c", 1) != 1 || IntParam(params, "missing", 5) != 5 {
		t.Fatalf("invalid values must fall back to default")
	}
}
