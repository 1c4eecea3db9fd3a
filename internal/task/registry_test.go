package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	xerrors "a2a-agent/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry() *Registry {
	clock := &fakeClock{now: time.Date(2025, 9, 21, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(WithClock(clock.Now))
}

func mustCreate(t *testing.T, r *Registry, id, owner, skill string) *Task {
	t.Helper()
	created, err := r.Create(context.Background(), CreateRequest{ID: id, Skill: skill, Owner: owner, Input: Input{Text: "hello"}})
	if err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	return created
}

func progress(p int) *int { return &p }

func TestRegistryCreateGeneratesIDAndRejectsDuplicates(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	generated := mustCreate(t, r, "", "alice", "text.summarize")
	if generated.ID == "" {
		t.Fatalf("expected generated id")
	}
	if generated.Status != StatusPending || generated.Result != nil || generated.Error != nil {
		t.Fatalf("unexpected new task: %+v", generated)
	}

	mustCreate(t, r, "fixed", "alice", "text.summarize")
	_, err := r.Create(ctx, CreateRequest{ID: "fixed", Skill: "text.summarize", Owner: "alice"})
	if !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := r.Create(ctx, CreateRequest{Skill: "text.summarize"}); xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
		t.Fatalf("expected invalid params for missing owner, got %v", err)
	}
}

func TestRegistryTerminalStatesAreSticky(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")

	if _, err := r.Transition(ctx, "t1", Update{Status: StatusRunning, Progress: progress(10)}); err != nil {
		t.Fatalf("start task: %v", err)
	}
	done, err := r.Transition(ctx, "t1", Update{Status: StatusCompleted, Result: map[string]any{"summary": "ok"}, Progress: progress(100)})
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if done.CompletedAt == nil || done.Error != nil || done.Result["summary"] != "ok" {
		t.Fatalf("unexpected completed task: %+v", done)
	}

	_, err = r.Transition(ctx, "t1", Update{Status: StatusFailed, Error: &ErrorInfo{Code: "X", Message: "late"}})
	if !stdErrors.Is(err, ErrTaskTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if err := r.SetProgress(ctx, "t1", 50); !stdErrors.Is(err, ErrTaskTerminal) {
		t.Fatalf("expected terminal error for progress, got %v", err)
	}

	got, err := r.Get(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted || got.Error != nil || got.Result["summary"] != "ok" || got.Progress != 100 {
		t.Fatalf("terminal task was modified: %+v", got)
	}
}

func TestRegistryResultAndErrorAreExclusive(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")
	_, _ = r.Transition(ctx, "t1", Update{Status: StatusRunning})
	failed, err := r.Transition(ctx, "t1", Update{
		Status: StatusFailed,
		Result: map[string]any{"ignored": true},
		Error:  &ErrorInfo{Code: "CAPABILITY_FAILURE", Message: "boom"},
	})
	if err != nil {
		t.Fatalf("fail task: %v", err)
	}
	if failed.Result != nil || failed.Error == nil || failed.FailedAt == nil {
		t.Fatalf("failed task must carry only error: %+v", failed)
	}
}

func TestRegistryRejectsIllegalTransitions(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")

	if _, err := r.Transition(ctx, "t1", Update{Status: StatusCompleted}); xerrors.CodeOf(err) != CodeTaskInvalidState {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}
	if _, err := r.Transition(ctx, "t1", Update{Status: StatusRejected}); err != nil {
		t.Fatalf("pending -> rejected: %v", err)
	}

	mustCreate(t, r, "t2", "alice", "text.summarize")
	_, _ = r.Transition(ctx, "t2", Update{Status: StatusRunning})
	if _, err := r.Transition(ctx, "t2", Update{Status: StatusInputRequired}); err != nil {
		t.Fatalf("running -> input-required: %v", err)
	}
	if _, err := r.Transition(ctx, "t2", Update{Status: StatusRunning}); err != nil {
		t.Fatalf("input-required -> running: %v", err)
	}
	if _, err := r.Transition(ctx, "t2", Update{Status: StatusPending}); err == nil {
		t.Fatalf("running -> pending must be rejected")
	}
}

func TestRegistryOwnerIsolation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "b1", "bob", "text.summarize")

	if _, err := r.Get(ctx, "b1", "alice"); !stdErrors.Is(err, ErrTaskForbidden) {
		t.Fatalf("expected forbidden on get, got %v", err)
	}
	if _, err := r.Cancel(ctx, "b1", "alice"); !stdErrors.Is(err, ErrTaskForbidden) {
		t.Fatalf("expected forbidden on cancel, got %v", err)
	}
	if _, err := r.Subscribe(ctx, "b1", "alice"); !stdErrors.Is(err, ErrTaskForbidden) {
		t.Fatalf("expected forbidden on subscribe, got %v", err)
	}
	tasks, page, err := r.List(ctx, "alice", ListQuery{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 || page.TotalTasks != 0 {
		t.Fatalf("alice must not see bob's tasks: %+v", tasks)
	}
	if _, err := r.Get(ctx, "missing", "alice"); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistryCancel(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")

	canceled, err := r.Cancel(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != StatusCanceled || canceled.CanceledAt == nil {
		t.Fatalf("unexpected canceled task: %+v", canceled)
	}

	mustCreate(t, r, "t2", "alice", "text.summarize")
	_, _ = r.Transition(ctx, "t2", Update{Status: StatusRunning})
	_, _ = r.Transition(ctx, "t2", Update{Status: StatusCompleted, Result: map[string]any{"ok": true}})
	if _, err := r.Cancel(ctx, "t2", "alice"); xerrors.CodeOf(err) != CodeTaskInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
	got, _ := r.Get(ctx, "t2", "alice")
	if got.Status != StatusCompleted {
		t.Fatalf("completed task changed after cancel: %s", got.Status)
	}
}

func TestRegistryPagination(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	const total = 23
	for i := 0; i < total; i++ {
		mustCreate(t, r, fmt.Sprintf("t%02d", i), "alice", "text.summarize")
	}
	mustCreate(t, r, "other", "bob", "text.summarize")

	const limit = 5
	var seen []string
	for page := 1; ; page++ {
		tasks, info, err := r.List(ctx, "alice", ListQuery{Page: page, Limit: limit})
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		if info.TotalTasks != total || info.TotalPages != 5 {
			t.Fatalf("unexpected pagination: %+v", info)
		}
		if info.HasPreviousPage != (page > 1) {
			t.Fatalf("unexpected hasPreviousPage on page %d", page)
		}
		for _, task := range tasks {
			seen = append(seen, task.ID)
		}
		if !info.HasNextPage {
			break
		}
	}
	if len(seen) != total {
		t.Fatalf("expected %d tasks across pages, got %d", total, len(seen))
	}
	for i, id := range seen {
		want := fmt.Sprintf("t%02d", total-1-i)
		if id != want {
			t.Fatalf("position %d: got %s want %s", i, id, want)
		}
	}

	beyond, info, err := r.List(ctx, "alice", ListQuery{Page: 9, Limit: limit})
	if err != nil || len(beyond) != 0 || info.HasNextPage {
		t.Fatalf("expected empty page past the end, got %d tasks err=%v", len(beyond), err)
	}
}

func TestRegistryListFiltersAndValidation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "s1", "alice", "text.summarize")
	mustCreate(t, r, "s2", "alice", "text.analyze_sentiment")
	mustCreate(t, r, "s3", "alice", "text.analyze_sentiment")
	_, _ = r.Cancel(ctx, "s3", "alice")

	query, err := BuildListQuery(WithSkill("text.analyze_sentiment"), WithStatus(StatusPending))
	if err != nil {
		t.Fatalf("build query: %v", err)
	}
	tasks, _, err := r.List(ctx, "alice", query)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "s2" {
		t.Fatalf("unexpected filtered result: %+v", tasks)
	}

	for _, opts := range [][]ListOption{
		{WithLimit(200)},
		{WithLimit(0)},
		{WithPage(0)},
		{WithStatus("done")},
	} {
		if _, err := BuildListQuery(opts...); xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
			t.Fatalf("expected invalid params, got %v", err)
		}
	}
	if _, _, err := r.List(ctx, "alice", ListQuery{Page: 1, Limit: 101}); xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
		t.Fatalf("registry must validate the limit, got %v", err)
	}
}

func TestRegistryGetIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")
	_, _ = r.Transition(ctx, "t1", Update{Status: StatusRunning})
	_, _ = r.Transition(ctx, "t1", Update{Status: StatusCompleted, Result: map[string]any{"summary": "s"}})

	first, _ := r.Get(ctx, "t1", "alice")
	first.Result["summary"] = "mutated by caller"
	second, _ := r.Get(ctx, "t1", "alice")
	third, _ := r.Get(ctx, "t1", "alice")
	if !reflect.DeepEqual(second, third) || second.Result["summary"] != "s" {
		t.Fatalf("get must return identical, isolated snapshots")
	}
}

func TestRegistrySubscribeEmitsChangesUntilTerminal(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mustCreate(t, r, "t1", "alice", "text.summarize")

	events, err := r.Subscribe(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first := <-events
	if first.Status != StatusPending {
		t.Fatalf("expected current snapshot first, got %s", first.Status)
	}

	if _, err := r.Transition(ctx, "t1", Update{Status: StatusRunning, Progress: progress(10)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	running := <-events
	if running.Status != StatusRunning || running.Progress != 10 {
		t.Fatalf("unexpected running event: %+v", running)
	}

	// 相同进度不产生事件。
	_ = r.SetProgress(ctx, "t1", 10)
	_ = r.SetProgress(ctx, "t1", 60)
	mid := <-events
	if mid.Progress != 60 {
		t.Fatalf("expected progress event, got %+v", mid)
	}

	_, _ = r.Transition(ctx, "t1", Update{Status: StatusCompleted, Result: map[string]any{"ok": true}, Progress: progress(100)})
	last, ok := <-events
	if !ok || last.Status != StatusCompleted {
		t.Fatalf("expected terminal event, got %+v ok=%v", last, ok)
	}
	if _, ok := <-events; ok {
		t.Fatalf("stream must close after the terminal event")
	}
}

func TestRegistrySubscribeTerminalTaskClosesImmediately(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")
	_, _ = r.Cancel(ctx, "t1", "alice")

	events, err := r.Subscribe(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	snap, ok := <-events
	if !ok || snap.Status != StatusCanceled {
		t.Fatalf("expected canceled snapshot, got %+v", snap)
	}
	if _, ok := <-events; ok {
		t.Fatalf("expected closed stream")
	}
}

func TestRegistrySubscribeStopsOnContextCancel(t *testing.T) {
	r := newTestRegistry()
	mustCreate(t, r, "t1", "alice", "text.summarize")
	ctx, cancel := context.WithCancel(context.Background())
	events, err := r.Subscribe(ctx, "t1", "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-events
	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed stream after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after context cancel")
	}
}

func TestRegistryConcurrentWriters(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	mustCreate(t, r, "t1", "alice", "text.summarize")
	_, _ = r.Transition(ctx, "t1", Update{Status: StatusRunning})

	var wg sync.WaitGroup
	var succeeded sync.Map
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = r.Transition(ctx, "t1", Update{Status: StatusCompleted, Result: map[string]any{"i": i}})
			} else {
				_, err = r.Transition(ctx, "t1", Update{Status: StatusFailed, Error: &ErrorInfo{Code: "X", Message: "boom"}})
			}
			if err == nil {
				succeeded.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	succeeded.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Fatalf("exactly one terminal write must win, got %d", count)
	}
	got, _ := r.Get(ctx, "t1", "alice")
	if (got.Result != nil) == (got.Error != nil) {
		t.Fatalf("result and error must be exclusive: %+v", got)
	}
}
