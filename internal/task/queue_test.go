package task

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "a2a-agent/internal/errors"
)

func TestMemoryQueueDeliversToWorkers(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		_ = q.Consume(ctx, 2, func(_ context.Context, id string) error {
			mu.Lock()
			seen[id] = true
			mu.Unlock()
			wg.Done()
			return nil
		})
	}()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	waitGroup(t, &wg)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 deliveries, got %v", seen)
	}
}

func TestMemoryQueueFullAndClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Publish(ctx, "a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, "b"); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued id, got %d", q.Len())
	}

	_ = q.Close()
	_ = q.Close()
	if err := q.Publish(ctx, "c"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
	if err := q.Consume(ctx, 1, func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("consume on closed queue should return cleanly, got %v", err)
	}
}

func TestDeliveryEnvelope(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	body, err := encodeDelivery("node-1", "task-9", now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d, err := decodeDelivery(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.TaskID != "task-9" || d.Instance != "node-1" || !d.PublishedAt.Equal(now) {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if !d.accepts("node-1") || d.accepts("node-2") {
		t.Fatalf("instance filter is wrong")
	}

	bare, err := decodeDelivery([]byte(" legacy-id \n"))
	if err != nil || bare.TaskID != "legacy-id" || !bare.accepts("node-2") {
		t.Fatalf("expected bare id to be accepted, got %+v %v", bare, err)
	}
	for _, body := range []string{"", "{bad", `{"instance":"x"}`} {
		if _, err := decodeDelivery([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
	if _, err := encodeDelivery("", " ", now); err == nil {
		t.Fatalf("expected error for empty task id")
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName("a2a.tasks", ""); got != "a2a.tasks" {
		t.Fatalf("unexpected name %s", got)
	}
	if got := QueueName("a2a.tasks", " host-1 "); got != "a2a.tasks.host-1" {
		t.Fatalf("unexpected name %s", got)
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for deliveries")
	}
}
