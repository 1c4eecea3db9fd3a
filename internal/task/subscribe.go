package task

import "context"

// subscriber 持有一个容量为 1 的通道，慢速消费者只会看到最新快照。
type subscriber struct {
	ch chan Task
}

func (s *subscriber) offer(t Task) {
	select {
	case s.ch <- t:
		return
	default:
	}
	// 丢弃尚未被读取的旧快照，保证通道里始终是最新状态。
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- t:
	default:
	}
}

// Subscribe 返回任务快照流：先发送当前快照，之后仅在 status 或 progress
// 变化时发送，终态快照发出后通道关闭。ctx 结束时通道同样关闭。
// 断线期间的变化不会补发。
func (r *Registry) Subscribe(ctx context.Context, id, owner string) (<-chan Task, error) {
	r.mu.Lock()
	e, err := r.lookup(id, owner)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	sub := &subscriber{ch: make(chan Task, 1)}
	sub.ch <- *cloneTask(e.task)
	if e.task.Status.Terminal() {
		close(sub.ch)
		r.mu.Unlock()
		return sub.ch, nil
	}
	if e.subscribers == nil {
		e.subscribers = make(map[*subscriber]struct{})
	}
	e.subscribers[sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.unsubscribe(e, sub)
	}()
	return sub.ch, nil
}

func (r *Registry) unsubscribe(e *entry, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := e.subscribers[sub]; !ok {
		return
	}
	delete(e.subscribers, sub)
	close(sub.ch)
}

// publish 必须在持有写锁时调用。
func (r *Registry) publish(e *entry) {
	if len(e.subscribers) == 0 {
		return
	}
	snapshot := *cloneTask(e.task)
	terminal := snapshot.Status.Terminal()
	for sub := range e.subscribers {
		sub.offer(snapshot)
		if terminal {
			delete(e.subscribers, sub)
			close(sub.ch)
		}
	}
}
