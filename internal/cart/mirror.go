package cart

import (
	"context"
	"sync"

	"github.com/mmeshcher/storefront/internal/model"
)

type mirrorOp struct {
	creds     model.Credentials
	productID string
	size      string
	quantity  int
	add       bool
}

// mirror выполняет серверные изменения строго в порядке постановки, по одному за раз.
// После close новые изменения не принимаются.
type mirror struct {
	run func(ctx context.Context, op mirrorOp)

	mu       sync.Mutex
	idle     *sync.Cond
	queue    []mirrorOp
	draining bool
	closed   bool
}

func newMirror(run func(ctx context.Context, op mirrorOp)) *mirror {
	q := &mirror{run: run}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// enqueue возвращает false, если очередь уже закрыта.
func (q *mirror) enqueue(ctx context.Context, op mirrorOp) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.queue = append(q.queue, op)
	if q.draining {
		return true
	}
	q.draining = true
	// Изменение уже применено локально и не должно прерываться вместе с запросом.
	go q.drain(context.WithoutCancel(ctx))
	return true
}

func (q *mirror) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.draining = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		op := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.run(ctx, op)
	}
}

func (q *mirror) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.draining {
		q.idle.Wait()
	}
}

func (q *mirror) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wait()
}
