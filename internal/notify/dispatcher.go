package notify

import (
	"context"
	"errors"
	"sync"

	"bookline/internal/domain"
)

// Dispatcher pushes one notification to its recipient. Implementations must be
// safe for concurrent use; a returned error schedules a retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification) error
}

type DispatcherFunc func(ctx context.Context, n domain.Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n domain.Notification) error {
	return f(ctx, n)
}

// Forgetter is implemented by dispatchers that keep per-notification state.
// The relay calls Forget once it gives up on a notification.
type Forgetter interface {
	Forget(id int64)
}

// Fanout hands each notification to every sink and joins their errors. Sinks
// that already took a notification are skipped when the relay retries it, so
// a failing webhook does not replay it to websocket clients.
type Fanout struct {
	sinks []Dispatcher

	mu        sync.Mutex
	delivered map[int64]map[int]bool
}

func NewFanout(sinks ...Dispatcher) *Fanout {
	f := &Fanout{delivered: map[int64]map[int]bool{}}
	for _, d := range sinks {
		if d != nil {
			f.sinks = append(f.sinks, d)
		}
	}
	return f
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Dispatch(ctx context.Context, n domain.Notification) error {
	f.mu.Lock()
	done := make(map[int]bool, len(f.delivered[n.ID]))
	for i := range f.delivered[n.ID] {
		done[i] = true
	}
	f.mu.Unlock()

	var errs []error
	var ok []int
	for i, d := range f.sinks {
		if done[i] {
			continue
		}
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err)
			continue
		}
		ok = append(ok, i)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(errs) == 0 {
		delete(f.delivered, n.ID)
		return nil
	}
	if f.delivered[n.ID] == nil {
		f.delivered[n.ID] = map[int]bool{}
	}
	for _, i := range ok {
		f.delivered[n.ID][i] = true
	}
	return errors.Join(errs...)
}

func (f *Fanout) Forget(id int64) {
	f.mu.Lock()
	delete(f.delivered, id)
	f.mu.Unlock()
}

// pending reports how many notifications have a partial delivery recorded.
func (f *Fanout) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}
