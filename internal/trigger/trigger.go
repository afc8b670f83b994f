// Package trigger wakes worker daemons when new queue work appears. Kicks are hints:
// a lost kick only delays processing until the next poll.
package trigger

import (
	"context"
	"sync"

	"ingest-worker-service/internal/entity"
)

type Kicker interface {
	Kick(ctx context.Context, typ entity.JobType) error
}

// Listener delivers kicks. The channel is closed when ctx ends.
type Listener interface {
	Listen(ctx context.Context) <-chan entity.JobType
}

// Noop drops kicks; its Listen channel never fires.
type Noop struct{}

func (Noop) Kick(context.Context, entity.JobType) error { return nil }

func (Noop) Listen(ctx context.Context) <-chan entity.JobType {
	ch := make(chan entity.JobType)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// Local fans kicks out to in-process listeners. Slow listeners miss kicks rather than
// block the caller.
type Local struct {
	mu   sync.Mutex
	subs map[chan entity.JobType]struct{}
}

func NewLocal() *Local {
	return &Local{subs: make(map[chan entity.JobType]struct{})}
}

func (l *Local) Kick(_ context.Context, typ entity.JobType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ch := range l.subs {
		select {
		case ch <- typ:
		default:
		}
	}
	return nil
}

func (l *Local) Listen(ctx context.Context) <-chan entity.JobType {
	ch := make(chan entity.JobType, 8)

	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, ch)
		close(ch)
		l.mu.Unlock()
	}()
	return ch
}
