package federation

import (
	"context"
	"sync"
)

// generation is one use of the barrier. err is set before done is closed.
type generation struct {
	done chan struct{}
	err  error
}

// barrier is a reusable rendezvous for a fixed number of parties. Aborting
// it releases every waiter with the abort error, now and for all later
// waits.
type barrier struct {
	mu      sync.Mutex
	size    int
	arrived int
	gen     *generation
	err     error
}

func newBarrier(size int) *barrier {
	return &barrier{size: size, gen: &generation{done: make(chan struct{})}}
}

// wait blocks until all parties have arrived. A cancelled ctx aborts the
// barrier for everyone: a party that stops mid-step cannot be waited out.
func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return err
	}
	g := b.gen
	b.arrived++
	if b.arrived == b.size {
		b.arrived = 0
		b.gen = &generation{done: make(chan struct{})}
		close(g.done)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		b.abort(ctx.Err())
		<-g.done
		return g.err
	}
}

// abort fails the current and all future generations with err. The first
// abort wins.
func (b *barrier) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.err = err
	b.gen.err = err
	close(b.gen.done)
}
