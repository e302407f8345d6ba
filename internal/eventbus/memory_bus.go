package eventbus

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// memoryBus доставляет события в одной горутине, подписчики вызываются
// в порядке подписки, события в порядке публикации.
type memoryBus struct {
	mu     sync.RWMutex
	closed bool
	subs   []*memSub
	queue  chan *Envelope
	done   chan struct{}

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewMemoryBus создаёт шину с буфером на capacity событий
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		queue: make(chan *Envelope, capacity),
		done:  make(chan struct{}),
	}
	go mb.run()
	return mb
}

// Publish кладет событие в буфер. При полном буфере событие с приоритетом ниже
// PriorityNormal отбрасывается, остальные ждут места или отмены ctx.
func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrBusClosed
	}

	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	if ev.Priority < PriorityNormal {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	sub := &memSub{bus: mb, filter: f, handler: h, ctx: sctx, cancel: cancel}

	mb.mu.Lock()
	mb.subs = append(mb.subs, sub)
	mb.mu.Unlock()
	return sub, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.queue),
	}
}

// Close перестает принимать события и дожидается доставки уже принятых
func (mb *memoryBus) Close() error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.queue)
	mb.mu.Unlock()

	<-mb.done
	return nil
}

func (mb *memoryBus) run() {
	defer close(mb.done)
	for ev := range mb.queue {
		mb.mu.RLock()
		subs := slices.Clone(mb.subs)
		mb.mu.RUnlock()

		for _, sub := range subs {
			if sub.ctx.Err() != nil || !sub.filter.Match(ev) {
				continue
			}
			sub.handler(sub.ctx, ev)
			mb.consumed.Add(1)
		}
	}
}

type memSub struct {
	bus     *memoryBus
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *memSub) Unsubscribe() {
	s.cancel()
	s.bus.mu.Lock()
	s.bus.subs = slices.DeleteFunc(s.bus.subs, func(o *memSub) bool { return o == s })
	s.bus.mu.Unlock()
}
