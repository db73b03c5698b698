package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Hub is an in-process Notifier. Signals are coalesced: a subscriber that is
// still busy sees one pending change, not one per write.
type Hub struct {
	subs   *xsync.Map[string, *xsync.Map[uint64, *subscription]]
	nextID atomic.Uint64
}

type subscription struct {
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: xsync.NewMap[string, *xsync.Map[uint64, *subscription]](),
	}
}

// Publish wakes every subscription of key
func (h *Hub) Publish(ctx context.Context, key models.TandaKey) error {
	set, ok := h.subs.Load(key.String())
	if !ok {
		return nil
	}
	set.Range(func(_ uint64, s *subscription) bool {
		s.wake()
		return true
	})
	return nil
}

// PublishAll wakes every subscription, used after a transport reconnect
func (h *Hub) PublishAll() {
	h.subs.Range(func(_ string, set *xsync.Map[uint64, *subscription]) bool {
		set.Range(func(_ uint64, s *subscription) bool {
			s.wake()
			return true
		})
		return true
	})
}

// Subscribe registers onChange for key until the returned func is called or ctx ends
func (h *Hub) Subscribe(ctx context.Context, key models.TandaKey, onChange func()) (func(), error) {
	id := h.nextID.Add(1)
	s := &subscription{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	set, _ := h.subs.LoadOrStore(key.String(), xsync.NewMap[uint64, *subscription]())
	set.Store(id, s)

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.stop()
				set.Delete(id)
				return
			case <-s.done:
				return
			case <-s.signal:
				onChange()
			}
		}
	}()

	return func() {
		s.stop()
		set.Delete(id)
	}, nil
}

// Subscribers returns the number of live subscriptions for key
func (h *Hub) Subscribers(key models.TandaKey) int {
	set, ok := h.subs.Load(key.String())
	if !ok {
		return 0
	}
	return set.Size()
}

func (h *Hub) HealthCheck(ctx context.Context) error {
	return nil
}

func (h *Hub) Close() error {
	h.subs.Range(func(k string, set *xsync.Map[uint64, *subscription]) bool {
		set.Range(func(_ uint64, s *subscription) bool {
			s.stop()
			return true
		})
		h.subs.Delete(k)
		return true
	})
	return nil
}

func (s *subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
