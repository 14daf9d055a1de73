package eventbus

import (
	"fmt"
	"sync"

	"github.com/runoshun/autocrew/internal/domain"
)

// subscriber owns an unbounded FIFO of pending events.
type subscriber struct {
	fn      func(domain.Event)
	logger  domain.Logger
	notify  chan struct{}
	done    chan struct{}
	id      string
	queue   []domain.Event
	mu      sync.Mutex
	stopped sync.Once
}

func newSubscriber(id string, fn func(domain.Event), logger domain.Logger) *subscriber {
	return &subscriber{
		id:     id,
		fn:     fn,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue appends e. It returns false when the backlog exceeds maxPending.
func (s *subscriber) enqueue(e domain.Event, maxPending int) bool {
	s.mu.Lock()
	if len(s.queue) >= maxPending {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// run drains the queue until stop is called.
func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()

			for _, e := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.deliver(e)
			}
		}
	}
}

// deliver isolates panics in the callback.
func (s *subscriber) deliver(e domain.Event) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error(e.FeatureID, "eventbus", fmt.Sprintf("subscriber %s panicked on %s: %v", s.id, e.Type, r))
		}
	}()
	s.fn(e)
}

func (s *subscriber) stop() {
	s.stopped.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
	})
}
