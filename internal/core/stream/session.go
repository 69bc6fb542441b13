package stream

import (
	"sync"
	"time"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// Session holds one bounded outbound queue for an event-stream client.
// The queue is a fixed-capacity ring buffer; when full, the oldest unread
// event is evicted to admit a new one. Status is more valuable than
// history, so freshness wins over completeness under load.
type Session struct {
	id string

	mu         sync.Mutex
	buf        []models.StreamEvent
	head       int
	count      int
	dropped    int
	closed     bool
	createdAt  time.Time
	lastActive time.Time

	wake chan struct{}
}

func newSession(id string, capacity int) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		buf:        make([]models.StreamEvent, capacity),
		createdAt:  now,
		lastActive: now,
		wake:       make(chan struct{}, 1),
	}
}

func (s *Session) ID() string { return s.id }

// publish enqueues without blocking. Eviction happens under the same lock
// as the insert so the queue length invariant always holds.
func (s *Session) publish(ev models.StreamEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.count == len(s.buf) {
		// Drop-oldest: advance head past the stalest unread event.
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		s.dropped++
	}
	s.buf[(s.head+s.count)%len(s.buf)] = ev
	s.count++
	s.lastActive = time.Now()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Next blocks for the next event up to the given timeout. On timeout it
// returns a synthetic keepalive so intermediary proxies keep the
// connection open. The second return is false once the stream has ended
// and the queue is drained.
func (s *Session) Next(timeout time.Duration) (models.StreamEvent, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if s.count > 0 {
			ev := s.buf[s.head]
			s.buf[s.head] = models.StreamEvent{}
			s.head = (s.head + 1) % len(s.buf)
			s.count--
			s.mu.Unlock()
			return ev, true
		}
		if s.closed {
			s.mu.Unlock()
			return models.StreamEvent{}, false
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-deadline.C:
			return models.StreamEvent{
				Type:      models.StreamEventKeepalive,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}, true
		}
	}
}

// close drains remaining items and marks end-of-stream.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.head = 0
	s.count = 0
	for i := range s.buf {
		s.buf[i] = models.StreamEvent{}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of unread events.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Dropped returns how many events were evicted under overflow.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}
