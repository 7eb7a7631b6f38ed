package connectivity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/melibackend/offline-inventory/internal/utils"
)

// Event is a connectivity transition
type Event struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
	Seq    uint64    `json:"seq"`
}

// Monitor tracks the advisory online/offline state. Only changes produce
// events, and every subscriber sees every event in order.
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	seq         uint64
	subscribers map[*subscriber]struct{}
	closed      bool
	logger      *slog.Logger
}

// NewMonitor creates a monitor with the given initial state
func NewMonitor(initialOnline bool, logger *slog.Logger) *Monitor {
	return &Monitor{
		online:      initialOnline,
		subscribers: make(map[*subscriber]struct{}),
		logger:      utils.OrDefault(logger),
	}
}

// IsOnline returns the current state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a platform signal and reports whether it was a transition
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.online == online {
		return false
	}

	m.online = online
	m.seq++
	event := Event{Online: online, At: time.Now().UTC(), Seq: m.seq}
	for sub := range m.subscribers {
		sub.push(event)
	}

	m.logger.Info("Connectivity changed", "online", online, "seq", event.Seq)
	return true
}

// Subscribe returns a channel of future transitions and a function that
// ends the subscription. Slow readers never cause events to be dropped.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sub.close()
		return sub.out, func() {}
	}
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, sub)
			m.mu.Unlock()
			sub.close()
		})
	}
	return sub.out, cancel
}

// Close ends every subscription; later SetOnline calls are ignored
func (m *Monitor) Close() {
	m.mu.Lock()
	subs := m.subscribers
	m.subscribers = make(map[*subscriber]struct{})
	m.closed = true
	m.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

// subscriber buffers events without bound and forwards them in order
type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	done    bool
	out     chan Event
	stopped chan struct{}
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:     make(chan Event),
		stopped: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.done {
		s.done = true
		close(s.stopped)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done {
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.stopped:
			return
		}
	}
}
