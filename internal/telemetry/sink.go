package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfleet/engine/pkg/utils"
	"go.uber.org/zap"
)

// SinkConfig tunes the event stream buffers.
type SinkConfig struct {
	// QueueSize is the central intake buffer.
	QueueSize int
	// SubscriberBuffer is each subscription's channel capacity.
	SubscriberBuffer int
}

// DefaultSinkConfig returns buffer sizes suitable for a full bot fleet.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		QueueSize:        4096,
		SubscriberBuffer: 256,
	}
}

// Subscription is one consumer's view of the stream.
type Subscription struct {
	id     string
	kinds  map[Kind]bool
	ch     chan Event
	sink   *Sink
	closed atomic.Bool
}

// C returns the subscription's event channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the sink.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.sink.remove(s.id)
	}
}

func (s *Subscription) wants(kind Kind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// Sink is the append-only event stream. A single dispatcher goroutine
// preserves publish order for every subscriber.
type Sink struct {
	logger *zap.Logger
	config SinkConfig

	mu   sync.RWMutex
	subs map[string]*Subscription

	queue  chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
}

// NewSink creates and starts an event sink.
func NewSink(logger *zap.Logger, config SinkConfig) *Sink {
	if config.QueueSize <= 0 {
		config = DefaultSinkConfig()
	}

	s := &Sink{
		logger: logger.Named("telemetry"),
		config: config,
		subs:   make(map[string]*Subscription),
		queue:  make(chan Event, config.QueueSize),
		stopCh: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.dispatch()

	return s
}

// Subscribe registers a consumer for the given kinds. No kinds means all
// kinds. The caller must Close the subscription when done.
func (s *Sink) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		id:    utils.GenerateID("sub"),
		kinds: make(map[Kind]bool, len(kinds)),
		ch:    make(chan Event, s.config.SubscriberBuffer),
		sink:  s,
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()

	return sub
}

// remove detaches and closes a subscription. Holding the write lock
// excludes fanOut sends, so closing the channel here is safe.
func (s *Sink) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// Publish enqueues an event. It never blocks: when the intake buffer is
// full the oldest queued event is discarded to make room.
func (s *Sink) Publish(ev Event) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.published.Add(1)

	select {
	case s.queue <- ev:
		return
	default:
	}

	// Intake full: shed the oldest entry, then retry once.
	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.queue:
			s.fanOut(ev)
		}
	}
}

func (s *Sink) fanOut(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Subscriber lagging: drop its oldest event, retry once.
		select {
		case <-sub.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats reports sink counters.
type Stats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
	Queued      int   `json:"queued"`
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	s.mu.RLock()
	subs := len(s.subs)
	s.mu.RUnlock()

	return Stats{
		Published:   s.published.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: subs,
		Queued:      len(s.queue),
	}
}

// Stop drains the dispatcher and detaches all subscribers. Events published
// after Stop are discarded.
func (s *Sink) Stop() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("telemetry dispatcher did not stop in time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
		delete(s.subs, id)
	}
}
