package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/escrowhouse/auction-engine/pkg/types"
)

// Sink receives committed notifications for delivery outside the engine
// (websocket broadcast, journal, test capture).
type Sink interface {
	Emit(ctx context.Context, event types.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event types.Event)

func (f SinkFunc) Emit(ctx context.Context, event types.Event) {
	f(ctx, event)
}

// ChannelSink buffers events on a channel, mainly for tests and tools
// that want to consume the stream directly.
type ChannelSink struct {
	events chan types.Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan types.Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event types.Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan types.Event {
	return s.events
}

// Stream is the append-only notification log plus an asynchronous
// dispatcher fanning committed events out to sinks. The log append
// happens inside the engine's commit; only sink delivery is async.
type Stream struct {
	mu  sync.Mutex
	log []types.Event

	sinks     []Sink
	ch        chan types.Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewStream(buffer int, sinks ...Sink) *Stream {
	if buffer <= 0 {
		buffer = 64
	}

	s := &Stream{
		sinks: sinks,
		ch:    make(chan types.Event, buffer),
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *Stream) run() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.ch:
			s.fanOut(event)
		case <-s.done:
			for {
				select {
				case event := <-s.ch:
					s.fanOut(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Stream) fanOut(event types.Event) {
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Emit(context.Background(), event)
	}
}

// Attach adds a sink. Events committed before the attach are not
// replayed; consumers needing history read it from History.
func (s *Stream) Attach(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Append records the event in the log and queues it for sink delivery.
// Delivery never blocks a commit: when the dispatch buffer is full the
// event is still in the log but the fan-out is counted as dropped.
func (s *Stream) Append(event types.Event) {
	if s == nil || s.closed.Load() {
		return
	}

	s.mu.Lock()
	s.log = append(s.log, event)
	s.mu.Unlock()

	select {
	case s.ch <- event:
	case <-s.done:
	default:
		s.dropped.Add(1)
	}
}

// History returns a copy of the full notification log, oldest first.
func (s *Stream) History() []types.Event {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Event, len(s.log))
	copy(out, s.log)
	return out
}

// Dropped reports how many events missed sink delivery.
func (s *Stream) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close drains queued events to the sinks and stops the dispatcher.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
	})
}
