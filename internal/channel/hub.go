package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lammesen/netops-be/internal/job"
)

// Hub is the in-memory live update channel: one topic per job, any number
// of concurrent subscribers per topic. Delivery is best-effort: a
// subscriber that falls behind loses old log events first, never status or
// complete events. Topics are reclaimed once the job is terminal, no
// subscribers remain and the grace period has elapsed.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	buffer int
	grace  time.Duration
	logger *slog.Logger
	closed bool
}

type topic struct {
	subs     map[*Subscription]struct{}
	current  job.Status
	terminal bool
}

// Subscription is one observer's consumable event stream. Events arrive in
// publish order; the initial event is always the job's current aggregate
// status at subscribe time.
type Subscription struct {
	mu     sync.Mutex
	queue  []job.LiveEvent
	max    int
	notify chan struct{}
	closed bool
}

// NewHub creates a hub with the given per-subscriber buffer size and
// post-terminal reclaim grace period.
func NewHub(buffer int, grace time.Duration, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		topics: make(map[string]*topic),
		buffer: buffer,
		grace:  grace,
		logger: logger,
	}
}

// Subscribe attaches an observer to a job's topic. The caller supplies the
// job's current status from the store; it is delivered immediately so a
// mid-job observer starts from a consistent snapshot. Subscribing to an
// already-reclaimed terminal job yields the status and complete events and
// an exhausted stream; the observer resynchronizes host detail via the
// read API.
func (h *Hub) Subscribe(jobID string, current job.Status) *Subscription {
	sub := &Subscription{
		max:    h.buffer,
		notify: make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[jobID]
	if !ok {
		if current.Terminal() || h.closed {
			sub.offer(job.StatusEvent(current))
			if current.Terminal() {
				sub.offer(job.CompleteEvent(current))
			}
			sub.close()
			return sub
		}
		t = &topic{subs: make(map[*Subscription]struct{}), current: current}
		h.topics[jobID] = t
	}

	sub.offer(job.StatusEvent(t.current))
	if t.terminal {
		sub.offer(job.CompleteEvent(t.current))
		sub.close()
		return sub
	}

	t.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches an observer and closes its stream. Safe to call
// after the hub already closed the subscription.
func (h *Hub) Unsubscribe(jobID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[jobID]; ok {
		delete(t.subs, sub)
		if t.terminal && len(t.subs) == 0 {
			h.scheduleReclaim(jobID)
		}
	}
	sub.close()
}

// Publish fans an event out to every subscriber of the job's topic. It
// returns job.ErrChannelClosed when the topic was already torn down;
// callers log and drop the event.
func (h *Hub) Publish(jobID string, ev job.LiveEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[jobID]
	if !ok || t.terminal {
		return job.ErrChannelClosed
	}

	if ev.Kind == job.EventStatus {
		t.current = ev.Status
	}
	for sub := range t.subs {
		sub.offer(ev)
	}
	return nil
}

// Complete publishes the final event for a job and marks its topic
// terminal. Duplicate calls are suppressed, so exactly one complete event
// reaches each connected subscriber. Completing a job with no topic leaves
// a terminal one behind (reclaimed after the grace period) so observers
// holding a pre-terminal store snapshot still see the final state.
func (h *Hub) Complete(jobID string, status job.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	t, ok := h.topics[jobID]
	if !ok {
		// Nobody is connected, but a subscriber racing this completion may
		// hold a pre-terminal store snapshot. Keep a terminal topic around
		// for the grace period so that late Subscribe takes the replay path
		// instead of waiting on a complete event that already happened.
		h.topics[jobID] = &topic{
			subs:     make(map[*Subscription]struct{}),
			current:  status,
			terminal: true,
		}
		h.scheduleReclaim(jobID)
		return
	}
	if t.terminal {
		return
	}

	t.current = status
	t.terminal = true
	for sub := range t.subs {
		sub.offer(job.CompleteEvent(status))
	}
	if len(t.subs) == 0 {
		h.scheduleReclaim(jobID)
	}
}

// Close tears down every topic and subscriber stream; used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, t := range h.topics {
		for sub := range t.subs {
			sub.close()
		}
		delete(h.topics, id)
	}
}

// Topics reports the number of live topics. Exposed for tests and the
// health endpoint.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

// scheduleReclaim arms the grace timer for a terminal topic. Called with
// h.mu held. A subscriber arriving during the grace period keeps the topic
// alive; reclaim is re-armed when the last one leaves.
func (h *Hub) scheduleReclaim(jobID string) {
	time.AfterFunc(h.grace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		t, ok := h.topics[jobID]
		if !ok || !t.terminal || len(t.subs) > 0 {
			return
		}
		delete(h.topics, jobID)
		if h.logger != nil {
			h.logger.Debug("Live channel reclaimed", slog.String("job_id", jobID))
		}
	})
}

// offer appends an event to the subscriber's queue. When the buffer is
// full the oldest log event is discarded first; status and complete events
// are never dropped, so the queue can exceed max only by the handful of
// status transitions a job has.
func (s *Subscription) offer(ev job.LiveEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.queue = append(s.queue, ev)
	if len(s.queue) > s.max {
		for i, queued := range s.queue {
			if queued.Kind == job.EventLog {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks for the next event. ok is false once the stream is exhausted
// (subscription closed and queue drained) or ctx is done.
func (s *Subscription) Next(ctx context.Context) (job.LiveEvent, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return job.LiveEvent{}, false
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return job.LiveEvent{}, false
		}
	}
}
