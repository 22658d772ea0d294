package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lammesen/netops-be/internal/aggregator"
	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/device"
	"github.com/lammesen/netops-be/internal/executor"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"
)

// DefaultRetryWindow bounds how long after a job's start a retry may still
// be created.
const DefaultRetryWindow = 12 * time.Hour

// Queue is the dispatch queue between job creation and execution.
// Implemented by the RabbitMQ client.
type Queue interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// message is the queue payload: jobs travel by id, the store carries the
// rest.
type message struct {
	JobID string `json:"job_id"`
}

// Config holds dispatcher configuration and collaborators.
type Config struct {
	Logger      *slog.Logger
	Store       store.Store
	Queue       Queue
	Inventory   device.Inventory
	Aggregator  *aggregator.Aggregator
	Pool        *executor.Pool
	Hub         *channel.Hub
	RetryWindow time.Duration
}

// Dispatcher turns stored jobs into running work at the right time and
// enforces retry/cancel legality. It owns the scheduled→queued and
// →cancelled transitions; everything from the running claim onward belongs
// to the aggregator and the executor pool.
type Dispatcher struct {
	logger      *slog.Logger
	store       store.Store
	queue       Queue
	inventory   device.Inventory
	agg         *aggregator.Aggregator
	pool        *executor.Pool
	hub         *channel.Hub
	retryWindow time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a dispatcher.
func New(cfg *Config) *Dispatcher {
	window := cfg.RetryWindow
	if window <= 0 {
		window = DefaultRetryWindow
	}
	return &Dispatcher{
		logger:      cfg.Logger,
		store:       cfg.Store,
		queue:       cfg.Queue,
		inventory:   cfg.Inventory,
		agg:         cfg.Aggregator,
		pool:        cfg.Pool,
		hub:         cfg.Hub,
		retryWindow: window,
		timers:      make(map[string]*time.Timer),
	}
}

// CreateParams carries the Job Control API's create inputs.
type CreateParams struct {
	Type         job.Type
	TargetSpec   json.RawMessage
	Payload      json.RawMessage
	RequestedBy  string
	ScheduledFor *time.Time
}

// Create stores a new job (scheduled when a due time is given, queued
// otherwise) and submits it for dispatch.
func (d *Dispatcher) Create(ctx context.Context, p CreateParams) (*job.Job, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("unknown job type %q", p.Type)
	}

	jb := &job.Job{
		ID:           uuid.New().String(),
		Type:         p.Type,
		Status:       job.StatusQueued,
		TargetSpec:   p.TargetSpec,
		Payload:      p.Payload,
		RequestedBy:  p.RequestedBy,
		RequestedAt:  time.Now().UTC(),
		ScheduledFor: p.ScheduledFor,
	}
	if p.ScheduledFor != nil {
		jb.Status = job.StatusScheduled
	}

	if err := d.store.Create(ctx, jb); err != nil {
		return nil, err
	}

	d.logger.Info("Job created",
		slog.String("job_id", jb.ID),
		slog.String("job_type", string(jb.Type)),
		slog.String("status", string(jb.Status)),
	)

	if err := d.Submit(ctx, jb); err != nil {
		return nil, err
	}
	return jb, nil
}

// Submit makes a stored job eligible to run: queued jobs go straight onto
// the dispatch queue, scheduled jobs get a timer that fires at their due
// time.
func (d *Dispatcher) Submit(ctx context.Context, jb *job.Job) error {
	switch jb.Status {
	case job.StatusQueued:
		return d.publish(ctx, jb.ID)
	case job.StatusScheduled:
		if jb.ScheduledFor == nil {
			return fmt.Errorf("scheduled job %s has no due time", jb.ID)
		}
		d.armTimer(jb.ID, time.Until(*jb.ScheduledFor))
		return nil
	default:
		return job.ErrInvalidState
	}
}

// Retry creates a brand-new queued job copying the original's type, target
// spec and payload. Allowed only from failed, partial, queued or scheduled,
// and only while the original is within the retry window of its start (a
// job that never started has no window). The original job is never mutated.
func (d *Dispatcher) Retry(ctx context.Context, jobID string) (*job.Job, error) {
	orig, err := d.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch orig.Status {
	case job.StatusFailed, job.StatusPartial, job.StatusQueued, job.StatusScheduled:
	default:
		return nil, fmt.Errorf("%w: cannot retry job in status %s", job.ErrInvalidState, orig.Status)
	}

	if orig.StartedAt != nil && time.Since(*orig.StartedAt) > d.retryWindow {
		return nil, job.ErrRetryWindowExpired
	}

	retry := &job.Job{
		ID:          uuid.New().String(),
		Type:        orig.Type,
		Status:      job.StatusQueued,
		TargetSpec:  orig.TargetSpec,
		Payload:     orig.Payload,
		RequestedBy: orig.RequestedBy,
		RequestedAt: time.Now().UTC(),
	}

	if err := d.store.Create(ctx, retry); err != nil {
		return nil, err
	}

	d.logger.Info("Job retried",
		slog.String("job_id", retry.ID),
		slog.String("retry_of", orig.ID),
	)

	if err := d.publish(ctx, retry.ID); err != nil {
		return nil, err
	}
	return retry, nil
}

// Cancel transitions a scheduled or queued job to cancelled. Any other
// state, including a concurrent cancel that lost the race, yields
// job.ErrInvalidState. Cancellation is cooperative only: work already
// handed to the executor pool is never force-killed.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	if err := d.store.UpdateStatus(ctx, jobID, job.StatusCancelled, store.Fields{}); err != nil {
		return err
	}

	d.stopTimer(jobID)
	d.logger.Info("Job cancelled", slog.String("job_id", jobID))

	// Observers who subscribed while the job was pending get a terminal
	// notification; the dropped error just means nobody was listening.
	_ = d.hub.Publish(jobID, job.StatusEvent(job.StatusCancelled))
	d.hub.Complete(jobID, job.StatusCancelled)
	return nil
}

// Dispatch runs a due job: claims queued→running, resolves targets and
// fans out to the executor pool. It returns nil for outcomes the queue
// should not redeliver: cancelled jobs, zero targets, and resolver or
// summary-seed failures, which are recorded on the job itself.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) error {
	jb, err := d.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if err := d.agg.Begin(ctx, jb.ID); err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			d.logger.Info("Skipping dispatch, job no longer queued",
				slog.String("job_id", jb.ID),
				slog.String("status", string(jb.Status)),
			)
			return nil
		}
		return err
	}

	hosts, err := d.inventory.Resolve(ctx, jb.TargetSpec)
	if err != nil {
		d.logger.Error("Target resolution failed",
			slog.String("job_id", jb.ID),
			slog.String("error", err.Error()),
		)
		return d.agg.Fail(ctx, jb.ID, fmt.Errorf("target resolution failed: %w", err))
	}

	if len(hosts) == 0 {
		d.logger.Warn("Job resolved zero targets", slog.String("job_id", jb.ID))
		return d.agg.Fail(ctx, jb.ID, job.ErrJobHasNoTargets)
	}

	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	if err := d.agg.Expect(ctx, jb.ID, names); err != nil {
		// The running claim already happened; returning the error would
		// only requeue a message the next delivery skips as no longer
		// queued, stranding the job in running. Fail it instead, the same
		// way a resolver outage is handled.
		d.logger.Error("Failed to record expected hosts",
			slog.String("job_id", jb.ID),
			slog.String("error", err.Error()),
		)
		return d.agg.Fail(ctx, jb.ID, fmt.Errorf("failed to record expected hosts: %w", err))
	}

	d.logger.Info("Dispatching job to executor pool",
		slog.String("job_id", jb.ID),
		slog.String("job_type", string(jb.Type)),
		slog.Int("hosts", len(hosts)),
	)

	d.pool.Execute(ctx, jb, hosts)
	return nil
}

// Recover re-arms what a restart forgot: timers for scheduled jobs and
// queue entries for jobs that were queued when the process died.
func (d *Dispatcher) Recover(ctx context.Context) error {
	scheduled, err := d.store.List(ctx, store.Filter{Status: string(job.StatusScheduled)})
	if err != nil {
		return fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	for i := range scheduled {
		if err := d.Submit(ctx, &scheduled[i]); err != nil {
			d.logger.Error("Failed to re-arm scheduled job",
				slog.String("job_id", scheduled[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}

	queued, err := d.store.List(ctx, store.Filter{Status: string(job.StatusQueued)})
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for i := range queued {
		if err := d.publish(ctx, queued[i].ID); err != nil {
			d.logger.Error("Failed to re-publish queued job",
				slog.String("job_id", queued[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}

	d.logger.Info("Dispatcher recovery complete",
		slog.Int("scheduled", len(scheduled)),
		slog.Int("queued", len(queued)),
	)
	return nil
}

// Stop drops all pending timers. Scheduled jobs stay in the store and are
// re-armed by Recover on the next start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
}

func (d *Dispatcher) publish(ctx context.Context, jobID string) error {
	body, err := json.Marshal(message{JobID: jobID})
	if err != nil {
		return err
	}
	if err := d.queue.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

func (d *Dispatcher) armTimer(jobID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.timers[jobID]; ok {
		existing.Stop()
	}
	d.timers[jobID] = time.AfterFunc(delay, func() { d.fire(jobID) })

	d.logger.Info("Scheduled job armed",
		slog.String("job_id", jobID),
		slog.Duration("fires_in", delay),
	)
}

func (d *Dispatcher) stopTimer(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[jobID]; ok {
		timer.Stop()
		delete(d.timers, jobID)
	}
}

// fire moves a due scheduled job to queued and enqueues it. Losing the
// transition race means the job was cancelled in the meantime; the timer
// just stands down.
func (d *Dispatcher) fire(jobID string) {
	d.stopTimer(jobID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.store.UpdateStatus(ctx, jobID, job.StatusQueued, store.Fields{}); err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			d.logger.Info("Scheduled job no longer pending, timer dropped",
				slog.String("job_id", jobID),
			)
			return
		}
		d.logger.Error("Failed to queue scheduled job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	_ = d.hub.Publish(jobID, job.StatusEvent(job.StatusQueued))

	if err := d.publish(ctx, jobID); err != nil {
		// The job stays queued; Recover re-publishes it on restart.
		d.logger.Error("Failed to enqueue due job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
