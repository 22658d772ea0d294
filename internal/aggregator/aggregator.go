package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"
)

// Aggregator owns the aggregate side of a job: it performs the
// queued→running claim, recomputes the result summary as host results
// arrive, derives the terminal status once every host is done, and
// publishes status/complete events. Aggregation is serialized per job, so
// concurrent host writes never race the recount.
type Aggregator struct {
	logger *slog.Logger
	store  store.Store
	hub    *channel.Hub

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	mu      sync.Mutex
	summary *job.Summary
	done    bool
}

// New creates an aggregator over the given store and live update hub.
func New(logger *slog.Logger, st store.Store, hub *channel.Hub) *Aggregator {
	return &Aggregator{
		logger: logger,
		store:  st,
		hub:    hub,
		jobs:   make(map[string]*jobState),
	}
}

// Begin claims the queued→running transition for a job. A claim that loses
// to a concurrent cancel returns job.ErrInvalidState and the caller drops
// the dispatch.
func (a *Aggregator) Begin(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	if err := a.store.UpdateStatus(ctx, jobID, job.StatusRunning, store.Fields{StartedAt: &now}); err != nil {
		return err
	}

	a.mu.Lock()
	a.jobs[jobID] = &jobState{}
	a.mu.Unlock()

	a.publish(jobID, job.StatusEvent(job.StatusRunning))
	return nil
}

// Expect records the resolved host set: every host starts queued and the
// seeded summary is persisted before any executor runs.
func (a *Aggregator) Expect(ctx context.Context, jobID string, hosts []string) error {
	state, err := a.state(jobID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.summary = job.NewSummary(hosts)
	return a.store.UpdateSummary(ctx, jobID, state.summary)
}

// Fail moves a running job straight to failed for job-level errors
// (zero resolved targets, a resolver or summary-seed failure) before any
// host result exists.
func (a *Aggregator) Fail(ctx context.Context, jobID string, cause error) error {
	state, err := a.state(jobID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.done {
		return nil
	}
	if err := a.store.UpdateStatus(ctx, jobID, job.StatusFailed, store.Fields{Error: cause.Error()}); err != nil {
		return err
	}
	state.done = true

	a.publish(jobID, job.StatusEvent(job.StatusFailed))
	a.hub.Complete(jobID, job.StatusFailed)
	a.forget(jobID)
	return nil
}

// HostStarted marks one host's result running.
func (a *Aggregator) HostStarted(ctx context.Context, jobID, host string) {
	state, err := a.state(jobID)
	if err != nil {
		a.logger.Warn("Host start for unknown job", slog.String("job_id", jobID), slog.String("host", host))
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.summary == nil {
		return
	}
	if existing, ok := state.summary.Hosts[host]; !ok || existing.Status.Terminal() {
		return
	}
	state.summary.Hosts[host] = job.HostResult{Status: job.HostRunning}
	state.summary.Recount()
	a.persistSummary(ctx, jobID, state.summary)
}

// HostFinished records one host's terminal result and recomputes the
// aggregate. Once every expected host is terminal the job moves to its
// final status and exactly one complete event is emitted. A result for an
// already-terminal host is dropped: host results are immutable once
// terminal.
func (a *Aggregator) HostFinished(ctx context.Context, jobID, host string, res job.HostResult) {
	state, err := a.state(jobID)
	if err != nil {
		a.logger.Warn("Host result for unknown job", slog.String("job_id", jobID), slog.String("host", host))
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.done || state.summary == nil {
		return
	}
	if existing, ok := state.summary.Hosts[host]; !ok || existing.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	res.FinishedAt = &now
	state.summary.Hosts[host] = res
	state.summary.Recount()
	a.persistSummary(ctx, jobID, state.summary)

	if !state.summary.Done() {
		return
	}

	final := state.summary.Aggregate()
	if err := a.store.UpdateStatus(ctx, jobID, final, store.Fields{}); err != nil {
		a.logger.Error("Failed to persist terminal job status",
			slog.String("job_id", jobID),
			slog.String("status", string(final)),
			slog.String("error", err.Error()),
		)
		return
	}
	state.done = true

	a.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.String("status", string(final)),
		slog.Int("success", state.summary.Counts.Success),
		slog.Int("failed", state.summary.Counts.Failed),
		slog.Int("total", state.summary.Counts.Total),
	)

	a.publish(jobID, job.StatusEvent(final))
	a.hub.Complete(jobID, final)
	a.forget(jobID)
}

func (a *Aggregator) state(jobID string) (*jobState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("no aggregation state for job %s", jobID)
	}
	return state, nil
}

func (a *Aggregator) forget(jobID string) {
	a.mu.Lock()
	delete(a.jobs, jobID)
	a.mu.Unlock()
}

func (a *Aggregator) persistSummary(ctx context.Context, jobID string, summary *job.Summary) {
	if err := a.store.UpdateSummary(ctx, jobID, summary); err != nil {
		a.logger.Error("Failed to persist result summary",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends a live event best-effort. A closed channel just means no
// observer can receive it anymore.
func (a *Aggregator) publish(jobID string, ev job.LiveEvent) {
	if err := a.hub.Publish(jobID, ev); err != nil {
		if errors.Is(err, job.ErrChannelClosed) {
			a.logger.Debug("Live event dropped, channel closed", slog.String("job_id", jobID))
			return
		}
		a.logger.Warn("Failed to publish live event",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
