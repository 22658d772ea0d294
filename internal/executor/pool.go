package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lammesen/netops-be/internal/aggregator"
	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/device"
	"github.com/lammesen/netops-be/internal/job"
)

// Config holds executor pool configuration.
type Config struct {
	Logger            *slog.Logger
	Hub               *channel.Hub
	Aggregator        *aggregator.Aggregator
	Automation        device.Automation
	GlobalConcurrency int
	PerJobConcurrency int
	HostTimeout       time.Duration
}

// Pool fans a job out across its resolved hosts, one executor per host,
// under a global and a per-job concurrency ceiling. Executors block on the
// global semaphore in arrival order, so a large fan-out job cannot starve
// smaller ones beyond its per-job share. A host failure never aborts
// sibling executors; every host ends with exactly one terminal result.
type Pool struct {
	logger      *slog.Logger
	hub         *channel.Hub
	agg         *aggregator.Aggregator
	ops         map[job.Type]Operation
	sem         chan struct{}
	perJob      int
	hostTimeout time.Duration
	wg          sync.WaitGroup
}

// NewPool creates an executor pool with the given ceilings.
func NewPool(cfg *Config) *Pool {
	global := cfg.GlobalConcurrency
	if global <= 0 {
		global = 32
	}
	perJob := cfg.PerJobConcurrency
	if perJob <= 0 || perJob > global {
		perJob = global
	}

	return &Pool{
		logger:      cfg.Logger,
		hub:         cfg.Hub,
		agg:         cfg.Aggregator,
		ops:         Operations(cfg.Automation),
		sem:         make(chan struct{}, global),
		perJob:      perJob,
		hostTimeout: cfg.HostTimeout,
	}
}

// Execute launches one executor per host and returns immediately. Host
// results flow into the aggregator as they complete.
func (p *Pool) Execute(ctx context.Context, jb *job.Job, hosts []device.Host) {
	op, ok := p.ops[jb.Type]

	jobSem := make(chan struct{}, p.perJob)
	for _, host := range hosts {
		p.wg.Add(1)
		go func(host device.Host) {
			defer p.wg.Done()

			if !ok {
				p.agg.HostFinished(ctx, jb.ID, host.Name, job.HostResult{
					Status: job.HostFailed,
					Error:  fmt.Sprintf("no operation registered for job type %q", jb.Type),
				})
				return
			}

			select {
			case jobSem <- struct{}{}:
			case <-ctx.Done():
				p.abortHost(ctx, jb.ID, host.Name)
				return
			}
			defer func() { <-jobSem }()

			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				p.abortHost(ctx, jb.ID, host.Name)
				return
			}
			defer func() { <-p.sem }()

			p.runHost(ctx, jb, op, host)
		}(host)
	}
}

// Wait blocks until every in-flight host executor has finished. Used for
// graceful shutdown; in-flight work is never force-killed.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runHost(ctx context.Context, jb *job.Job, op Operation, host device.Host) {
	p.agg.HostStarted(ctx, jb.ID, host.Name)

	logf := func(level job.LogLevel, message string) {
		if err := p.hub.Publish(jb.ID, job.LogEvent(level, host.Name, message)); err != nil && !errors.Is(err, job.ErrChannelClosed) {
			p.logger.Warn("Failed to publish host log line",
				slog.String("job_id", jb.ID),
				slog.String("host", host.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	hostCtx, cancel := context.WithTimeout(ctx, p.hostTimeout)
	defer cancel()

	logf(job.LevelInfo, fmt.Sprintf("executor started (%s)", jb.Type))
	result, err := op.Execute(hostCtx, host, jb.Payload, logf)

	switch {
	case err != nil && errors.Is(hostCtx.Err(), context.DeadlineExceeded):
		logf(job.LevelError, fmt.Sprintf("timed out after %s", p.hostTimeout))
		p.logger.Warn("Host execution timed out",
			slog.String("job_id", jb.ID),
			slog.String("host", host.Name),
			slog.Duration("timeout", p.hostTimeout),
		)
		p.agg.HostFinished(ctx, jb.ID, host.Name, job.HostResult{
			Status: job.HostFailed,
			Error:  job.ErrHostTimeout.Error(),
		})

	case err != nil:
		execErr := &job.HostExecutionError{Host: host.Name, Err: err}
		logf(job.LevelError, execErr.Error())
		p.logger.Warn("Host execution failed",
			slog.String("job_id", jb.ID),
			slog.String("host", host.Name),
			slog.String("error", err.Error()),
		)
		p.agg.HostFinished(ctx, jb.ID, host.Name, job.HostResult{
			Status: job.HostFailed,
			Error:  err.Error(),
		})

	default:
		logf(job.LevelInfo, "executor finished")
		p.agg.HostFinished(ctx, jb.ID, host.Name, job.HostResult{
			Status: job.HostSuccess,
			Output: result.Output,
			Diff:   result.Diff,
		})
	}
}

// abortHost records a terminal result for a host whose executor never got
// to run because the process is shutting down. Recording uses a fresh
// context: the aborted one can no longer carry the write.
func (p *Pool) abortHost(ctx context.Context, jobID, host string) {
	p.agg.HostFinished(context.Background(), jobID, host, job.HostResult{
		Status: job.HostFailed,
		Error:  "executor aborted: " + ctx.Err().Error(),
	})
}
