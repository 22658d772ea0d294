package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lammesen/netops-be/internal/aggregator"
	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/device"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAutomation scripts per-host behavior and tracks concurrency.
type fakeAutomation struct {
	mu        sync.Mutex
	delay     time.Duration
	failHosts map[string]error
	hangHosts map[string]bool
	inflight  atomic.Int64
	maxSeen   atomic.Int64
}

func (f *fakeAutomation) Run(ctx context.Context, host device.Host, req device.Request) (*device.Result, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	fail := f.failHosts[host.Name]
	hang := f.hangHosts[host.Name]
	delay := f.delay
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}

	out := map[string]string{}
	for _, cmd := range req.Commands {
		out[cmd] = "ok"
	}
	return &device.Result{Output: out}, nil
}

type fixture struct {
	pool *Pool
	agg  *aggregator.Aggregator
	st   *store.Memory
	hub  *channel.Hub
}

func newFixture(t *testing.T, auto device.Automation, global, perJob int, timeout time.Duration) *fixture {
	t.Helper()
	st := store.NewMemory()
	hub := channel.NewHub(1024, time.Minute, testLogger())
	agg := aggregator.New(testLogger(), st, hub)
	pool := NewPool(&Config{
		Logger:            testLogger(),
		Hub:               hub,
		Aggregator:        agg,
		Automation:        auto,
		GlobalConcurrency: global,
		PerJobConcurrency: perJob,
		HostTimeout:       timeout,
	})
	return &fixture{pool: pool, agg: agg, st: st, hub: hub}
}

func (f *fixture) startJob(t *testing.T, typ job.Type, payload string, hosts ...string) (*job.Job, []device.Host) {
	t.Helper()
	ctx := context.Background()
	jb := &job.Job{
		ID:          uuid.New().String(),
		Type:        typ,
		Status:      job.StatusQueued,
		TargetSpec:  []byte(`{}`),
		Payload:     json.RawMessage(payload),
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, f.st.Create(ctx, jb))
	require.NoError(t, f.agg.Begin(ctx, jb.ID))
	require.NoError(t, f.agg.Expect(ctx, jb.ID, hosts))

	devs := make([]device.Host, len(hosts))
	for i, h := range hosts {
		devs[i] = device.Host{Name: h, Address: "203.0.113." + fmt.Sprint(i+1)}
	}
	return jb, devs
}

func (f *fixture) waitTerminal(t *testing.T, jobID string) *job.Job {
	t.Helper()
	var got *job.Job
	require.Eventually(t, func() bool {
		jb, err := f.st.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = jb
		return jb.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestExecuteAllHostsSucceed(t *testing.T) {
	auto := &fakeAutomation{}
	f := newFixture(t, auto, 8, 8, time.Second)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":["show version"]}`, "r1", "r2", "r3")

	f.pool.Execute(context.Background(), jb, hosts)
	got := f.waitTerminal(t, jb.ID)

	assert.Equal(t, job.StatusSuccess, got.Status)
	assert.Equal(t, job.Counts{Success: 3, Total: 3}, got.Summary.Counts)
	assert.Equal(t, "ok", got.Summary.Hosts["r1"].Output["show version"])
}

// One host failing never aborts its siblings.
func TestHostFailureDoesNotAbortSiblings(t *testing.T) {
	auto := &fakeAutomation{failHosts: map[string]error{"r2": errors.New("auth refused")}}
	f := newFixture(t, auto, 8, 8, time.Second)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":["show version"]}`, "r1", "r2", "r3")

	f.pool.Execute(context.Background(), jb, hosts)
	got := f.waitTerminal(t, jb.ID)

	assert.Equal(t, job.StatusPartial, got.Status)
	assert.Equal(t, job.Counts{Success: 2, Failed: 1, Total: 3}, got.Summary.Counts)
	assert.Equal(t, "auth refused", got.Summary.Hosts["r2"].Error)
}

func TestHostTimeoutMapsToFailedResult(t *testing.T) {
	auto := &fakeAutomation{hangHosts: map[string]bool{"r2": true}}
	f := newFixture(t, auto, 8, 8, 50*time.Millisecond)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":["show version"]}`, "r1", "r2")

	f.pool.Execute(context.Background(), jb, hosts)
	got := f.waitTerminal(t, jb.ID)

	assert.Equal(t, job.StatusPartial, got.Status)
	assert.Equal(t, job.HostFailed, got.Summary.Hosts["r2"].Status)
	assert.Equal(t, "timeout", got.Summary.Hosts["r2"].Error)
}

// The pool must not run more executors than the global ceiling regardless
// of host count.
func TestGlobalConcurrencyCeiling(t *testing.T) {
	auto := &fakeAutomation{delay: 30 * time.Millisecond}
	f := newFixture(t, auto, 2, 2, 5*time.Second)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":["show clock"]}`,
		"r1", "r2", "r3", "r4", "r5", "r6")

	f.pool.Execute(context.Background(), jb, hosts)
	got := f.waitTerminal(t, jb.ID)

	assert.Equal(t, job.StatusSuccess, got.Status)
	assert.LessOrEqual(t, auto.maxSeen.Load(), int64(2))
}

// A job is capped by its per-job ceiling even when global slots are free.
func TestPerJobConcurrencyCeiling(t *testing.T) {
	auto := &fakeAutomation{delay: 30 * time.Millisecond}
	f := newFixture(t, auto, 16, 1, 5*time.Second)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":["show clock"]}`, "r1", "r2", "r3")

	f.pool.Execute(context.Background(), jb, hosts)
	got := f.waitTerminal(t, jb.ID)

	assert.Equal(t, job.StatusSuccess, got.Status)
	assert.LessOrEqual(t, auto.maxSeen.Load(), int64(1))
}

func TestInvalidPayloadFailsHost(t *testing.T) {
	auto := &fakeAutomation{}
	f := newFixture(t, auto, 8, 8, time.Second)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":[]}`, "r1")

	f.pool.Execute(context.Background(), jb, hosts)
	got := f.waitTerminal(t, jb.ID)

	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.Summary.Hosts["r1"].Error, "no commands")
}

func TestOperationSelectionByJobType(t *testing.T) {
	ctx := context.Background()
	ops := Operations(&device.SimulatedAutomation{Latency: time.Millisecond})
	host := device.Host{Name: "r1"}
	noop := func(job.LogLevel, string) {}

	res, err := ops[job.TypeConfigBackup].Execute(ctx, host, nil, noop)
	require.NoError(t, err)
	assert.Contains(t, res.Output["show running-config"], "r1")

	res, err = ops[job.TypeDeployConfig].Execute(ctx, host, []byte(`{"config":"ntp server 10.0.0.1"}`), noop)
	require.NoError(t, err)
	assert.Contains(t, res.Diff, "ntp server 10.0.0.1")

	res, err = ops[job.TypeComplianceCheck].Execute(ctx, host, []byte(`{"rule_set":"baseline"}`), noop)
	require.NoError(t, err)
	assert.Equal(t, "compliant", res.Output["baseline"])
}

func TestExecutorStreamsLogLines(t *testing.T) {
	auto := &fakeAutomation{}
	f := newFixture(t, auto, 8, 8, time.Second)
	jb, hosts := f.startJob(t, job.TypeRunCommands, `{"commands":["show version"]}`, "r1")

	sub := f.hub.Subscribe(jb.ID, job.StatusRunning)
	f.pool.Execute(context.Background(), jb, hosts)
	f.waitTerminal(t, jb.ID)

	var sawHostLog bool
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		ev, ok := sub.Next(ctx)
		cancel()
		if !ok {
			break
		}
		if ev.Kind == job.EventLog && ev.Host == "r1" {
			sawHostLog = true
		}
		if ev.Kind == job.EventComplete {
			break
		}
	}
	assert.True(t, sawHostLog, "expected at least one host-scoped log event")
}
