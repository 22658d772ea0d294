package aggregator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(t *testing.T) (*Aggregator, *store.Memory, *channel.Hub) {
	t.Helper()
	st := store.NewMemory()
	hub := channel.NewHub(64, time.Minute, testLogger())
	return New(testLogger(), st, hub), st, hub
}

func createQueuedJob(t *testing.T, st *store.Memory) *job.Job {
	t.Helper()
	jb := &job.Job{
		ID:          uuid.New().String(),
		Type:        job.TypeRunCommands,
		Status:      job.StatusQueued,
		TargetSpec:  []byte(`{"site":"ams1"}`),
		Payload:     []byte(`{"commands":["show version"]}`),
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Create(context.Background(), jb))
	return jb
}

// r1 succeeds, r2 times out, r3 succeeds: the job ends partial with
// counts {success:2, failed:1, total:3}.
func TestMixedHostOutcomesYieldPartial(t *testing.T) {
	ctx := context.Background()
	agg, st, hub := newTestAggregator(t)
	jb := createQueuedJob(t, st)

	require.NoError(t, agg.Begin(ctx, jb.ID))
	sub := hub.Subscribe(jb.ID, job.StatusRunning)
	require.NoError(t, agg.Expect(ctx, jb.ID, []string{"r1", "r2", "r3"}))

	agg.HostFinished(ctx, jb.ID, "r1", job.HostResult{Status: job.HostSuccess})
	agg.HostFinished(ctx, jb.ID, "r2", job.HostResult{Status: job.HostFailed, Error: job.ErrHostTimeout.Error()})
	agg.HostFinished(ctx, jb.ID, "r3", job.HostResult{Status: job.HostSuccess})

	got, err := st.Get(ctx, jb.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPartial, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Summary)
	assert.Equal(t, job.Counts{Success: 2, Failed: 1, Total: 3}, got.Summary.Counts)
	assert.Equal(t, "timeout", got.Summary.Hosts["r2"].Error)

	var completes int
	for {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		ev, ok := sub.Next(cctx)
		cancel()
		if !ok {
			break
		}
		if ev.Kind == job.EventComplete {
			completes++
			assert.Equal(t, job.StatusPartial, ev.Status)
		}
	}
	assert.Equal(t, 1, completes, "exactly one complete event")
}

func TestTerminalStatusIndependentOfCompletionOrder(t *testing.T) {
	final := map[string]job.HostResult{
		"r1": {Status: job.HostSuccess},
		"r2": {Status: job.HostFailed, Error: "unreachable"},
		"r3": {Status: job.HostSuccess},
	}
	orders := [][]string{
		{"r1", "r2", "r3"},
		{"r3", "r1", "r2"},
		{"r2", "r3", "r1"},
	}

	for _, order := range orders {
		ctx := context.Background()
		agg, st, _ := newTestAggregator(t)
		jb := createQueuedJob(t, st)

		require.NoError(t, agg.Begin(ctx, jb.ID))
		require.NoError(t, agg.Expect(ctx, jb.ID, []string{"r1", "r2", "r3"}))
		for _, h := range order {
			agg.HostFinished(ctx, jb.ID, h, final[h])
		}

		got, err := st.Get(ctx, jb.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusPartial, got.Status)
		assert.Equal(t, job.Counts{Success: 2, Failed: 1, Total: 3}, got.Summary.Counts)
	}
}

func TestAllHostsSucceed(t *testing.T) {
	ctx := context.Background()
	agg, st, _ := newTestAggregator(t)
	jb := createQueuedJob(t, st)

	require.NoError(t, agg.Begin(ctx, jb.ID))
	require.NoError(t, agg.Expect(ctx, jb.ID, []string{"r1", "r2"}))
	agg.HostFinished(ctx, jb.ID, "r1", job.HostResult{Status: job.HostSuccess})
	agg.HostFinished(ctx, jb.ID, "r2", job.HostResult{Status: job.HostSuccess})

	got, err := st.Get(ctx, jb.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, got.Status)
}

// Zero resolved targets fail the job immediately; no host results exist.
func TestFailWithoutTargets(t *testing.T) {
	ctx := context.Background()
	agg, st, hub := newTestAggregator(t)
	jb := createQueuedJob(t, st)

	require.NoError(t, agg.Begin(ctx, jb.ID))
	sub := hub.Subscribe(jb.ID, job.StatusRunning)
	require.NoError(t, agg.Fail(ctx, jb.ID, job.ErrJobHasNoTargets))

	got, err := st.Get(ctx, jb.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "job has no targets", got.Error)
	assert.Nil(t, got.Summary)

	nextKind := func() job.EventKind {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		ev, ok := sub.Next(cctx)
		require.True(t, ok)
		return ev.Kind
	}
	assert.Equal(t, job.EventStatus, nextKind()) // subscribe snapshot
	assert.Equal(t, job.EventStatus, nextKind()) // failed
	assert.Equal(t, job.EventComplete, nextKind())
}

// The queued→running claim loses to a cancel that got there first.
func TestBeginRejectedAfterCancel(t *testing.T) {
	ctx := context.Background()
	agg, st, _ := newTestAggregator(t)
	jb := createQueuedJob(t, st)

	require.NoError(t, st.UpdateStatus(ctx, jb.ID, job.StatusCancelled, store.Fields{}))

	err := agg.Begin(ctx, jb.ID)
	assert.ErrorIs(t, err, job.ErrInvalidState)
}

// Host results are immutable once terminal: a duplicate write is dropped.
func TestDuplicateHostResultIgnored(t *testing.T) {
	ctx := context.Background()
	agg, st, _ := newTestAggregator(t)
	jb := createQueuedJob(t, st)

	require.NoError(t, agg.Begin(ctx, jb.ID))
	require.NoError(t, agg.Expect(ctx, jb.ID, []string{"r1", "r2"}))

	agg.HostFinished(ctx, jb.ID, "r1", job.HostResult{Status: job.HostSuccess})
	agg.HostFinished(ctx, jb.ID, "r1", job.HostResult{Status: job.HostFailed, Error: "late"})

	got, err := st.Get(ctx, jb.ID)
	require.NoError(t, err)
	assert.Equal(t, job.HostSuccess, got.Summary.Hosts["r1"].Status)
	assert.Equal(t, job.StatusRunning, got.Status, "job still waits on r2")
}

func TestHostStartedMarksRunning(t *testing.T) {
	ctx := context.Background()
	agg, st, _ := newTestAggregator(t)
	jb := createQueuedJob(t, st)

	require.NoError(t, agg.Begin(ctx, jb.ID))
	require.NoError(t, agg.Expect(ctx, jb.ID, []string{"r1", "r2"}))
	agg.HostStarted(ctx, jb.ID, "r1")

	got, err := st.Get(ctx, jb.ID)
	require.NoError(t, err)
	assert.Equal(t, job.HostRunning, got.Summary.Hosts["r1"].Status)
	assert.Equal(t, job.Counts{Running: 1, Queued: 1, Total: 2}, got.Summary.Counts)
}
