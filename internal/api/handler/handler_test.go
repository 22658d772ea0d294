package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lammesen/netops-be/internal/api/dto"
	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/dispatcher"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeControl scripts the dispatcher surface.
type fakeControl struct {
	createErr error
	retryErr  error
	cancelErr error
	created   *job.Job
}

func (f *fakeControl) Create(ctx context.Context, p dispatcher.CreateParams) (*job.Job, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	status := job.StatusQueued
	if p.ScheduledFor != nil {
		status = job.StatusScheduled
	}
	f.created = &job.Job{ID: uuid.New().String(), Type: p.Type, Status: status}
	return f.created, nil
}

func (f *fakeControl) Retry(ctx context.Context, jobID string) (*job.Job, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return &job.Job{ID: uuid.New().String(), Status: job.StatusQueued}, nil
}

func (f *fakeControl) Cancel(ctx context.Context, jobID string) error {
	return f.cancelErr
}

func newTestRouter(t *testing.T, st store.Store, control JobControl, hub *channel.Hub) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(&Dependencies{Logger: testLogger(), Store: st, Control: control, Hub: hub})

	r := gin.New()
	r.POST("/api/v1/jobs", h.CreateJob)
	r.GET("/api/v1/jobs", h.ListJobs)
	r.GET("/api/v1/jobs/:job_id", h.GetJob)
	r.GET("/api/v1/jobs/:job_id/events", h.StreamEvents)
	r.POST("/api/v1/jobs/:job_id/retry", h.RetryJob)
	r.POST("/api/v1/jobs/:job_id/cancel", h.CancelJob)
	return r
}

func TestCreateJob(t *testing.T) {
	control := &fakeControl{}
	r := newTestRouter(t, store.NewMemory(), control, channel.NewHub(16, time.Minute, testLogger()))

	body := `{"job_type":"run_commands","target_spec":{"role":"edge"},"payload":{"commands":["show version"]}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.JobRef
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, control.created.ID, resp.JobID)
	assert.Equal(t, "queued", resp.Status)
}

func TestCreateJobValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing job_type", `{"target_spec":{"role":"edge"}}`},
		{"unknown job_type", `{"job_type":"format_flash","target_spec":{}}`},
		{"malformed json", `{"job_type":`},
		{"scheduled_for in the past", `{"job_type":"config_backup","target_spec":{},"scheduled_for":"2001-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, store.NewMemory(), &fakeControl{}, channel.NewHub(16, time.Minute, testLogger()))
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCancelJobConflict(t *testing.T) {
	control := &fakeControl{cancelErr: job.ErrInvalidState}
	r := newTestRouter(t, store.NewMemory(), control, channel.NewHub(16, time.Minute, testLogger()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+uuid.New().String()+"/cancel", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryJobWindowExpired(t *testing.T) {
	control := &fakeControl{retryErr: job.ErrRetryWindowExpired}
	r := newTestRouter(t, store.NewMemory(), control, channel.NewHub(16, time.Minute, testLogger()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+uuid.New().String()+"/retry", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "retry window expired")
}

func TestGetJobWithHostResults(t *testing.T) {
	st := store.NewMemory()
	jb := &job.Job{
		ID:          uuid.New().String(),
		Type:        job.TypeRunCommands,
		Status:      job.StatusPartial,
		TargetSpec:  []byte(`{"role":"edge"}`),
		Payload:     []byte(`{"commands":["show version"]}`),
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Create(context.Background(), jb))
	summary := job.NewSummary([]string{"r1"})
	summary.Hosts["r1"] = job.HostResult{Status: job.HostFailed, Error: "timeout"}
	summary.Recount()
	require.NoError(t, st.UpdateSummary(context.Background(), jb.ID, summary))

	r := newTestRouter(t, st, &fakeControl{}, channel.NewHub(16, time.Minute, testLogger()))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jb.ID, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"timeout"`)
	assert.Contains(t, w.Body.String(), `"partial"`)
}

func TestGetJobNotFound(t *testing.T) {
	r := newTestRouter(t, store.NewMemory(), &fakeControl{}, channel.NewHub(16, time.Minute, testLogger()))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobsPagination(t *testing.T) {
	st := store.NewMemory()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		jb := &job.Job{
			ID:          uuid.New().String(),
			Type:        job.TypeConfigBackup,
			Status:      job.StatusQueued,
			TargetSpec:  []byte(`{}`),
			RequestedAt: base.Add(time.Duration(-i) * time.Minute),
		}
		require.NoError(t, st.Create(context.Background(), jb))
	}

	r := newTestRouter(t, st, &fakeControl{}, channel.NewHub(16, time.Minute, testLogger()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=2", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var page1 dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page1))
	assert.Len(t, page1.Jobs, 2)
	require.NotEmpty(t, page1.NextCursor)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=2&cursor="+page1.NextCursor, nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var page2 dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page2))
	assert.Len(t, page2.Jobs, 1)
	assert.Empty(t, page2.NextCursor)
}

// A subscriber to a finished job receives its final status and one
// complete event, then the stream ends.
func TestStreamEventsTerminalReplay(t *testing.T) {
	st := store.NewMemory()
	jb := &job.Job{
		ID:          uuid.New().String(),
		Type:        job.TypeRunCommands,
		Status:      job.StatusQueued,
		TargetSpec:  []byte(`{}`),
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Create(context.Background(), jb))
	require.NoError(t, st.UpdateStatus(context.Background(), jb.ID, job.StatusRunning, store.Fields{}))
	require.NoError(t, st.UpdateStatus(context.Background(), jb.ID, job.StatusSuccess, store.Fields{}))

	r := newTestRouter(t, st, &fakeControl{}, channel.NewHub(16, time.Minute, testLogger()))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/events", jb.ID), nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"type":"status","status":"success"}`)
	assert.Equal(t, 1, strings.Count(body, `"type":"complete"`))
}
