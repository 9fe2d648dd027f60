package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/types"
)

func setupTestServer(t *testing.T) (*Server, *coordinator.ScopeScheduler) {
	t.Helper()

	cfg := coordinator.DefaultConfig()
	cfg.LivenessTimeout = 0
	scheduler := coordinator.NewScopeScheduler(cfg, scope.LoadScope, nil, zap.NewNop())
	return NewServer(scheduler, DefaultConfig(), zap.NewNop()), scheduler
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, v))
}

func registerTestWorker(t *testing.T, app *fiber.App, id string) {
	t.Helper()
	resp := doRequest(t, app, http.MethodPost, "/api/v1/workers", types.WorkerRegisterRequest{WorkerID: id})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func testItems() []*types.Item {
	return []*types.Item{
		{ID: "net.py::TestNic::test_mtu"},
		{ID: "net.py::TestNic::test_vlan"},
		{ID: "disk.py::TestIO::test_read"},
	}
}

func TestHealthCheck(t *testing.T) {
	server, _ := setupTestServer(t)

	resp := doRequest(t, server.App(), http.MethodGet, "/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var health types.HealthResponse
	decode(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, types.PhaseCollecting, health.Phase)
}

func TestRegisterWorker(t *testing.T) {
	server, _ := setupTestServer(t)
	app := server.App()

	resp := doRequest(t, app, http.MethodPost, "/api/v1/workers", types.WorkerRegisterRequest{WorkerID: "w1"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var reg types.WorkerRegisterResponse
	decode(t, resp, &reg)
	assert.Equal(t, "w1", reg.WorkerID)
	assert.Equal(t, 2, reg.Slots)
	assert.Equal(t, int64(10000), reg.HeartbeatIntervalMS)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers", types.WorkerRegisterRequest{WorkerID: "w1"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers", nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	decode(t, resp, &reg)
	assert.NotEmpty(t, reg.WorkerID)
}

func TestAssignmentRoundTrip(t *testing.T) {
	server, scheduler := setupTestServer(t)
	app := server.App()

	registerTestWorker(t, app, "w1")
	require.NoError(t, scheduler.Collect(context.Background(), testItems()))

	resp := doRequest(t, app, http.MethodGet, "/api/v1/workers/w1/assignment?wait=0s", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var assignment types.Assignment
	decode(t, resp, &assignment)
	assert.Equal(t, "net.py::TestNic", assignment.Scope)
	assert.Equal(t, "w1", assignment.WorkerID)
	require.Len(t, assignment.Items, 2)
	assert.Equal(t, "net.py::TestNic::test_mtu", assignment.Items[0].ID)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers/w1/completions", types.CompletionRequest{Scope: assignment.Scope})
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var snap types.SchedulerSnapshot
	decode(t, resp, &snap)
	assert.Equal(t, []string{"net.py::TestNic"}, snap.Completed)
	assert.Equal(t, types.PhaseDraining, snap.Phase)
}

func TestAssignmentStatusCodes(t *testing.T) {
	server, scheduler := setupTestServer(t)
	app := server.App()

	registerTestWorker(t, app, "w1")

	// Nothing collected yet: the wait expires.
	resp := doRequest(t, app, http.MethodGet, "/api/v1/workers/w1/assignment?wait=10ms", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers/w1/assignment?wait=soon", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers/ghost/assignment?wait=0s", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	require.NoError(t, scheduler.Collect(context.Background(), nil))
	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers/w1/assignment?wait=0s", nil)
	assert.Equal(t, fiber.StatusGone, resp.StatusCode)

	var errResp types.ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "no_more_work", errResp.Error)
}

func TestCompletionErrors(t *testing.T) {
	server, scheduler := setupTestServer(t)
	app := server.App()

	registerTestWorker(t, app, "w1")
	registerTestWorker(t, app, "w2")
	require.NoError(t, scheduler.Collect(context.Background(), testItems()))

	resp := doRequest(t, app, http.MethodPost, "/api/v1/workers/w2/completions", types.CompletionRequest{Scope: "net.py::TestNic"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	var errResp types.ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "assignment_inconsistency", errResp.Error)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers/w1/completions", types.CompletionRequest{Scope: "nope"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers/w1/completions", types.CompletionRequest{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCapacityAndHeartbeat(t *testing.T) {
	server, _ := setupTestServer(t)
	app := server.App()

	registerTestWorker(t, app, "w1")

	resp := doRequest(t, app, http.MethodPut, "/api/v1/workers/w1/capacity", types.CapacityRequest{Slots: 3})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var capacity types.CapacityResponse
	decode(t, resp, &capacity)
	assert.Equal(t, 3, capacity.Available)

	resp = doRequest(t, app, http.MethodPut, "/api/v1/workers/w1/capacity", types.CapacityRequest{Slots: 0})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers/w1/heartbeat", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var hb types.HeartbeatResponse
	decode(t, resp, &hb)
	assert.False(t, hb.Stop)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/workers/ghost/heartbeat", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDisconnectWorker(t *testing.T) {
	server, _ := setupTestServer(t)
	app := server.App()

	registerTestWorker(t, app, "w1")

	resp := doRequest(t, app, http.MethodDelete, "/api/v1/workers/w1", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, app, http.MethodDelete, "/api/v1/workers/w1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestEventStreamEndsWhenDone(t *testing.T) {
	server, scheduler := setupTestServer(t)
	app := server.App()

	registerTestWorker(t, app, "w1")
	require.NoError(t, scheduler.Collect(context.Background(), nil))

	resp := doRequest(t, app, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: snapshot")
	assert.Contains(t, string(body), `"phase":"done"`)
}

func TestUnknownRoute(t *testing.T) {
	server, _ := setupTestServer(t)

	resp := doRequest(t, server.App(), http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var errResp types.ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "error_404", errResp.Error)
}

func TestListWorkers(t *testing.T) {
	server, _ := setupTestServer(t)
	app := server.App()

	for _, req := range []types.WorkerRegisterRequest{
		{WorkerID: "w1", Name: "lab-1", Labels: map[string]string{"pool": "azure", "arch": "arm64"}},
		{WorkerID: "w2", Name: "lab-2", Labels: map[string]string{"pool": "local"}},
	} {
		resp := doRequest(t, app, http.MethodPost, "/api/v1/workers", req)
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp := doRequest(t, app, http.MethodGet, "/api/v1/workers", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list types.WorkerListResponse
	decode(t, resp, &list)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "w1", list.Workers[0].ID)
	assert.Equal(t, "lab-1", list.Workers[0].Name)
	assert.False(t, list.Workers[0].RegisteredAt.IsZero())

	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers?label=pool=azure,arch=arm64", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	list = types.WorkerListResponse{}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "w1", list.Workers[0].ID)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers?state=stalled", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	list = types.WorkerListResponse{}
	decode(t, resp, &list)
	assert.Equal(t, 0, list.Total)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers?state=asleep", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp = doRequest(t, app, http.MethodGet, "/api/v1/workers?label=pool", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
