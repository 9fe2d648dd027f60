package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/test-scheduler/api/rest"
	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/types"
)

// setupTestServer starts a coordinator API on a random local port.
func setupTestServer(t *testing.T) (*coordinator.ScopeScheduler, string) {
	t.Helper()

	cfg := coordinator.DefaultConfig()
	cfg.LivenessTimeout = 0
	scheduler := coordinator.NewScopeScheduler(cfg, scope.LoadScope, nil, zap.NewNop())
	server := rest.NewServer(scheduler, rest.DefaultConfig(), zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.App().Listener(ln)
	}()
	t.Cleanup(func() {
		_ = server.Shutdown()
	})

	return scheduler, "http://" + ln.Addr().String()
}

func TestNewClient(t *testing.T) {
	t.Run("with nil config uses defaults", func(t *testing.T) {
		client := NewClient(nil)
		assert.NotNil(t, client)
		assert.Equal(t, "http://localhost:8787", client.config.CoordinatorURL)
		assert.Equal(t, 10*time.Second, client.config.RequestTimeout)
	})

	t.Run("with custom config", func(t *testing.T) {
		client := NewClient(&Config{CoordinatorURL: "http://custom:9090", WorkerID: "w1"})
		assert.Equal(t, "w1", client.WorkerID())
		assert.Equal(t, 10*time.Second, client.config.RequestTimeout)
	})
}

func TestClientLifecycle(t *testing.T) {
	scheduler, serverURL := setupTestServer(t)
	ctx := context.Background()

	client := NewClient(&Config{
		CoordinatorURL: serverURL,
		Name:           "worker-a",
		Labels:         map[string]string{"pool": "azure"},
		RequestTimeout: 5 * time.Second,
	})

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	reg, err := client.Register(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, reg.WorkerID)
	assert.Equal(t, reg.WorkerID, client.WorkerID())
	assert.Equal(t, 1, reg.Slots)

	free, err := client.ReportCapacity(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, free)

	// No items yet: the poll expires empty.
	assignment, err := client.NextAssignment(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, assignment)

	require.NoError(t, scheduler.Collect(ctx, []*types.Item{
		{ID: "net.py::TestNic::test_mtu"},
		{ID: "net.py::TestNic::test_vlan"},
	}))

	assignment, err = client.NextAssignment(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "net.py::TestNic", assignment.Scope)
	assert.Len(t, assignment.Items, 2)

	stop, err := client.Heartbeat(ctx)
	require.NoError(t, err)
	assert.False(t, stop)

	require.NoError(t, client.ReportCompletion(ctx, assignment.Scope))

	_, err = client.NextAssignment(ctx, time.Second)
	assert.ErrorIs(t, err, coordinator.ErrNoMoreWork)

	snap, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDone, snap.Phase)

	require.NoError(t, client.Disconnect(ctx))
	_, err = client.Heartbeat(ctx)
	assert.ErrorIs(t, err, coordinator.ErrUnknownWorker)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestClientCompletionUnknownScope(t *testing.T) {
	_, serverURL := setupTestServer(t)
	ctx := context.Background()

	client := NewClient(&Config{CoordinatorURL: serverURL, WorkerID: "w1", RequestTimeout: 5 * time.Second})
	_, err := client.Register(ctx, 0)
	require.NoError(t, err)

	err = client.ReportCompletion(ctx, "never.py::Collected")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unknown_scope", apiErr.Code)
	assert.ErrorIs(t, err, coordinator.ErrUnknownScope)
}

func TestClientConnectionError(t *testing.T) {
	client := NewClient(&Config{CoordinatorURL: "http://127.0.0.1:1", RequestTimeout: time.Second})
	_, err := client.Health(context.Background())
	assert.Error(t, err)
}

func TestNextAssignmentHonoursContext(t *testing.T) {
	_, serverURL := setupTestServer(t)

	client := NewClient(&Config{CoordinatorURL: serverURL, WorkerID: "w1", RequestTimeout: 5 * time.Second})
	_, err := client.Register(context.Background(), 1)
	require.NoError(t, err)

	t.Run("deadline shorter than wait", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		assignment, err := client.NextAssignment(ctx, 3*time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, assignment)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		start := time.Now()
		_, err := client.NextAssignment(ctx, 3*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.Heartbeat(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClientWorkers(t *testing.T) {
	_, serverURL := setupTestServer(t)
	ctx := context.Background()

	for _, labels := range []map[string]string{{"pool": "azure"}, {"pool": "local"}} {
		client := NewClient(&Config{CoordinatorURL: serverURL, Name: labels["pool"], Labels: labels, RequestTimeout: 5 * time.Second})
		_, err := client.Register(ctx, 1)
		require.NoError(t, err)
	}

	client := NewClient(&Config{CoordinatorURL: serverURL, RequestTimeout: 5 * time.Second})
	all, err := client.Workers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	azure, err := client.Workers(ctx, &coordinator.WorkerFilter{
		States: []types.WorkerState{types.WorkerStateOnline},
		Labels: map[string]string{"pool": "azure"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, azure.Total)
	assert.Equal(t, "azure", azure.Workers[0].Name)
	assert.Equal(t, map[string]string{"pool": "azure"}, azure.Workers[0].Labels)
}
