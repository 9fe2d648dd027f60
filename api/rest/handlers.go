package rest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/pkg/types"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(types.HealthResponse{
		Status:    "healthy",
		Phase:     s.scheduler.Snapshot().Phase,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getStatus handles GET /api/v1/status
func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.Snapshot())
}

// listWorkers handles GET /api/v1/workers?state=stalled&label=pool=azure
//
// state and label take comma separated values; a worker must match one of
// the states and every label.
func (s *Server) listWorkers(c *fiber.Ctx) error {
	filter := &coordinator.WorkerFilter{}
	if raw := c.Query("state"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			state := types.WorkerState(strings.TrimSpace(v))
			if state != types.WorkerStateOnline && state != types.WorkerStateStalled {
				return badRequest(c, fmt.Sprintf("invalid worker state '%s'", v))
			}
			filter.States = append(filter.States, state)
		}
	}
	if raw := c.Query("label"); raw != "" {
		filter.Labels = make(map[string]string)
		for _, pair := range strings.Split(raw, ",") {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return badRequest(c, fmt.Sprintf("invalid label '%s', expected key=value", pair))
			}
			filter.Labels[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	workers, err := s.scheduler.Workers(c.UserContext(), filter)
	if err != nil {
		return writeSchedulerError(c, err)
	}
	return c.JSON(types.WorkerListResponse{Workers: workers, Total: len(workers)})
}

// registerWorker handles POST /api/v1/workers
func (s *Server) registerWorker(c *fiber.Ctx) error {
	var req types.WorkerRegisterRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Failed to parse request body: "+err.Error())
		}
	}
	if req.Slots < 0 {
		return badRequest(c, "slots must not be negative")
	}

	info, err := s.scheduler.Register(c.UserContext(), &types.WorkerInfo{
		ID:      req.WorkerID,
		Name:    req.Name,
		Address: req.Address,
		Labels:  req.Labels,
		Slots:   req.Slots,
	})
	if err != nil {
		return writeSchedulerError(c, err)
	}

	slots := info.Slots
	for _, w := range s.scheduler.Snapshot().Workers {
		if w.ID == info.ID {
			slots = w.Slots
			break
		}
	}

	return c.Status(fiber.StatusCreated).JSON(types.WorkerRegisterResponse{
		WorkerID:            info.ID,
		Slots:               slots,
		HeartbeatIntervalMS: s.config.HeartbeatInterval.Milliseconds(),
	})
}

// reportCapacity handles PUT /api/v1/workers/:id/capacity
func (s *Server) reportCapacity(c *fiber.Ctx) error {
	var req types.CapacityRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Failed to parse request body: "+err.Error())
	}

	available, err := s.scheduler.ReportCapacity(c.UserContext(), c.Params("id"), req.Slots)
	if err != nil {
		return writeSchedulerError(c, err)
	}
	return c.JSON(types.CapacityResponse{Available: available})
}

// nextAssignment handles GET /api/v1/workers/:id/assignment?wait=30s
//
// Long-polls for the next scope: 200 with the assignment, 204 when the wait
// expired without one, 410 once no further scope will come.
func (s *Server) nextAssignment(c *fiber.Ctx) error {
	wait := s.config.MaxAssignmentWait
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return badRequest(c, fmt.Sprintf("invalid wait duration '%s'", raw))
		}
		if d < wait {
			wait = d
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), wait)
	defer cancel()

	assignment, err := s.scheduler.NextAssignment(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return writeSchedulerError(c, err)
	}
	return c.JSON(assignment)
}

// reportCompletion handles POST /api/v1/workers/:id/completions
func (s *Server) reportCompletion(c *fiber.Ctx) error {
	var req types.CompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Failed to parse request body: "+err.Error())
	}
	if req.Scope == "" {
		return badRequest(c, "scope is required")
	}

	if err := s.scheduler.ReportCompletion(c.UserContext(), c.Params("id"), req.Scope); err != nil {
		return writeSchedulerError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// heartbeat handles POST /api/v1/workers/:id/heartbeat
func (s *Server) heartbeat(c *fiber.Ctx) error {
	stop, err := s.scheduler.Heartbeat(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeSchedulerError(c, err)
	}
	return c.JSON(types.HeartbeatResponse{Stop: stop})
}

// disconnectWorker handles DELETE /api/v1/workers/:id
func (s *Server) disconnectWorker(c *fiber.Ctx) error {
	if err := s.scheduler.Disconnect(c.UserContext(), c.Params("id")); err != nil {
		return writeSchedulerError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// streamEvents handles GET /api/v1/events
//
// Streams scheduler events as server-sent events, starting with a snapshot.
// The stream ends when the run is done or cancelled.
func (s *Server) streamEvents(c *fiber.Ctx) error {
	ctx, cancel := context.WithCancel(context.Background())

	events, err := s.scheduler.Watch(ctx)
	if err != nil {
		cancel()
		return writeSchedulerError(c, err)
	}
	snapshot := s.scheduler.Snapshot()

	c.Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeEvent(w, "snapshot", snapshot); err != nil {
			return
		}
		if snapshot.Phase == types.PhaseDone || snapshot.Cancelled {
			return
		}

		for event := range events {
			if err := writeEvent(w, string(event.Type), event); err != nil {
				s.log.Debug("event stream closed", zap.Error(err))
				return
			}
			if event.Type == types.SchedulerEventCancelled ||
				(event.Type == types.SchedulerEventPhaseChanged && event.Phase == types.PhaseDone) {
				return
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, eventType string, data any) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	return w.Flush()
}
