// Package ops exposes the scheduler's operational surface: payment
// admission, worker heartbeats, breaker and registry status, dead-letter
// drain, and scaling advice. The orchestration layer's own REST API lives
// elsewhere; this is for workers and operators.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"payhub/internal/admission"
	"payhub/internal/scheduler"
	"payhub/internal/types"
)

type Server struct {
	Sched  *scheduler.Scheduler
	Logger func(string, ...any)
}

func NewServer(s *scheduler.Scheduler, logger func(string, ...any)) *Server {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Server{Sched: s, Logger: logger}
}

func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
	})

	app.Post("/payments", s.handleSubmit)
	app.Get("/payments/:id/history", s.handleHistory)
	app.Get("/payments/:id/state", s.handleState)
	app.Post("/workers/heartbeat", s.handleHeartbeat)
	app.Get("/workers/metrics", s.handleWorkerMetrics)
	app.Get("/breakers", s.handleBreakers)
	app.Post("/dead-letters/drain", s.handleDrain)
	app.Post("/scaling/samples", s.handleScalingSample)
	app.Get("/scaling/recommendation", s.handleRecommendation)
	app.Get("/healthz", func(c fiber.Ctx) error { return c.SendString("ok") })

	return app
}

type submitRequest struct {
	WorkID   string  `json:"workId"`
	TenantID string  `json:"tenantId"`
	UserID   string  `json:"userId"`
	WorkType string  `json:"workType"`
	Priority int     `json:"priority"`
	Amount   float64 `json:"amount"`
}

func (s *Server) handleSubmit(c fiber.Ctx) error {
	var req submitRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.WorkID == "" || req.TenantID == "" || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "workId, tenantId and userId are required"})
	}
	if req.Priority < int(types.PriorityCritical) || req.Priority > int(types.PriorityLow) {
		req.Priority = int(types.PriorityStandard)
	}

	if !s.Sched.CanAdmit(context.Background(), req.TenantID, req.UserID) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited"})
	}
	err := s.Sched.Submit(types.WorkItem{
		WorkID:   req.WorkID,
		TenantID: req.TenantID,
		UserID:   req.UserID,
		WorkType: req.WorkType,
		Priority: types.Priority(req.Priority),
		Amount:   req.Amount,
	})
	if errors.Is(err, admission.ErrQueueFull) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "queue full"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleHistory(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"events": s.Sched.History(c.Params("id"))})
}

func (s *Server) handleState(c fiber.Ctx) error {
	return c.JSON(s.Sched.ProjectState(c.Params("id")))
}

type heartbeatRequest struct {
	WorkerID       string   `json:"workerId"`
	CurrentLoad    int      `json:"currentLoad"`
	MaxCapacity    int      `json:"maxCapacity"`
	SupportedTypes []string `json:"supportedTypes"`
}

func (s *Server) handleHeartbeat(c fiber.Ctx) error {
	var req heartbeatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.WorkerID == "" || req.MaxCapacity <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "workerId and positive maxCapacity are required"})
	}
	s.Sched.UpdateWorker(req.WorkerID, req.CurrentLoad, req.MaxCapacity, req.SupportedTypes)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleWorkerMetrics(c fiber.Ctx) error {
	return c.JSON(s.Sched.WorkerMetrics())
}

func (s *Server) handleBreakers(c fiber.Ctx) error {
	return c.JSON(s.Sched.BreakerSnapshot())
}

func (s *Server) handleDrain(c fiber.Ctx) error {
	entries := s.Sched.DrainDeadLetters()
	s.Logger("dead_letters_drained", "count", len(entries))
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

type scalingSampleRequest struct {
	// JSON object keys are strings; hours arrive as "0".."23".
	HourlyVolumes  map[string]float64 `json:"hourlyVolumes"`
	CurrentWorkers int                `json:"currentWorkers"`
	AverageLoad    float64            `json:"averageLoad"`
}

func (s *Server) handleScalingSample(c fiber.Ctx) error {
	var req scalingSampleRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	hourly := make(map[int]float64, len(req.HourlyVolumes))
	for k, v := range req.HourlyVolumes {
		hour, err := strconv.Atoi(k)
		if err != nil || hour < 0 || hour > 23 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "hour keys must be 0-23"})
		}
		hourly[hour] = v
	}
	s.Sched.RecordLoadSample(hourly, req.CurrentWorkers, req.AverageLoad)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleRecommendation(c fiber.Ctx) error {
	return c.JSON(s.Sched.Recommend())
}
