package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/benchlab/run-engine/internal/dto"
	"github.com/benchlab/run-engine/internal/eventbus"
	"github.com/benchlab/run-engine/internal/middleware"
	"github.com/benchlab/run-engine/internal/models"
	"github.com/benchlab/run-engine/internal/scheduler"
	"github.com/benchlab/run-engine/internal/store"
	"github.com/benchlab/run-engine/internal/utils"
)

// RunHandler wires the run lifecycle and streaming endpoints.
type RunHandler struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	bus       *eventbus.Bus
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRunHandler constructs a RunHandler.
func NewRunHandler(st *store.Store, sched *scheduler.Scheduler, bus *eventbus.Bus, validate *validator.Validate, logger zerolog.Logger) *RunHandler {
	return &RunHandler{
		store:     st,
		scheduler: sched,
		bus:       bus,
		validator: validate,
		logger:    logger.With().Str("component", "run_handler").Logger(),
	}
}

// Register binds run routes under the given router group.
func (h *RunHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.list)
	router.Post("/:id/execute", h.execute)
	router.Post("/:id/cancel", h.cancelRun)
	router.Post("/:id/models/:model_id/cancel", h.cancelModel)
	router.Get("/:id/results", h.results)
	router.Post("/:id/results/:result_id/review", h.reviewResult)
	router.Get("/:id/subscribe", h.subscribe)
}

func (h *RunHandler) create(c *fiber.Ctx) error {
	var req dto.CreateRunRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	if _, err := h.store.GetProblemSet(ctx, req.ProblemSetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusBadRequest, "problem set does not exist")
		}
		return h.internalError(c, err)
	}
	if _, err := h.store.GetModel(ctx, req.JudgeModelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusBadRequest, "judge model does not exist")
		}
		return h.internalError(c, err)
	}

	stream := false
	if req.Stream != nil {
		stream = *req.Stream
	}

	run := &models.Run{
		Name:          req.Name,
		ProblemSetID:  req.ProblemSetID,
		ModelIDs:      models.StringList(req.ModelIDs),
		JudgeModelID:  req.JudgeModelID,
		StreamEnabled: stream,
	}
	if req.ID != nil {
		run.ID = *req.ID
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "run created", dto.CreateRunResponse{ID: run.ID})
}

func (h *RunHandler) list(c *fiber.Ctx) error {
	filter := store.RunFilter{
		Status:       models.RunStatus(c.Query("status")),
		ProblemSetID: c.Query("problem_set_id"),
		Limit:        c.QueryInt("limit", 50),
	}

	runs, err := h.store.ListRuns(c.Context(), filter)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "runs retrieved", runs)
}

func (h *RunHandler) execute(c *fiber.Ctx) error {
	runID := c.Params("id")

	if err := h.scheduler.Execute(c.Context(), runID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "run not found")
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			return utils.SendError(c, fiber.StatusConflict, "run already running")
		case errors.Is(err, scheduler.ErrJudgeModelMissing):
			return utils.SendError(c, fiber.StatusBadRequest, "judge model does not exist")
		case errors.Is(err, store.ErrInvalidTransition):
			return utils.SendError(c, fiber.StatusConflict, "run cannot be executed from its current status")
		default:
			return h.internalError(c, err)
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "run executing", dto.ExecuteResponse{ID: runID, Status: string(models.RunStatusRunning)})
}

func (h *RunHandler) cancelRun(c *fiber.Ctx) error {
	runID := c.Params("id")

	cancelled, err := h.scheduler.CancelRun(c.Context(), runID, "user")
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "run not found")
		case errors.Is(err, store.ErrInvalidTransition):
			return utils.SendError(c, fiber.StatusBadRequest, "run is not running or queued")
		default:
			return h.internalError(c, err)
		}
	}

	return utils.SendSuccess(c, "run cancelled", dto.CancelRunResponse{ID: runID, Status: string(models.RunStatusCancelled), Cancelled: cancelled})
}

func (h *RunHandler) cancelModel(c *fiber.Ctx) error {
	runID := c.Params("id")
	modelID := c.Params("model_id")

	cancelled, err := h.scheduler.CancelModel(c.Context(), runID, modelID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "run not found")
		case errors.Is(err, store.ErrInvalidTransition):
			return utils.SendError(c, fiber.StatusBadRequest, "run not running or model not part of run")
		default:
			return h.internalError(c, err)
		}
	}

	return utils.SendSuccess(c, "model cancelled", dto.CancelModelResponse{ID: runID, ModelID: modelID, Cancelled: cancelled})
}

func (h *RunHandler) results(c *fiber.Ctx) error {
	runID := c.Params("id")

	if _, err := h.store.GetRun(c.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "run not found")
		}
		return h.internalError(c, err)
	}

	results, err := h.store.ListRunResults(c.Context(), runID)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "results retrieved", results)
}

func (h *RunHandler) reviewResult(c *fiber.Ctx) error {
	resultID := c.Params("result_id")

	var req dto.ReviewResultRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	result, err := h.store.GetRunResult(ctx, resultID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "result not found")
		}
		return h.internalError(c, err)
	}

	problem, err := h.store.GetProblem(ctx, result.ProblemID)
	if err != nil {
		return h.internalError(c, err)
	}
	if result.Status != models.ResultStatusManual || problem.Kind != models.ProblemKindHTML {
		return utils.SendError(c, fiber.StatusBadRequest, "result is not awaiting manual review")
	}

	score := 0
	if req.Decision == "pass" {
		score = 100
	}
	status := models.ResultStatusCompleted
	judgedBy := "human"
	reasoning := req.Notes

	if err := h.store.MarkResult(ctx, resultID, store.ResultPatch{
		Score:          &score,
		Status:         &status,
		JudgedBy:       &judgedBy,
		JudgeReasoning: &reasoning,
	}); err != nil {
		return h.internalError(c, err)
	}

	verdictWord := "FAIL"
	if req.Decision == "pass" {
		verdictWord = "PASS"
	}
	scorePtr := score
	h.bus.Publish(eventbus.Event{
		Event:     eventbus.EventJudgeDone,
		RunID:     result.RunID,
		ProblemID: result.ProblemID,
		ModelID:   result.ModelID,
		Verdict:   verdictWord,
		Reasoning: reasoning,
		Score:     &scorePtr,
	})

	return utils.SendSuccess(c, "result reviewed", nil)
}

// subscribe opens a long-lived SSE stream for a run's progress events.
func (h *RunHandler) subscribe(c *fiber.Ctx) error {
	runID := c.Params("id")

	run, err := h.store.GetRun(c.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "run not found")
		}
		return h.internalError(c, err)
	}
	if !run.StreamEnabled {
		return utils.SendError(c, fiber.StatusBadRequest, "run does not have streaming enabled")
	}

	sub := h.bus.Subscribe(runID)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache, no-transform")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(sseWriter(sub, middleware.RequestLogger(c, h.logger)))

	return nil
}

func (h *RunHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("correlation_id", middleware.GetCorrelationID(c)).Msg("run handler error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal error")
}
