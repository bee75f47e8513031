package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/benchlab/run-engine/internal/dto"
	"github.com/benchlab/run-engine/internal/models"
	"github.com/benchlab/run-engine/internal/store"
	"github.com/benchlab/run-engine/internal/utils"
)

// ProblemSetHandler wires problem-set and nested problem CRUD.
type ProblemSetHandler struct {
	store     *store.Store
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewProblemSetHandler constructs a ProblemSetHandler.
func NewProblemSetHandler(st *store.Store, validate *validator.Validate, logger zerolog.Logger) *ProblemSetHandler {
	return &ProblemSetHandler{store: st, validator: validate, logger: logger.With().Str("component", "problem_set_handler").Logger()}
}

// Register binds problem-set routes, including the nested /:id/problems group.
func (h *ProblemSetHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Delete("/:id", h.delete)

	router.Post("/:id/problems", h.createProblem)
	router.Get("/:id/problems", h.listProblems)
}

func (h *ProblemSetHandler) create(c *fiber.Ctx) error {
	var req dto.CreateProblemSetRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ps := &models.ProblemSet{Name: req.Name, Description: req.Description}
	if req.ID != nil {
		ps.ID = *req.ID
	}
	if err := h.store.CreateProblemSet(c.Context(), ps); err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "problem set created", ps)
}

func (h *ProblemSetHandler) list(c *fiber.Ctx) error {
	sets, err := h.store.ListProblemSets(c.Context())
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "problem sets retrieved", sets)
}

func (h *ProblemSetHandler) get(c *fiber.Ctx) error {
	ps, err := h.store.GetProblemSet(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "problem set not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "problem set retrieved", ps)
}

func (h *ProblemSetHandler) delete(c *fiber.Ctx) error {
	if err := h.store.CascadeDeleteProblemSet(c.Context(), c.Params("id")); err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "problem set deleted", nil)
}

func (h *ProblemSetHandler) createProblem(c *fiber.Ctx) error {
	problemSetID := c.Params("id")

	var req dto.CreateProblemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	if _, err := h.store.GetProblemSet(ctx, problemSetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "problem set not found")
		}
		return h.internalError(c, err)
	}

	problem := &models.Problem{
		ProblemSetID:   problemSetID,
		Kind:           models.ProblemKind(req.Kind),
		Prompt:         req.Prompt,
		ExpectedAnswer: req.ExpectedAnswer,
		HTMLAssets:     req.HTMLAssets,
		ScoringHints:   req.ScoringHints,
	}
	if req.ID != nil {
		problem.ID = *req.ID
	}
	if err := h.store.CreateProblem(ctx, problem); err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "problem created", problem)
}

func (h *ProblemSetHandler) listProblems(c *fiber.Ctx) error {
	problems, err := h.store.ListProblemsInOrder(c.Context(), c.Params("id"))
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "problems retrieved", problems)
}

func (h *ProblemSetHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("problem set handler error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal error")
}
