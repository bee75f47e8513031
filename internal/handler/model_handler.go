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

// ModelHandler wires model CRUD under a provider.
type ModelHandler struct {
	store     *store.Store
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewModelHandler constructs a ModelHandler.
func NewModelHandler(st *store.Store, validate *validator.Validate, logger zerolog.Logger) *ModelHandler {
	return &ModelHandler{store: st, validator: validate, logger: logger.With().Str("component", "model_handler").Logger()}
}

// Register binds model routes under the given router group.
func (h *ModelHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
}

func (h *ModelHandler) create(c *fiber.Ctx) error {
	var req dto.CreateModelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	if _, err := h.store.GetProvider(ctx, req.ProviderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusBadRequest, "provider does not exist")
		}
		return h.internalError(c, err)
	}

	model := &models.Model{
		ProviderID:    req.ProviderID,
		Label:         req.Label,
		VendorModelID: req.VendorModelID,
		Parameters:    req.Parameters,
	}
	if req.ID != nil {
		model.ID = *req.ID
	}
	if err := h.store.CreateModel(ctx, model); err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "model created", model)
}

func (h *ModelHandler) list(c *fiber.Ctx) error {
	result, err := h.store.ListModels(c.Context(), c.Query("provider_id"))
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "models retrieved", result)
}

func (h *ModelHandler) get(c *fiber.Ctx) error {
	model, err := h.store.GetModel(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "model not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "model retrieved", model)
}

func (h *ModelHandler) update(c *fiber.Ctx) error {
	var req dto.UpdateModelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	model, err := h.store.GetModel(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "model not found")
		}
		return h.internalError(c, err)
	}

	model.Label = req.Label
	model.VendorModelID = req.VendorModelID
	model.Parameters = req.Parameters

	if err := h.store.UpdateModel(ctx, &model); err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "model updated", model)
}

func (h *ModelHandler) delete(c *fiber.Ctx) error {
	cascade := c.QueryBool("cascade", false)

	if err := h.store.DeleteModel(c.Context(), c.Params("id"), cascade); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "model not found")
		case errors.Is(err, store.ErrReferenced):
			return utils.SendError(c, fiber.StatusConflict, "model still referenced by runs; retry with ?cascade=true")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccess(c, "model deleted", nil)
}

func (h *ModelHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("model handler error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal error")
}
