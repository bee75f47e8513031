package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/benchlab/run-engine/internal/adapter"
	"github.com/benchlab/run-engine/internal/dto"
	"github.com/benchlab/run-engine/internal/models"
	"github.com/benchlab/run-engine/internal/store"
	"github.com/benchlab/run-engine/internal/utils"
)

// ProviderHandler wires provider CRUD and the connectivity probe endpoint.
type ProviderHandler struct {
	store        *store.Store
	prober       *adapter.Prober
	probeTimeout time.Duration
	validator    *validator.Validate
	logger       zerolog.Logger
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(st *store.Store, prober *adapter.Prober, probeTimeout time.Duration, validate *validator.Validate, logger zerolog.Logger) *ProviderHandler {
	return &ProviderHandler{
		store:        st,
		prober:       prober,
		probeTimeout: probeTimeout,
		validator:    validate,
		logger:       logger.With().Str("component", "provider_handler").Logger(),
	}
}

// Register binds provider routes under the given router group.
func (h *ProviderHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
	router.Post("/:id/test", h.test)
}

func (h *ProviderHandler) create(c *fiber.Ctx) error {
	var req dto.CreateProviderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	provider := &models.Provider{
		Name:           req.Name,
		AdapterKind:    adapter.NormalizeKind(req.AdapterKind),
		BaseURL:        adapter.NormalizeBaseURL(req.BaseURL),
		Credential:     req.Credential,
		DefaultModelID: req.DefaultModelID,
	}
	if req.ID != nil {
		provider.ID = *req.ID
	}
	if err := h.store.CreateProvider(c.Context(), provider); err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "provider created", provider)
}

func (h *ProviderHandler) list(c *fiber.Ctx) error {
	providers, err := h.store.ListProviders(c.Context())
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "providers retrieved", providers)
}

func (h *ProviderHandler) get(c *fiber.Ctx) error {
	provider, err := h.store.GetProvider(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "provider not found")
		}
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "provider retrieved", provider)
}

func (h *ProviderHandler) update(c *fiber.Ctx) error {
	var req dto.UpdateProviderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	provider, err := h.store.GetProvider(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "provider not found")
		}
		return h.internalError(c, err)
	}

	provider.Name = req.Name
	provider.BaseURL = adapter.NormalizeBaseURL(req.BaseURL)
	provider.Credential = req.Credential
	provider.DefaultModelID = req.DefaultModelID

	if err := h.store.UpdateProvider(ctx, &provider); err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "provider updated", provider)
}

func (h *ProviderHandler) delete(c *fiber.Ctx) error {
	cascade := c.QueryBool("cascade", false)

	if err := h.store.DeleteProvider(c.Context(), c.Params("id"), cascade); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "provider not found")
		case errors.Is(err, store.ErrReferenced):
			return utils.SendError(c, fiber.StatusConflict, "provider still has models; retry with ?cascade=true")
		default:
			return h.internalError(c, err)
		}
	}
	return utils.SendSuccess(c, "provider deleted", nil)
}

func (h *ProviderHandler) test(c *fiber.Ctx) error {
	ctx := c.Context()
	provider, err := h.store.GetProvider(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "provider not found")
		}
		return h.internalError(c, err)
	}

	reqCtx, cancel := newProbeContext(ctx, h.probeTimeout)
	defer cancel()

	cfg := adapter.ProviderConfig{BaseURL: provider.BaseURL, Credential: provider.Credential}
	result := h.prober.Probe(reqCtx, cfg, provider.AdapterKind)

	if result.Success {
		if err := h.store.MarkProviderProbed(ctx, provider.ID, time.Now().UTC()); err != nil {
			h.logger.Error().Err(err).Str("provider_id", provider.ID).Msg("failed to record successful probe")
		}
		return utils.SendSuccess(c, "provider reachable", result)
	}

	return utils.SendSuccessWithStatus(c, http.StatusOK, "provider unreachable", result)
}

func (h *ProviderHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("provider handler error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal error")
}
