package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/types"
)

// ConfigHandler serves the hot-reloadable configuration surface. Updates are
// validated, versioned and logged; they only affect jobs routed or scored
// after the change lands.
type ConfigHandler struct {
	settings *config.Store
	gov      *governor.Governor
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(settings *config.Store, gov *governor.Governor) *ConfigHandler {
	return &ConfigHandler{settings: settings, gov: gov}
}

// GetConfig handles GET /config.
func (h *ConfigHandler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(success(types.ConfigResponse{Settings: *h.settings.Current()}))
}

// UpdateConfig handles PUT /config. Sections absent from the body keep their
// current values; an update that fails validation changes nothing.
func (h *ConfigHandler) UpdateConfig(c *fiber.Ctx) error {
	var req types.UpdateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(fmt.Sprintf("invalid request body: %v", err)))
	}

	next, err := h.settings.Update(func(s *config.Settings) {
		if req.Router != nil {
			s.Router = *req.Router
		}
		if req.Scorer != nil {
			s.Scorer = *req.Scorer
		}
		if req.Governor != nil {
			s.Governor = req.Governor
		}
		if req.Pipeline != nil {
			s.Pipeline = *req.Pipeline
		}
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	// Governor limits take effect immediately, waking any eligible waiters
	if req.Governor != nil {
		for class, limits := range governorLimits(next.Governor) {
			h.gov.SetLimits(class, limits)
		}
	}

	return c.JSON(success(types.ConfigResponse{Settings: *next}))
}

// governorLimits converts settings-layer limits into governor limits.
func governorLimits(in map[string]config.GovernorLimits) map[string]governor.Limits {
	out := make(map[string]governor.Limits, len(in))
	for class, l := range in {
		out[class] = governor.Limits{
			RefillRate:  l.RefillRate,
			Burst:       l.Burst,
			PoolSize:    l.PoolSize,
			WaitTimeout: l.WaitTimeout,
		}
	}
	return out
}
