package types

import "github.com/docuflow/docuflow/internal/config"

// UpdateConfigRequest is the body of PUT /api/v1/config. Only the sections
// present are replaced; omitted sections keep their current values.
type UpdateConfigRequest struct {
	Router   *config.RouterThresholds         `json:"router,omitempty"`
	Scorer   *config.ScorerSettings           `json:"scorer,omitempty"`
	Governor map[string]config.GovernorLimits `json:"governor,omitempty"`
	Pipeline *config.PipelineSettings         `json:"pipeline,omitempty"`
}

// ConfigResponse is the body of GET /api/v1/config and the result of a
// successful update.
type ConfigResponse struct {
	Settings config.Settings `json:"settings"`
}
