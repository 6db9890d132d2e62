package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/types"
	"github.com/docuflow/docuflow/pkg/api/v1/client/mock"
)

func TestShowConfigCommand(t *testing.T) {
	m := &mock.Client{
		GetConfigFunc: func(_ context.Context) (types.ConfigResponse, error) {
			return types.ConfigResponse{Settings: config.DefaultSettings()}, nil
		},
	}

	out, err := runCommand(t, m, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"automation_threshold": 0.9`)
	assert.Contains(t, out, `"version": 1`)
}

func TestSetConfigCommand(t *testing.T) {
	m := &mock.Client{
		UpdateConfigFunc: func(_ context.Context, req types.UpdateConfigRequest) (types.ConfigResponse, error) {
			require.NotNil(t, req.Scorer)
			assert.InDelta(t, 0.95, req.Scorer.AutomationThreshold, 1e-9)

			updated := config.DefaultSettings()
			updated.Scorer.AutomationThreshold = req.Scorer.AutomationThreshold
			updated.Version = 2
			return types.ConfigResponse{Settings: updated}, nil
		},
	}

	out, err := runCommand(t, m, "config", "set", "--json", `{"scorer":{"automation_threshold":0.95}}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"version": 2`)
}

func TestSetConfigCommandRejectsBadJSON(t *testing.T) {
	_, err := runCommand(t, &mock.Client{}, "config", "set", "--json", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settings json")
}
