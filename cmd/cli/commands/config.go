package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/types"
)

// GetConfigCmd returns the config command tree
func GetConfigCmd() *cobra.Command {
	return configCmd
}

func init() {
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(setConfigCmd)

	setConfigCmd.Flags().StringP("json", "j", "", `Settings sections to replace, e.g. '{"scorer":{"automation_threshold":0.95,...}}'`)
	_ = setConfigCmd.MarkFlagRequired("json")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and tune the runtime configuration",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active settings snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := apiClient.GetConfig(context.Background())
		if err != nil {
			return fmt.Errorf("error fetching config: %w", err)
		}
		return printJSON(cmd, resp.Settings)
	},
}

var setConfigCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace settings sections; omitted sections keep their values",
	RunE: func(cmd *cobra.Command, _ []string) error {
		body, _ := cmd.Flags().GetString("json")

		var req types.UpdateConfigRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return fmt.Errorf("invalid settings json: %w", err)
		}

		resp, err := apiClient.UpdateConfig(context.Background(), req)
		if err != nil {
			return fmt.Errorf("error updating config: %w", err)
		}
		return printJSON(cmd, resp.Settings)
	},
}
