package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/types"
)

// jobOutput is the filtered output for one job
type jobOutput struct {
	JobID       string `json:"job_id"`
	DocumentRef string `json:"document_ref"`
	State       string `json:"state"`
	Strategy    string `json:"strategy,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Score       string `json:"score,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func toJobOutput(job models.Job) jobOutput {
	out := jobOutput{
		JobID:       job.JobID,
		DocumentRef: job.DocumentRef,
		State:       job.State.String(),
		Strategy:    string(job.Strategy),
		Reason:      job.FailureReason,
	}
	if job.AutomationResult != nil {
		out.Decision = string(job.AutomationResult.Decision)
		out.Score = fmt.Sprintf("%.3f", job.AutomationResult.Score)
	}
	return out
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}

// GetJobsCmd returns the jobs command tree
func GetJobsCmd() *cobra.Command {
	return jobsCmd
}

func init() {
	jobsCmd.AddCommand(submitJobCmd)
	jobsCmd.AddCommand(getJobCmd)
	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(cancelJobCmd)

	submitJobCmd.Flags().StringP("document-ref", "d", "", "Document reference in the document store")
	submitJobCmd.Flags().StringP("class", "c", "", "Document class (e.g. invoice)")
	_ = submitJobCmd.MarkFlagRequired("document-ref")

	getJobCmd.Flags().StringP("id", "i", "", "Job ID to fetch")
	_ = getJobCmd.MarkFlagRequired("id")

	listJobsCmd.Flags().IntP("limit", "l", 0, "Limit the number of jobs returned")
	listJobsCmd.Flags().IntP("offset", "o", 0, "Offset into the result set")
	listJobsCmd.Flags().StringP("state", "t", "", "Filter jobs by state")

	cancelJobCmd.Flags().StringP("id", "i", "", "Job ID to cancel")
	_ = cancelJobCmd.MarkFlagRequired("id")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage processing jobs",
}

var submitJobCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a document for processing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		documentRef, _ := cmd.Flags().GetString("document-ref")
		class, _ := cmd.Flags().GetString("class")

		resp, err := apiClient.SubmitJob(context.Background(), types.SubmitJobRequest{
			DocumentRef:   documentRef,
			DocumentClass: class,
		})
		if err != nil {
			return fmt.Errorf("error submitting job: %w", err)
		}
		return printJSON(cmd, resp)
	},
}

var getJobCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a specific job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		job, err := apiClient.GetJob(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error fetching job: %w", err)
		}
		return printJSON(cmd, toJobOutput(job))
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := &models.ListOptions{}
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.Offset, _ = cmd.Flags().GetInt("offset")
		if stateStr, _ := cmd.Flags().GetString("state"); stateStr != "" {
			state, err := models.ParseJobState(stateStr)
			if err != nil {
				return err
			}
			opts.State = &state
		}

		resp, err := apiClient.ListJobs(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("error fetching jobs: %w", err)
		}

		output := make([]jobOutput, len(resp.Jobs))
		for i, job := range resp.Jobs {
			output[i] = toJobOutput(job)
		}
		return printJSON(cmd, map[string]interface{}{"jobs": output})
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running job (archives it when already finished)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("id")

		resp, err := apiClient.CancelJob(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error cancelling job: %w", err)
		}
		return printJSON(cmd, resp)
	},
}
