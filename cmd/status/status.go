// Package status implements the command that shows one deployment's state.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
)

// deploymentStatus mirrors the server's deployment JSON.
type deploymentStatus struct {
	ID          string `json:"id"`
	ProjectName string `json:"project_name"`
	Status      string `json:"status"`
	Policy      string `json:"policy"`
	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`

	TargetResults map[string]struct {
		Status     string `json:"status"`
		ExitCode   int    `json:"exit_code"`
		DurationMS int64  `json:"duration_ms"`
		Message    string `json:"message"`
	} `json:"target_results"`
}

func NewCmdStatus() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show a deployment's status and per-target results",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(args[0])
			if err != nil {
				utils.HandleInvalidUUID("deployment status", args[0])
				return
			}

			serverURL, _ := cmd.Flags().GetString("server")
			if serverURL == "" {
				serverURL = "http://" + app.GetConfig().ListenAddr()
			}

			if err := runStatus(cmd, serverURL, id); err != nil {
				utils.HandleCommandError("fetching deployment status", err, "deployment_id", id)
			}
		},
	}

	cmd.Flags().StringP("server", "s", "", "Coxswain server URL")
	return cmd
}

func runStatus(cmd *cobra.Command, serverURL string, id uuid.UUID) error {
	resp, err := http.Get(fmt.Sprintf("%s/api/deployments/%s", serverURL, id))
	if err != nil {
		return fmt.Errorf("is the Coxswain server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("deployment %s not found", id)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var status deploymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("parsing server response: %w", err)
	}

	data := [][]string{
		{"ID", status.ID},
		{"Project", status.ProjectName},
		{"Status", status.Status},
		{"Policy", status.Policy},
	}
	table, err := output.PrintTable([]string{}, data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), table); err != nil {
		return err
	}

	if len(status.TargetResults) == 0 {
		return nil
	}

	header := []string{"Target", "Status", "Exit Code", "Duration", "Message"}
	var rows [][]string
	for name, result := range status.TargetResults {
		rows = append(rows, []string{
			name,
			result.Status,
			fmt.Sprintf("%d", result.ExitCode),
			fmt.Sprintf("%dms", result.DurationMS),
			result.Message,
		})
	}
	table, err = output.PrintTable(header, rows)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), table)
	return err
}
