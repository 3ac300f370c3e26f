// Package deployments implements the deployment history commands.
package deployments

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

func NewCmdDeployments() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "Show deployment history",
		Long:  "List recorded deployments, newest first, optionally filtered by project.",
		Run: func(cmd *cobra.Command, args []string) {
			projectRef, _ := cmd.Flags().GetString("project")
			showLog, _ := cmd.Flags().GetString("log")

			if showLog != "" {
				if err := runShowLog(cmd, showLog); err != nil {
					utils.HandleCommandError("showing deployment log", err, "deployment_id", showLog)
				}
				return
			}

			if err := runList(cmd, projectRef); err != nil {
				utils.HandleCommandError("listing deployments", err)
			}
		},
	}

	cmd.Flags().StringP("project", "p", "", "Only show deployments of this project (ID or name)")
	cmd.Flags().String("log", "", "Show the recorded log of one deployment by ID")
	return cmd
}

func runList(cmd *cobra.Command, projectRef string) error {
	var (
		records []*domain.DeploymentRecord
		err     error
	)

	if projectRef != "" {
		project, err := resolveProject(projectRef)
		if err != nil {
			return fmt.Errorf("failed to find project %q: %w", projectRef, err)
		}
		records, err = app.GetDeploymentRecordRepository().ListByProjectID(project.ID)
		if err != nil {
			return err
		}
	} else {
		records, err = app.GetDeploymentRecordRepository().List()
		if err != nil {
			return err
		}
	}

	out, err := output.PrintDeploymentRecordList(records)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

func runShowLog(cmd *cobra.Command, ref string) error {
	id, err := uuid.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid deployment ID %q", ref)
	}

	record, err := app.GetDeploymentRecordRepository().FindByID(id)
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), record.LogTail)
	return err
}

func resolveProject(ref string) (*domain.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return app.GetProjectRepository().FindByID(id)
	}
	return app.GetProjectRepository().FindByName(ref)
}
