package project

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

func NewCmdProjectShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id-or-name>",
		Short: "Show project details",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			project, err := resolveProject(args[0])
			if err != nil {
				utils.HandleCommandError("finding project", err, "project", args[0])
				return
			}

			out, err := output.PrintProjectDetails(project)
			if err != nil {
				utils.HandleCommandError("printing project details", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), out); err != nil {
				utils.HandleCommandError("printing project details", err)
			}
		},
	}
}

// resolveProject accepts either a project UUID or a project name.
func resolveProject(ref string) (*domain.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return app.GetProjectRepository().FindByID(id)
	}
	return app.GetProjectRepository().FindByName(ref)
}
