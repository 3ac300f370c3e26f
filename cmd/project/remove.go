package project

import (
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
)

func NewCmdProjectRemove() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id-or-name>",
		Short: "Remove a project",
		Long:  "Remove a project definition. Its deployment history is removed with it.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			project, err := resolveProject(args[0])
			if err != nil {
				utils.HandleCommandError("finding project", err, "project", args[0])
				return
			}

			if err := app.GetProjectRepository().Delete(project.ID); err != nil {
				utils.HandleCommandError("removing project", err, "project_name", project.Name)
				return
			}

			if err := output.FprintSuccess(cmd, "Project '%s' removed", project.Name); err != nil {
				utils.HandleCommandError("printing result", err)
			}
		},
	}
}
