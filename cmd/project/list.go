package project

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
)

func NewCmdProjectList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Run: func(cmd *cobra.Command, args []string) {
			projects, err := app.GetProjectRepository().List()
			if err != nil {
				utils.HandleCommandError("listing projects", err)
				return
			}

			out, err := output.PrintProjectList(projects)
			if err != nil {
				utils.HandleCommandError("printing project list", err)
			}
			if _, err := fmt.Fprint(cmd.OutOrStdout(), out); err != nil {
				utils.HandleCommandError("printing project list", err)
			}
		},
	}
}
