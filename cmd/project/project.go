// Package project implements the project management commands.
package project

import (
	"github.com/spf13/cobra"
)

func NewCmdProject() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Add, inspect and remove deployable projects.",
	}

	cmd.AddCommand(NewCmdProjectAdd())
	cmd.AddCommand(NewCmdProjectList())
	cmd.AddCommand(NewCmdProjectShow())
	cmd.AddCommand(NewCmdProjectRemove())
	return cmd
}
