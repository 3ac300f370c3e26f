// Package server implements the server management commands.
package server

import (
	"github.com/spf13/cobra"
)

func NewCmdServer() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage target servers",
		Long:  "Add, list and remove the servers deployments fan out to.",
	}

	cmd.AddCommand(NewCmdServerAdd())
	cmd.AddCommand(NewCmdServerList())
	cmd.AddCommand(NewCmdServerRemove())
	return cmd
}
