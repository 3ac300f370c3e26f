package server

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
)

func NewCmdServerList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all target servers",
		Run: func(cmd *cobra.Command, args []string) {
			servers, err := app.GetServerRepository().List()
			if err != nil {
				utils.HandleCommandError("listing servers", err)
				return
			}

			out, err := output.PrintServerList(servers)
			if err != nil {
				utils.HandleCommandError("printing server list", err)
			}
			if _, err := fmt.Fprint(cmd.OutOrStdout(), out); err != nil {
				utils.HandleCommandError("printing server list", err)
			}
		},
	}
}
