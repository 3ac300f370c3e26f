package server

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

func NewCmdServerRemove() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <server-id-or-name>",
		Short: "Remove a target server",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			server, err := resolveServer(args[0])
			if err != nil {
				utils.HandleCommandError("finding server", err, "server", args[0])
				return
			}

			if err := app.GetServerRepository().Delete(server.ID); err != nil {
				utils.HandleCommandError("removing server", err, "server_name", server.Name)
				return
			}

			if err := output.FprintSuccess(cmd, "Server '%s' removed", server.Name); err != nil {
				utils.HandleCommandError("printing result", err)
			}
		},
	}
}

func resolveServer(ref string) (*domain.ServerTarget, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return app.GetServerRepository().FindByID(id)
	}
	return app.GetServerRepository().FindByName(ref)
}
