// Package serve implements the command that runs the Coxswain server.
package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/web"
)

func NewCmdServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Coxswain server",
		Long: `Start the HTTP server exposing the deployment API and the WebSocket
log stream. The server runs until interrupted.`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runServe(cmd); err != nil {
				utils.HandleCommandError("running server", err)
			}
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Evict finished deployments in the background.
	go app.GetRegistry().Start(ctx)

	server := web.NewServer(
		app.GetEngine(),
		app.GetProjectRepository(),
		app.GetDeploymentRecordRepository(),
	)
	return server.ListenAndServe(ctx, app.GetConfig().ListenAddr())
}
