// Package root implements the command line interface for Coxswain.
package root

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/apply"
	"github.com/coxswain-cd/coxswain/cmd/deploy"
	"github.com/coxswain-cd/coxswain/cmd/deployments"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/project"
	"github.com/coxswain-cd/coxswain/cmd/serve"
	"github.com/coxswain-cd/coxswain/cmd/server"
	"github.com/coxswain-cd/coxswain/cmd/status"
	"github.com/coxswain-cd/coxswain/cmd/version"
	"github.com/coxswain-cd/coxswain/config"
	"github.com/coxswain-cd/coxswain/logging"
)

func Execute() {
	if err := NewCmdRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCmdRoot() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "coxswain",
		Short: "Build-once, deploy-everywhere orchestration for server fleets",
		Long: `Coxswain runs a project's build command once, then fans its deploy command
out to every target server concurrently, streaming the merged log live.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := config.NewConfig(dataDir)
			if err != nil {
				log.Fatalf("Failed to initialize configuration: %s", err)
			}

			// CLI flags override config
			colorDisabled := !cfg.ColorEnabled
			if output.NoColor.IsSet() {
				colorDisabled = true
			}
			output.InitColors(colorDisabled)

			logLevel := cfg.LogLevel
			if logging.LogLevel.IsSet() {
				logLevel = logging.LogLevel.String()
			}
			logging.InitLogging(logLevel)

			if err := app.InitializeWithConfig(context.Background(), cfg); err != nil {
				log.Fatalf("Failed to initialize application: %s", err)
			}
		},
	}

	cmd.PersistentFlags().
		StringVarP(&dataDir, "data-dir", "d", "", "Data directory for Coxswain configuration and workspaces")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	cmd.PersistentFlags().VarP(output.NoColor, "no-color", "c", "Disable colored terminal output")

	cmd.AddCommand(serve.NewCmdServe())
	cmd.AddCommand(project.NewCmdProject())
	cmd.AddCommand(server.NewCmdServer())
	cmd.AddCommand(apply.NewCmdApply())
	cmd.AddCommand(deploy.NewCmdDeploy())
	cmd.AddCommand(status.NewCmdStatus())
	cmd.AddCommand(deployments.NewCmdDeployments())
	cmd.AddCommand(version.NewCmdVersion())
	return cmd
}
