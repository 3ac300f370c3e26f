// Package version implements the version command.
package version

import (
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
)

func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the Coxswain version",
		Run: func(cmd *cobra.Command, args []string) {
			_ = output.FprintPlain(cmd, "coxswain %s", app.Version)
		},
	}
}
