package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

func NewCmdServerAdd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a target server",
		Long: `Register a server deployments can target. Credentials are encrypted
before they are stored.`,
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			user, _ := cmd.Flags().GetString("user")
			keyFile, _ := cmd.Flags().GetString("key-file")
			password, _ := cmd.Flags().GetString("password")

			target := domain.NewServerTarget(name, host, port, user)
			target.Password = password
			if keyFile != "" {
				key, err := os.ReadFile(keyFile)
				if err != nil {
					utils.HandleCommandError("reading private key file", err, "key_file", keyFile)
					return
				}
				target.PrivateKey = string(key)
			}

			created, err := app.GetServerRepository().Create(&target)
			if err != nil {
				utils.HandleCommandError("adding server", err, "server_name", name)
				return
			}

			if err := output.FprintSuccess(cmd, "Server '%s' added (%s)", created.Name, created.Address()); err != nil {
				utils.HandleCommandError("printing result", err)
			}
		},
	}

	cmd.Flags().StringP("name", "n", "", "Server name, unique across servers")
	cmd.Flags().String("host", "", "Hostname or IP address")
	cmd.Flags().Int("port", 22, "SSH port")
	cmd.Flags().StringP("user", "u", "", "SSH user")
	cmd.Flags().StringP("key-file", "k", "", "Path to a PEM private key file")
	cmd.Flags().String("password", "", "SSH password")
	for _, flag := range []string{"name", "host", "user"} {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			slog.Error("Failed to mark flag as required", "flag", flag, "error", err)
			panic(fmt.Sprintf("CLI setup error: %v", err))
		}
	}
	return cmd
}
