package project

import (
	"fmt"
	"log/slog"

	"github.com/gosimple/slug"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

func NewCmdProjectAdd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a deployable project",
		Long: `Define a new project: its build command, its deploy command and the
servers the deploy command fans out to. Target servers must exist already.`,
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			gitURL, _ := cmd.Flags().GetString("git-url")
			gitBranch, _ := cmd.Flags().GetString("git-branch")
			workingDir, _ := cmd.Flags().GetString("working-dir")
			buildCommand, _ := cmd.Flags().GetString("build-command")
			deployCommand, _ := cmd.Flags().GetString("deploy-command")
			targetNames, _ := cmd.Flags().GetStringArray("target")

			targets := make([]domain.ServerTarget, 0, len(targetNames))
			for _, targetName := range targetNames {
				server, err := app.GetServerRepository().FindByName(targetName)
				if err != nil {
					utils.HandleCommandError("resolving target server", err, "server_name", targetName)
					return
				}
				targets = append(targets, *server)
			}

			project := domain.NewProject(name, buildCommand, deployCommand, targets)
			project.GitURL = gitURL
			project.GitBranch = gitBranch
			project.WorkingDir = workingDir
			if project.WorkingDir == "" {
				project.WorkingDir = app.GetConfig().ProjectWorkspace(slug.Make(name))
			}

			if err := project.Validate(); err != nil {
				utils.HandleCommandError("validating project", err)
				return
			}

			created, err := app.GetProjectRepository().Create(&project)
			if err != nil {
				utils.HandleCommandError("creating project", err, "project_name", name)
				return
			}

			out, err := output.PrintProjectDetails(created)
			if err != nil {
				utils.HandleCommandError("printing project details", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), out); err != nil {
				utils.HandleCommandError("printing project details", err)
			}
		},
	}

	cmd.Flags().StringP("name", "n", "", "Project name")
	cmd.Flags().StringP("git-url", "u", "", "Git repository URL (optional)")
	cmd.Flags().StringP("git-branch", "b", "", "Git branch to deploy")
	cmd.Flags().StringP("working-dir", "w", "", "Directory where build and deploy commands run")
	cmd.Flags().String("build-command", "", "Command that builds the project")
	cmd.Flags().String("deploy-command", "", "Command that deploys the build on each target")
	cmd.Flags().StringArrayP("target", "t", nil, "Target server name (repeatable)")
	for _, flag := range []string{"name", "build-command", "deploy-command", "target"} {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			slog.Error("Failed to mark flag as required", "flag", flag, "error", err)
			panic(fmt.Sprintf("CLI setup error: %v", err))
		}
	}
	return cmd
}
