// Package apply implements declarative configuration from a YAML manifest.
package apply

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gosimple/slug"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

// manifest is the YAML shape consumed by apply.
type manifest struct {
	Servers  []serverSpec  `yaml:"servers"`
	Projects []projectSpec `yaml:"projects"`
}

type serverSpec struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	KeyFile  string `yaml:"key_file"`
	Password string `yaml:"password"`
}

type projectSpec struct {
	Name          string   `yaml:"name"`
	GitURL        string   `yaml:"git_url"`
	GitBranch     string   `yaml:"git_branch"`
	WorkingDir    string   `yaml:"working_dir"`
	BuildCommand  string   `yaml:"build_command"`
	DeployCommand string   `yaml:"deploy_command"`
	Targets       []string `yaml:"targets"`
}

func NewCmdApply() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a YAML manifest of servers and projects",
		Long: `Create or update servers and projects from a manifest file. Servers are
applied before projects so projects can reference servers defined in the
same file.`,
		Run: func(cmd *cobra.Command, args []string) {
			file, _ := cmd.Flags().GetString("file")
			if err := runApply(cmd, file); err != nil {
				utils.HandleCommandError("applying manifest", err, "file", file)
			}
		},
	}

	cmd.Flags().StringP("file", "f", "", "Manifest file to apply")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		slog.Error("Failed to mark file flag as required", "error", err)
		panic(fmt.Sprintf("CLI setup error: %v", err))
	}
	return cmd
}

func runApply(cmd *cobra.Command, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	for _, spec := range m.Servers {
		action, err := applyServer(spec)
		if err != nil {
			return fmt.Errorf("server %q: %w", spec.Name, err)
		}
		if err := output.FprintPlain(cmd, "server/%s %s", spec.Name, action); err != nil {
			return err
		}
	}

	for _, spec := range m.Projects {
		action, err := applyProject(spec)
		if err != nil {
			return fmt.Errorf("project %q: %w", spec.Name, err)
		}
		if err := output.FprintPlain(cmd, "project/%s %s", spec.Name, action); err != nil {
			return err
		}
	}

	return nil
}

func applyServer(spec serverSpec) (string, error) {
	target := domain.NewServerTarget(spec.Name, spec.Host, spec.Port, spec.User)
	target.Password = spec.Password
	if spec.KeyFile != "" {
		key, err := os.ReadFile(spec.KeyFile)
		if err != nil {
			return "", fmt.Errorf("reading private key file: %w", err)
		}
		target.PrivateKey = string(key)
	}

	servers := app.GetServerRepository()
	existing, err := servers.FindByName(spec.Name)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
		if _, err := servers.Create(&target); err != nil {
			return "", err
		}
		return "created", nil
	}

	target.ID = existing.ID
	target.CreatedAt = existing.CreatedAt
	if err := servers.Update(&target); err != nil {
		return "", err
	}
	return "updated", nil
}

func applyProject(spec projectSpec) (string, error) {
	targets := make([]domain.ServerTarget, 0, len(spec.Targets))
	for _, name := range spec.Targets {
		server, err := app.GetServerRepository().FindByName(name)
		if err != nil {
			return "", fmt.Errorf("resolving target server %q: %w", name, err)
		}
		targets = append(targets, *server)
	}

	project := domain.NewProject(spec.Name, spec.BuildCommand, spec.DeployCommand, targets)
	project.GitURL = spec.GitURL
	project.GitBranch = spec.GitBranch
	project.WorkingDir = spec.WorkingDir
	if project.WorkingDir == "" {
		project.WorkingDir = app.GetConfig().ProjectWorkspace(slug.Make(spec.Name))
	}

	if err := project.Validate(); err != nil {
		return "", err
	}

	projects := app.GetProjectRepository()
	existing, err := projects.FindByName(spec.Name)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
		if _, err := projects.Create(&project); err != nil {
			return "", err
		}
		return "created", nil
	}

	project.ID = existing.ID
	project.CreatedAt = existing.CreatedAt
	if err := projects.Update(&project); err != nil {
		return "", err
	}
	return "updated", nil
}
