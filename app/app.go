// Package app provides the main application context for Coxswain, wiring the
// database, repositories and the deployment engine together.
package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/coxswain-cd/coxswain/config"
	"github.com/coxswain-cd/coxswain/db"
	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/encryption"
	"github.com/coxswain-cd/coxswain/engine"
	"github.com/coxswain-cd/coxswain/executor"
	"github.com/coxswain-cd/coxswain/gitsync"
	"github.com/coxswain-cd/coxswain/repository"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	appConfig   *config.Config
	database    *gorm.DB
	projectRepo repository.ProjectRepository
	serverRepo  repository.ServerRepository
	recordRepo  repository.DeploymentRecordRepository
	registry    *engine.Registry
	deployments *engine.Engine
)

// InitializeWithConfig initializes the app with a pre-configured Config.
func InitializeWithConfig(ctx context.Context, cfg *config.Config) error {
	appConfig = cfg

	if err := os.MkdirAll(appConfig.DataDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(appConfig.WorkspaceDir, 0o755); err != nil {
		return err
	}

	var err error
	database, err = db.InitDB(appConfig.DatabasePath)
	if err != nil {
		return err
	}

	// First run: generate an encryption key and persist it next to the data.
	if appConfig.EncryptionKey == "" {
		key, err := encryption.GenerateKey()
		if err != nil {
			return err
		}
		envFile := filepath.Join(appConfig.DataDir, ".env")
		if err := godotenv.Write(map[string]string{"COXSWAIN_ENCRYPTION_KEY": key}, envFile); err != nil {
			return err
		}
		if err := os.Chmod(envFile, 0o600); err != nil {
			return err
		}
		appConfig.EncryptionKey = key
	}

	encryptionSvc, err := encryption.NewService(appConfig.EncryptionKey)
	if err != nil {
		return err
	}

	projectRepo = repository.NewProjectRepository(database, encryptionSvc)
	serverRepo = repository.NewServerRepository(database, encryptionSvc)
	recordRepo = repository.NewDeploymentRecordRepository(database)

	registry = engine.NewRegistry(appConfig.Retention)
	deployments = engine.NewEngine(
		ctx,
		registry,
		executor.NewSSHOpener(appConfig.SSHDialTimeout),
		buildChannelFactory(appConfig),
		repository.NewRecorder(recordRepo),
		gitsync.NewSyncer(appConfig.GitTimeout),
		engine.OrchestratorOptions{
			BuildTimeout:         appConfig.BuildTimeout,
			DeployTimeout:        appConfig.DeployTimeout,
			MaxConcurrentTargets: appConfig.MaxConcurrentTargets,
		},
	)

	return nil
}

// buildChannelFactory picks where build commands run: the project workspace on
// the local shell by default, or a container when a build image is configured.
func buildChannelFactory(cfg *config.Config) engine.BuildChannelFactory {
	return func(project domain.Project) (executor.ExecutionChannel, error) {
		if cfg.BuildImage != "" {
			return executor.NewDockerChannel(cfg.BuildImage, project.WorkingDir)
		}
		return executor.NewLocalChannel(project.WorkingDir), nil
	}
}

func GetConfig() *config.Config {
	return appConfig
}

func GetEngine() *engine.Engine {
	return deployments
}

func GetRegistry() *engine.Registry {
	return registry
}

func GetProjectRepository() repository.ProjectRepository {
	return projectRepo
}

func GetServerRepository() repository.ServerRepository {
	return serverRepo
}

func GetDeploymentRecordRepository() repository.DeploymentRecordRepository {
	return recordRepo
}
