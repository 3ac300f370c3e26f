package repository

import (
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coxswain-cd/coxswain/db"
	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/encryption"
)

// setupTestDB creates a migrated in-memory SQLite database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.InitDatabase(db.DBConfig{
		Path:     ":memory:",
		LogLevel: logger.Silent,
	})
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	if err := db.AutoMigrateAll(database); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return database
}

func setupTestEncryption(t *testing.T) *encryption.Service {
	t.Helper()
	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate encryption key: %v", err)
	}
	svc, err := encryption.NewService(key)
	if err != nil {
		t.Fatalf("Failed to create encryption service: %v", err)
	}
	return svc
}

func createTestServer(name string) *domain.ServerTarget {
	target := domain.NewServerTarget(name, name+".internal", 22, "deploy")
	target.Password = "hunter2"
	return &target
}

func createTestProject(targets ...domain.ServerTarget) *domain.Project {
	project := domain.NewProject("web-app", "make build", "make deploy", targets)
	project.GitURL = "https://git.example.com/acme/web-app.git"
	project.GitBranch = "main"
	project.WorkingDir = "/var/lib/coxswain/workspaces/web-app"
	return &project
}
