package repository

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coxswain-cd/coxswain/db"
	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/encryption"
)

// ServerRepository manages stored server targets.
type ServerRepository interface {
	FindByID(id uuid.UUID) (*domain.ServerTarget, error)
	FindByName(name string) (*domain.ServerTarget, error)
	Create(target *domain.ServerTarget) (*domain.ServerTarget, error)
	Update(target *domain.ServerTarget) error
	List() ([]*domain.ServerTarget, error)
	Delete(id uuid.UUID) error
}

type serverRepository struct {
	db     *gorm.DB
	mapper *ServerMapper
}

func NewServerRepository(database *gorm.DB, encryptionSvc *encryption.Service) ServerRepository {
	return &serverRepository{
		db:     database,
		mapper: NewServerMapper(encryptionSvc),
	}
}

func (r *serverRepository) FindByID(id uuid.UUID) (*domain.ServerTarget, error) {
	var m db.ServerModel
	if err := r.db.First(&m, id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m)
}

func (r *serverRepository) FindByName(name string) (*domain.ServerTarget, error) {
	var m db.ServerModel
	if err := r.db.Where("name = ?", name).First(&m).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m)
}

func (r *serverRepository) Create(target *domain.ServerTarget) (*domain.ServerTarget, error) {
	m, err := r.mapper.ToModel(target)
	if err != nil {
		return nil, err
	}
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_server",
			"server_name", target.Name,
			"error", err)
		return nil, err
	}
	return r.mapper.ToDomain(m)
}

func (r *serverRepository) Update(target *domain.ServerTarget) error {
	m, err := r.mapper.ToModel(target)
	if err != nil {
		return err
	}
	// Select("*") so cleared credentials actually clear the stored column.
	return r.db.Model(&db.ServerModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at").
		Updates(m).
		Error
}

func (r *serverRepository) List() ([]*domain.ServerTarget, error) {
	var models []db.ServerModel
	if err := r.db.Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	targets := make([]*domain.ServerTarget, len(models))
	for i := range models {
		target, err := r.mapper.ToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		targets[i] = target
	}
	return targets, nil
}

func (r *serverRepository) Delete(id uuid.UUID) error {
	err := r.db.Delete(&db.ServerModel{}, id).Error
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "delete_server",
			"server_id", id,
			"error", err)
	}
	return err
}

// ProjectRepository manages stored project definitions. Projects reference
// servers by name; reads resolve those names to full targets so callers always
// get a deployable domain.Project.
type ProjectRepository interface {
	FindByID(id uuid.UUID) (*domain.Project, error)
	FindByName(name string) (*domain.Project, error)
	Create(project *domain.Project) (*domain.Project, error)
	Update(project *domain.Project) error
	List() ([]*domain.Project, error)
	Delete(id uuid.UUID) error
}

type projectRepository struct {
	db           *gorm.DB
	mapper       *ProjectMapper
	serverMapper *ServerMapper
}

func NewProjectRepository(database *gorm.DB, encryptionSvc *encryption.Service) ProjectRepository {
	return &projectRepository{
		db:           database,
		mapper:       &ProjectMapper{},
		serverMapper: NewServerMapper(encryptionSvc),
	}
}

func (r *projectRepository) FindByID(id uuid.UUID) (*domain.Project, error) {
	var m db.ProjectModel
	if err := r.db.First(&m, id).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "find_project",
			"project_id", id,
			"error", err)
		return nil, err
	}
	return r.toDomain(&m)
}

func (r *projectRepository) FindByName(name string) (*domain.Project, error) {
	var m db.ProjectModel
	if err := r.db.Where("name = ?", name).First(&m).Error; err != nil {
		return nil, err
	}
	return r.toDomain(&m)
}

func (r *projectRepository) Create(project *domain.Project) (*domain.Project, error) {
	if err := r.checkTargets(project); err != nil {
		return nil, err
	}
	m := r.mapper.ToModel(project)
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_project",
			"project_name", project.Name,
			"error", err)
		return nil, err
	}
	return r.toDomain(m)
}

func (r *projectRepository) Update(project *domain.Project) error {
	if err := r.checkTargets(project); err != nil {
		return err
	}
	m := r.mapper.ToModel(project)
	return r.db.Model(&db.ProjectModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at").
		Updates(m).
		Error
}

func (r *projectRepository) List() ([]*domain.Project, error) {
	var models []db.ProjectModel
	if err := r.db.Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	projects := make([]*domain.Project, len(models))
	for i := range models {
		project, err := r.toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		projects[i] = project
	}
	return projects, nil
}

func (r *projectRepository) Delete(id uuid.UUID) error {
	err := r.db.Delete(&db.ProjectModel{}, id).Error
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "delete_project",
			"project_id", id,
			"error", err)
	}
	return err
}

// checkTargets verifies every referenced server exists before writing the
// project, so dangling references fail at definition time rather than at
// deploy time.
func (r *projectRepository) checkTargets(project *domain.Project) error {
	for _, target := range project.Targets {
		var count int64
		if err := r.db.Model(&db.ServerModel{}).Where("name = ?", target.Name).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("project %s references unknown server %q", project.Name, target.Name)
		}
	}
	return nil
}

func (r *projectRepository) toDomain(m *db.ProjectModel) (*domain.Project, error) {
	names := r.mapper.TargetNames(m)
	targets := make([]domain.ServerTarget, 0, len(names))
	for _, name := range names {
		var server db.ServerModel
		if err := r.db.Where("name = ?", name).First(&server).Error; err != nil {
			return nil, fmt.Errorf("project %s references unknown server %q: %w", m.Name, name, err)
		}
		target, err := r.serverMapper.ToDomain(&server)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *target)
	}
	return r.mapper.ToDomain(m, targets), nil
}

// DeploymentRecordRepository manages the persisted history of finished
// deployments.
type DeploymentRecordRepository interface {
	FindByID(id uuid.UUID) (*domain.DeploymentRecord, error)
	Create(deployment *domain.Deployment, logTail string) error
	List() ([]*domain.DeploymentRecord, error)
	ListByProjectID(projectID uuid.UUID) ([]*domain.DeploymentRecord, error)
}

type deploymentRecordRepository struct {
	db     *gorm.DB
	mapper *DeploymentRecordMapper
}

func NewDeploymentRecordRepository(database *gorm.DB) DeploymentRecordRepository {
	return &deploymentRecordRepository{
		db:     database,
		mapper: &DeploymentRecordMapper{},
	}
}

func (r *deploymentRecordRepository) FindByID(id uuid.UUID) (*domain.DeploymentRecord, error) {
	var m db.DeploymentRecordModel
	if err := r.db.First(&m, id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m)
}

func (r *deploymentRecordRepository) Create(deployment *domain.Deployment, logTail string) error {
	m, err := r.mapper.ToModel(deployment, logTail)
	if err != nil {
		return err
	}
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_deployment_record",
			"deployment_id", deployment.ID,
			"project_name", deployment.ProjectName,
			"error", err)
		return err
	}
	return nil
}

func (r *deploymentRecordRepository) List() ([]*domain.DeploymentRecord, error) {
	var models []db.DeploymentRecordModel
	if err := r.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapList(models)
}

func (r *deploymentRecordRepository) ListByProjectID(projectID uuid.UUID) ([]*domain.DeploymentRecord, error) {
	var models []db.DeploymentRecordModel
	if err := r.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapList(models)
}

func (r *deploymentRecordRepository) mapList(models []db.DeploymentRecordModel) ([]*domain.DeploymentRecord, error) {
	records := make([]*domain.DeploymentRecord, len(models))
	for i := range models {
		record, err := r.mapper.ToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		records[i] = record
	}
	return records, nil
}
