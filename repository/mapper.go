// Package repository provides the data access layer for projects, servers and
// deployment records.
package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coxswain-cd/coxswain/db"
	"github.com/coxswain-cd/coxswain/domain"
	"github.com/coxswain-cd/coxswain/encryption"
)

// ServerMapper converts between server models and domain targets, encrypting
// SSH credentials on the way in and decrypting them on the way out.
type ServerMapper struct {
	encryption *encryption.Service
}

func NewServerMapper(encryptionSvc *encryption.Service) *ServerMapper {
	return &ServerMapper{encryption: encryptionSvc}
}

func (m *ServerMapper) ToDomain(s *db.ServerModel) (*domain.ServerTarget, error) {
	target := &domain.ServerTarget{
		ID:        s.ID,
		Name:      s.Name,
		Host:      s.Host,
		Port:      s.Port,
		User:      s.User,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}

	if s.Credentials != nil && *s.Credentials != "" {
		creds, err := m.encryption.DecryptServerCredentials(*s.Credentials)
		if err != nil {
			// This usually means the encryption key changed.
			slog.Error("Failed to decrypt server credentials",
				"layer", "repository",
				"server_id", s.ID,
				"server_name", s.Name,
				"error", err)
			return nil, fmt.Errorf("failed to decrypt credentials for server %q: %w", s.Name, err)
		}
		target.PrivateKey = creds.PrivateKey
		target.Password = creds.Password
	}

	return target, nil
}

func (m *ServerMapper) ToModel(t *domain.ServerTarget) (*db.ServerModel, error) {
	model := &db.ServerModel{
		BaseModel: db.BaseModel{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		},
		Name: t.Name,
		Host: t.Host,
		Port: t.Port,
		User: t.User,
	}

	if t.PrivateKey != "" || t.Password != "" {
		encrypted, err := m.encryption.EncryptServerCredentials(&encryption.ServerCredentials{
			PrivateKey: t.PrivateKey,
			Password:   t.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials for server %q: %w", t.Name, err)
		}
		model.Credentials = &encrypted
	}

	return model, nil
}

// ProjectMapper converts between project models and domain projects. The model
// stores target server names only; the repository resolves them to full
// targets before mapping to the domain.
type ProjectMapper struct{}

func (m *ProjectMapper) ToDomain(p *db.ProjectModel, targets []domain.ServerTarget) *domain.Project {
	project := &domain.Project{
		ID:            p.ID,
		Name:          p.Name,
		WorkingDir:    p.WorkingDir,
		BuildCommand:  p.BuildCommand,
		DeployCommand: p.DeployCommand,
		Targets:       targets,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.GitURL != nil {
		project.GitURL = *p.GitURL
	}
	if p.GitBranch != nil {
		project.GitBranch = *p.GitBranch
	}
	return project
}

func (m *ProjectMapper) ToModel(p *domain.Project) *db.ProjectModel {
	names := make([]string, len(p.Targets))
	for i, t := range p.Targets {
		names[i] = t.Name
	}

	model := &db.ProjectModel{
		BaseModel: db.BaseModel{
			ID:        p.ID,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		},
		Name:          p.Name,
		WorkingDir:    p.WorkingDir,
		BuildCommand:  p.BuildCommand,
		DeployCommand: p.DeployCommand,
		Targets:       serializeNames(names),
	}
	if p.GitURL != "" {
		model.GitURL = &p.GitURL
	}
	if p.GitBranch != "" {
		model.GitBranch = &p.GitBranch
	}
	return model
}

// TargetNames returns the target server names stored on a project model.
func (m *ProjectMapper) TargetNames(p *db.ProjectModel) []string {
	return parseNames(p.Targets)
}

// targetResultRecord is the JSON shape of a per-target result in a stored
// deployment record. Statuses are stored as strings so records stay readable
// with plain SQL.
type targetResultRecord struct {
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

// DeploymentRecordMapper converts between finished deployment snapshots and
// their stored records.
type DeploymentRecordMapper struct{}

func (m *DeploymentRecordMapper) ToModel(d *domain.Deployment, logTail string) (*db.DeploymentRecordModel, error) {
	results := make(map[string]targetResultRecord, len(d.TargetResults))
	for name, result := range d.TargetResults {
		results[name] = targetResultRecord{
			Status:     result.Status.String(),
			ExitCode:   result.ExitCode,
			DurationMS: result.Duration.Milliseconds(),
			Message:    result.Message,
		}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize target results: %w", err)
	}

	return &db.DeploymentRecordModel{
		BaseModel: db.BaseModel{
			ID:        d.ID,
			CreatedAt: d.CreatedAt,
		},
		ProjectID:     d.ProjectID,
		ProjectName:   d.ProjectName,
		Status:        d.Status.String(),
		Policy:        d.Policy.String(),
		TargetResults: string(encoded),
		LogTail:       logTail,
		StartedAt:     d.StartedAt,
		CompletedAt:   d.CompletedAt,
	}, nil
}

func (m *DeploymentRecordMapper) ToDomain(r *db.DeploymentRecordModel) (*domain.DeploymentRecord, error) {
	status, err := domain.ParseDeploymentStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("deployment record %s: %w", r.ID, err)
	}
	policy, err := domain.ParsePolicy(r.Policy)
	if err != nil {
		return nil, fmt.Errorf("deployment record %s: %w", r.ID, err)
	}

	results := make(map[string]domain.TargetResult)
	if r.TargetResults != "" {
		var stored map[string]targetResultRecord
		if err := json.Unmarshal([]byte(r.TargetResults), &stored); err != nil {
			return nil, fmt.Errorf("deployment record %s: failed to parse target results: %w", r.ID, err)
		}
		for name, record := range stored {
			targetStatus, err := domain.ParseTargetStatus(record.Status)
			if err != nil {
				return nil, fmt.Errorf("deployment record %s: %w", r.ID, err)
			}
			results[name] = domain.TargetResult{
				Status:   targetStatus,
				ExitCode: record.ExitCode,
				Duration: time.Duration(record.DurationMS) * time.Millisecond,
				Message:  record.Message,
			}
		}
	}

	return &domain.DeploymentRecord{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		ProjectName:   r.ProjectName,
		Status:        status,
		Policy:        policy,
		TargetResults: results,
		LogTail:       r.LogTail,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}, nil
}

// Target names are stored null-separated; names cannot contain \0 and this
// avoids quoting rules entirely.
func parseNames(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\x00")
}

func serializeNames(names []string) string {
	return strings.Join(names, "\x00")
}
