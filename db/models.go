// Package db provides database models and utilities for Coxswain.
package db

import (
	"time"

	"github.com/google/uuid"
)

type BaseModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProjectModel struct {
	BaseModel
	Name          string  `gorm:"not null;unique;check:name <> ''"`
	GitURL        *string // optional; projects can build from a pre-existing working directory
	GitBranch     *string
	WorkingDir    string `gorm:"not null;check:working_dir <> ''"` // directory where build and deploy commands run
	BuildCommand  string `gorm:"not null;check:build_command <> ''"`
	DeployCommand string `gorm:"not null;check:deploy_command <> ''"`
	Targets       string `gorm:"not null"` // server names separated by null character (\0)

	Deployments []DeploymentRecordModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (ProjectModel) TableName() string {
	return "projects"
}

type ServerModel struct {
	BaseModel
	Name        string  `gorm:"not null;unique;check:name <> ''"`
	Host        string  `gorm:"not null;check:host <> ''"`
	Port        int     `gorm:"not null"`
	User        string  `gorm:"not null;check:user <> ''"`
	Credentials *string `gorm:"type:text"` // Encrypted JSON blob containing private key and/or password
}

func (ServerModel) TableName() string {
	return "servers"
}

type DeploymentRecordModel struct {
	BaseModel
	ProjectID     uuid.UUID `gorm:"not null;index"`
	ProjectName   string    `gorm:"not null;check:project_name <> ''"`
	Status        string    `gorm:"not null;check:status <> ''"` // pending, running, success, failed, cancelled
	Policy        string    `gorm:"not null;check:policy <> ''"` // best_effort, fail_fast
	TargetResults string    `gorm:"type:text"`                   // JSON map of target name to result
	LogTail       string `gorm:"type:text"` // trailing portion of the combined log stream
	StartedAt     *time.Time
	CompletedAt   *time.Time

	Project ProjectModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (DeploymentRecordModel) TableName() string {
	return "deployment_records"
}
