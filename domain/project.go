package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Project is an operator-defined build+deploy pipeline definition. The engine
// receives an immutable snapshot of it at deployment start; later edits to the
// stored project never affect an in-flight deployment.
type Project struct {
	ID            uuid.UUID
	Name          string
	GitURL        string // optional; when set, the workspace is synced before the build phase
	GitBranch     string
	WorkingDir    string
	BuildCommand  string
	DeployCommand string
	Targets       []ServerTarget // fan-out order; execution is concurrent
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewProject(name, buildCommand, deployCommand string, targets []ServerTarget) Project {
	return Project{
		ID:            uuid.New(),
		Name:          name,
		BuildCommand:  buildCommand,
		DeployCommand: deployCommand,
		Targets:       targets,
	}
}

// Validate rejects project definitions the engine cannot run. These are input
// errors surfaced synchronously, before any deployment is created.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("project name is required")
	}
	if strings.TrimSpace(p.BuildCommand) == "" {
		return fmt.Errorf("project %s: build command is required", p.Name)
	}
	if strings.TrimSpace(p.DeployCommand) == "" {
		return fmt.Errorf("project %s: deploy command is required", p.Name)
	}
	if len(p.Targets) == 0 {
		return fmt.Errorf("project %s: at least one target server is required", p.Name)
	}
	seen := make(map[string]struct{}, len(p.Targets))
	for _, t := range p.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("project %s: target server name is required", p.Name)
		}
		if t.Name == SourceBuild || t.Name == SourceDeployment {
			return fmt.Errorf("project %s: target name %q is reserved", p.Name, t.Name)
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("project %s: duplicate target server %q", p.Name, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

// Snapshot returns a deep copy safe to hand to an orchestrator.
func (p *Project) Snapshot() Project {
	cp := *p
	cp.Targets = make([]ServerTarget, len(p.Targets))
	copy(cp.Targets, p.Targets)
	return cp
}

// ServerTarget holds resolved connection parameters for one server. Beyond the
// Name, which keys per-target results and log sources, the engine treats it as
// an opaque capability to open an execution channel.
type ServerTarget struct {
	ID         uuid.UUID
	Name       string
	Host       string
	Port       int
	User       string
	PrivateKey string // PEM; encrypted at rest, decrypted by the repository layer
	Password   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewServerTarget(name, host string, port int, user string) ServerTarget {
	if port == 0 {
		port = 22
	}
	return ServerTarget{
		ID:   uuid.New(),
		Name: name,
		Host: host,
		Port: port,
		User: user,
	}
}

// Address returns the host:port dial address.
func (t *ServerTarget) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}
