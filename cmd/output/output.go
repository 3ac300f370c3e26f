// Package output provides functions to print messages with optional color
// formatting.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/domain"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled) and returns it
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}
	return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
}

func fprint(cmd *cobra.Command, kind color.Attribute, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(kind, tmpl, a...))
	return err
}

func FprintPlain(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Plain, tmpl, a...)
}

func FprintSuccess(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Success, tmpl, a...)
}

func FprintWarning(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Warning, tmpl, a...)
}

func FprintError(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Error, tmpl, a...)
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

func PrintProjectDetails(project *domain.Project) (string, error) {
	targets := make([]string, len(project.Targets))
	for i, target := range project.Targets {
		targets[i] = target.Name
	}

	data := [][]string{
		{"ID", project.ID.String()},
		{"Name", project.Name},
		{"Git URL", project.GitURL},
		{"Git Branch", project.GitBranch},
		{"Working Directory", project.WorkingDir},
		{"Build Command", project.BuildCommand},
		{"Deploy Command", project.DeployCommand},
		{"Targets", strings.Join(targets, "\n")},
		{"Created At", project.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Updated At", project.UpdatedAt.Format("2006-01-02 15:04:05")},
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing project details table: %w", err)
	}
	return table, nil
}

func PrintProjectList(projects []*domain.Project) (string, error) {
	if len(projects) == 0 {
		return PrintMessage(Plain, "No projects found."), nil
	}

	header := []string{"ID", "Name", "Targets", "Created At"}
	var data [][]string
	for _, project := range projects {
		names := make([]string, len(project.Targets))
		for i, target := range project.Targets {
			names[i] = target.Name
		}
		data = append(data, []string{
			project.ID.String(),
			project.Name,
			strings.Join(names, ", "),
			project.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing project list table: %w", err)
	}
	return table, nil
}

func PrintServerList(servers []*domain.ServerTarget) (string, error) {
	if len(servers) == 0 {
		return PrintMessage(Plain, "No servers found."), nil
	}

	header := []string{"ID", "Name", "Address", "User", "Created At"}
	var data [][]string
	for _, server := range servers {
		data = append(data, []string{
			server.ID.String(),
			server.Name,
			server.Address(),
			server.User,
			server.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing server list table: %w", err)
	}
	return table, nil
}

func PrintDeploymentRecordList(records []*domain.DeploymentRecord) (string, error) {
	if len(records) == 0 {
		return PrintMessage(Plain, "No deployments found."), nil
	}

	header := []string{"ID", "Project", "Status", "Policy", "Started At", "Duration"}
	var data [][]string
	for _, record := range records {
		data = append(data, []string{
			record.ID.String(),
			record.ProjectName,
			record.Status.String(),
			record.Policy.String(),
			formatTime(record.StartedAt),
			formatRunDuration(record.StartedAt, record.CompletedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment list table: %w", err)
	}
	return table, nil
}

// StatusColor maps a deployment status to the color its messages print in.
func StatusColor(status domain.DeploymentStatus) color.Attribute {
	switch status {
	case domain.DeploymentStatusSuccess:
		return Success
	case domain.DeploymentStatusFailed:
		return Error
	case domain.DeploymentStatusCancelled:
		return Warning
	default:
		return Plain
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatRunDuration(started, completed *time.Time) string {
	if started == nil || completed == nil {
		return "-"
	}
	return completed.Sub(*started).Round(time.Second).String()
}

// CLI flag for disabling color output

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

type noColorFlag struct {
	set bool
}

func (f *noColorFlag) Set(value string) error {
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return ""
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}
