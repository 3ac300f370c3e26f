// Package deploy implements the command that starts a deployment and follows
// its log stream.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coxswain-cd/coxswain/app"
	"github.com/coxswain-cd/coxswain/client"
	"github.com/coxswain-cd/coxswain/cmd/output"
	"github.com/coxswain-cd/coxswain/cmd/utils"
	"github.com/coxswain-cd/coxswain/domain"
)

func NewCmdDeploy() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <project-id-or-name>",
		Short: "Deploy a project and stream its log",
		Long: `Start a deployment on the Coxswain server and follow the merged log
stream until it finishes. Press Ctrl-C to request cancellation.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runDeploy(cmd, args[0]); err != nil {
				utils.HandleCommandError("deploying project", err, "project", args[0])
			}
		},
	}

	cmd.Flags().StringP("policy", "p", "", "Failure policy: best_effort (default) or fail_fast")
	cmd.Flags().StringP("server", "s", "", "Coxswain server URL")
	cmd.Flags().Bool("detach", false, "Start the deployment without following its log")
	return cmd
}

func runDeploy(cmd *cobra.Command, ref string) error {
	cfg := app.GetConfig()

	serverURL, _ := cmd.Flags().GetString("server")
	if serverURL == "" {
		serverURL = "http://" + cfg.ListenAddr()
	}
	policy, _ := cmd.Flags().GetString("policy")
	detach, _ := cmd.Flags().GetBool("detach")

	project, err := resolveProject(ref)
	if err != nil {
		return fmt.Errorf("failed to find project %q: %w", ref, err)
	}

	deploymentID, err := startDeployment(serverURL, project.ID, policy)
	if err != nil {
		return err
	}

	if err := output.FprintPlain(cmd, "Deployment %s started for project '%s'", deploymentID, project.Name); err != nil {
		return err
	}
	if detach {
		return nil
	}

	return followStream(cmd, serverURL, deploymentID)
}

func resolveProject(ref string) (*domain.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return app.GetProjectRepository().FindByID(id)
	}
	return app.GetProjectRepository().FindByName(ref)
}

func startDeployment(serverURL string, projectID uuid.UUID, policy string) (uuid.UUID, error) {
	var body bytes.Buffer
	if policy != "" {
		if err := json.NewEncoder(&body).Encode(map[string]string{"policy": policy}); err != nil {
			return uuid.Nil, err
		}
	}

	resp, err := http.Post(
		fmt.Sprintf("%s/api/projects/%s/deploy", serverURL, projectID),
		"application/json",
		&body,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("is the Coxswain server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(resp.Body)
		return uuid.Nil, fmt.Errorf("server rejected deployment: %s: %s", resp.Status, bytes.TrimSpace(payload))
	}

	var result struct {
		DeploymentID string `json:"deployment_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return uuid.Nil, fmt.Errorf("parsing server response: %w", err)
	}
	return uuid.Parse(result.DeploymentID)
}

func followStream(cmd *cobra.Command, serverURL string, deploymentID uuid.UUID) error {
	cfg := app.GetConfig()

	consumer := client.NewConsumer(serverURL, deploymentID, client.Options{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		BaseDelay:   cfg.ReconnectBaseDelay,
		Multiplier:  cfg.ReconnectMultiplier,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// First Ctrl-C requests cancellation; the stream keeps running so the
	// cancelled entries are still shown.
	interrupted := make(chan struct{})
	go func() {
		<-ctx.Done()
		select {
		case <-interrupted:
		default:
			close(interrupted)
			_ = consumer.Cancel()
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(context.Background()) }()

	var finalStatus domain.DeploymentStatus
	for entry := range consumer.Entries() {
		printEntry(cmd, entry)
		if entry.Source == domain.SourceDeployment && entry.Kind == domain.LogKindStatus {
			if status, err := domain.ParseDeploymentStatus(entry.Text); err == nil {
				finalStatus = status
			}
		}
	}

	if err := <-errCh; err != nil {
		return err
	}
	if finalStatus != domain.DeploymentStatusSuccess {
		os.Exit(1)
	}
	return nil
}

func printEntry(cmd *cobra.Command, entry domain.LogEntry) {
	line := fmt.Sprintf("[%s] %s", entry.Source, entry.Text)
	switch entry.Kind {
	case domain.LogKindError:
		_ = output.FprintError(cmd, "%s", line)
	case domain.LogKindStatus:
		if status, err := domain.ParseDeploymentStatus(entry.Text); err == nil {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), output.PrintMessage(output.StatusColor(status), "%s", line))
			return
		}
		_ = output.FprintPlain(cmd, "%s", line)
	default:
		_ = output.FprintPlain(cmd, "%s", line)
	}
}
