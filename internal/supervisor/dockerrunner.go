package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentgate/agentgate/internal/agent/docker"
	"github.com/agentgate/agentgate/internal/common/config"
	"github.com/agentgate/agentgate/internal/common/logger"
)

// DockerRunner runs the Agent CLI inside a container instead of as a host
// subprocess, for deployments where AgentCLIConfig.Sandbox == "docker". It
// creates one container per turn, attaches its stdio, waits for exit, and
// removes it.
type DockerRunner struct {
	client *docker.Client
	cfg    config.DockerConfig
	logger *logger.Logger
}

// NewDockerRunner constructs a DockerRunner against an already-connected
// Docker client.
func NewDockerRunner(client *docker.Client, cfg config.DockerConfig, log *logger.Logger) *DockerRunner {
	return &DockerRunner{client: client, cfg: cfg, logger: log}
}

func (r *DockerRunner) Start(ctx context.Context, req Request) (RunningProcess, error) {
	mounts := []docker.MountConfig{
		{Source: expandMountTemplate(req.WorkingDir, req.WorkingDir), Target: "/workspace", ReadOnly: false},
	}

	containerName := fmt.Sprintf("agentgate-turn-%s", shortID(req.SessionID))

	cfg := docker.ContainerConfig{
		Name:       containerName,
		Image:      r.cfg.Image,
		Cmd:        req.Argv,
		WorkingDir: "/workspace",
		Mounts:     mounts,
		Labels: map[string]string{
			"agentgate.managed":    "true",
			"agentgate.session_id": req.SessionID,
		},
		AutoRemove: false,
	}

	containerID, err := r.client.CreateContainerInteractive(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	attach, err := r.client.AttachContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("attach container: %w", err)
	}

	if err := r.client.StartContainer(ctx, containerID); err != nil {
		attach.Close()
		return nil, fmt.Errorf("start container: %w", err)
	}

	p := &dockerProcess{
		client:      r.client,
		containerID: containerID,
		stdout:      make(chan []byte, 64),
		stderr:      make(chan []byte, 64),
		exited:      make(chan struct{}),
	}

	if req.Prompt != "" {
		go func() {
			defer attach.Stdin.Close()
			io.WriteString(attach.Stdin, req.Prompt)
		}()
	} else {
		attach.Stdin.Close()
	}

	go pump(attach.Stdout, p.stdout)

	go func() {
		exitCode, waitErr := r.client.WaitContainer(context.Background(), containerID)
		p.waitErr = waitErr
		p.exitCode = int(exitCode)
		close(p.stdout)
		close(p.stderr)
		attach.Close()
		close(p.exited)
	}()

	return p, nil
}

// expandMountTemplate resolves the one template variable a per-turn
// invocation needs: the session's working directory itself. Credential and
// task-scoped template variables from the multi-task lifecycle manager
// (`{task_id}`, `{augment_sessions}`) have no per-turn analogue here.
func expandMountTemplate(source, workingDir string) string {
	return strings.ReplaceAll(source, "{workspace}", workingDir)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type dockerProcess struct {
	client      *docker.Client
	containerID string
	stdout      chan []byte
	stderr      chan []byte
	exited      chan struct{}
	waitErr     error
	exitCode    int
}

func (p *dockerProcess) PID() int               { return 0 }
func (p *dockerProcess) Stdout() <-chan []byte   { return p.stdout }
func (p *dockerProcess) Stderr() <-chan []byte   { return p.stderr }
func (p *dockerProcess) Exited() <-chan struct{} { return p.exited }
func (p *dockerProcess) ExitCode() int           { return p.exitCode }
func (p *dockerProcess) Err() error              { return p.waitErr }

func (p *dockerProcess) Terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.StopContainer(ctx, p.containerID, 2*time.Second)
}

func (p *dockerProcess) Kill() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.KillContainer(ctx, p.containerID, "SIGKILL")
}
