// Package compose controls the container stack through the compose CLI.
package compose

import (
	"context"
	"os/exec"

	"github.com/ghodss/yaml"

	"github.com/sidkik/devsync/pkg/command"
	"github.com/sidkik/devsync/pkg/errors"
)

// UpOptions configures `Up`.
type UpOptions struct {
	// ForceRecreate recreates containers even if their configuration hasn't
	// changed.
	ForceRecreate bool
}

// DownOptions configures `Down`.
type DownOptions struct {
	// Volumes also removes the volumes declared by the stack.
	Volumes bool
}

// Stack runs compose commands over a fixed set of compose files.
type Stack struct {
	binary string
	files  []string
	dir    string

	// Mocked out for unit testing.
	newCommand command.Factory
}

// New creates a Stack. Commands are run from `dir`.
func New(binary string, files []string, dir string) Stack {
	return Stack{
		binary:     binary,
		files:      files,
		dir:        dir,
		newCommand: command.Default,
	}
}

// Up creates and starts the stack in the background.
func (s Stack) Up(ctx context.Context, opts UpOptions) command.Result {
	args := []string{"up", "-d"}
	if opts.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	return s.run(ctx, args...)
}

// Down stops and removes the stack's containers and networks.
func (s Stack) Down(ctx context.Context, opts DownOptions) command.Result {
	args := []string{"down", "--remove-orphans"}
	if opts.Volumes {
		args = append(args, "-v")
	}
	return s.run(ctx, args...)
}

// Stop stops the stack's containers without removing them.
func (s Stack) Stop(ctx context.Context) command.Result {
	return s.run(ctx, "stop")
}

// Restart restarts the stack's containers.
func (s Stack) Restart(ctx context.Context) command.Result {
	return s.run(ctx, "restart")
}

// Config returns the merged configuration of the compose files. Only stdout
// is parsed, so warnings such as obsolete-field notices don't break it.
func (s Stack) Config(ctx context.Context) (Project, command.Result) {
	stdout, res := command.Output(s.buildCommand(ctx, "config"))
	if !res.Succeeded {
		return Project{}, res
	}

	project, err := ParseConfig([]byte(stdout))
	if err != nil {
		return Project{}, command.Failed(err.Error())
	}
	return project, res
}

func (s Stack) run(ctx context.Context, args ...string) command.Result {
	return command.Capture(s.buildCommand(ctx, args...))
}

func (s Stack) buildCommand(ctx context.Context, args ...string) *exec.Cmd {
	var fullArgs []string
	for _, f := range s.files {
		fullArgs = append(fullArgs, "-f", f)
	}
	fullArgs = append(fullArgs, args...)

	cmd := s.newCommand(ctx, s.binary, fullArgs...)
	cmd.Dir = s.dir
	return cmd
}

// Project is the subset of the merged compose configuration that devsync
// uses.
type Project struct {
	Name     string             `json:"name,omitempty"`
	Services map[string]Service `json:"services"`
}

// Service is a service in the merged compose configuration.
type Service struct {
	ContainerName string `json:"container_name,omitempty"`
	Image         string `json:"image,omitempty"`
}

// ParseConfig parses the output of `compose config`.
func ParseConfig(raw []byte) (Project, error) {
	var project Project
	if err := yaml.Unmarshal(raw, &project); err != nil {
		return Project{}, errors.WithContext(err, "parse compose config")
	}
	return project, nil
}
