// Package portresolver finds the host port that the sync container's sync
// service is published on.
package portresolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/devsync/pkg/command"
	"github.com/sidkik/devsync/pkg/compose"
	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/syncengine"
)

const (
	composeServiceLabel = "com.docker.compose.service"
	composeProjectLabel = "com.docker.compose.project"
)

// ConfigSource returns the merged compose configuration.
type ConfigSource interface {
	Config(ctx context.Context) (compose.Project, command.Result)
}

// ContainerAPI is the subset of the Docker Engine API used to inspect
// running containers.
type ContainerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, container string) (types.ContainerJSON, error)
}

// NewDockerClient connects to the Docker daemon configured by the
// environment.
func NewDockerClient() (*client.Client, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.WithContext(err, "create docker client")
	}
	return c, nil
}

// Resolver looks up the published sync port. Every call queries the live
// state, since the port changes whenever the container is recreated.
type Resolver struct {
	config  ConfigSource
	docker  ContainerAPI
	pattern *regexp.Regexp
	port    nat.Port
	host    string
}

// New creates a Resolver. `pattern` identifies the sync service by its
// compose service name or container name, and `port` is the sync port inside
// the container. `docker` may be nil if the daemon is unavailable, in which
// case the port never resolves.
func New(config ConfigSource, docker ContainerAPI, pattern string,
	port int, host string) (Resolver, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Resolver{}, errors.WithContext(err, "compile service pattern")
	}

	p, err := nat.NewPort("tcp", fmt.Sprintf("%d", port))
	if err != nil {
		return Resolver{}, errors.WithContext(err, "parse port")
	}

	return Resolver{
		config:  config,
		docker:  docker,
		pattern: re,
		port:    p,
		host:    host,
	}, nil
}

// Resolve returns the host port bound to the sync port, or an empty string
// if the sync container isn't running or can't be found.
func (r Resolver) Resolve(ctx context.Context) string {
	if r.docker == nil {
		log.Debug("No Docker client. Not resolving the sync port")
		return ""
	}

	project, res := r.config.Config(ctx)
	if !res.Succeeded {
		log.WithField("output", res.Output).Debug("Failed to get compose config")
		return ""
	}

	name, svc, ok := r.findService(project)
	if !ok {
		log.WithField("pattern", r.pattern.String()).Debug(
			"No compose service matches the sync service pattern")
		return ""
	}

	containerID, ok := r.findContainer(ctx, project.Name, name, svc)
	if !ok {
		return ""
	}

	info, err := r.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		entry := log.WithError(err).WithField("container", containerID)
		if client.IsErrNotFound(err) {
			entry.Debug("Sync container doesn't exist")
		} else {
			entry.Debug("Failed to inspect sync container")
		}
		return ""
	}

	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		log.WithField("container", containerID).Debug("Sync container isn't running")
		return ""
	}

	if info.NetworkSettings == nil {
		return ""
	}
	for _, binding := range info.NetworkSettings.Ports[r.port] {
		if binding.HostPort != "" {
			return binding.HostPort
		}
	}

	log.WithField("container", containerID).WithField("port", r.port).Debug(
		"Sync port isn't published")
	return ""
}

// Endpoint builds the sync endpoint for a resolved port. It returns false if
// the port is empty, meaning the sync container is unreachable.
func (r Resolver) Endpoint(port string) (syncengine.Endpoint, bool) {
	if port == "" {
		return syncengine.Endpoint{}, false
	}
	return syncengine.Endpoint{Host: r.host, Port: port}, true
}

func (r Resolver) findService(project compose.Project) (string, compose.Service, bool) {
	// Sort for determinism when multiple services match.
	var names []string
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := project.Services[name]
		if r.pattern.MatchString(name) ||
			(svc.ContainerName != "" && r.pattern.MatchString(svc.ContainerName)) {
			return name, svc, true
		}
	}
	return "", compose.Service{}, false
}

func (r Resolver) findContainer(ctx context.Context, projectName, serviceName string,
	svc compose.Service) (string, bool) {
	if svc.ContainerName != "" {
		return svc.ContainerName, true
	}

	args := filters.NewArgs(filters.Arg("label", composeServiceLabel+"="+serviceName))
	if projectName != "" {
		args.Add("label", composeProjectLabel+"="+projectName)
	}

	containers, err := r.docker.ContainerList(ctx, types.ContainerListOptions{Filters: args})
	if err != nil {
		log.WithError(err).Debug("Failed to list containers")
		return "", false
	}
	if len(containers) == 0 {
		log.WithField("service", serviceName).Debug("No running container for sync service")
		return "", false
	}
	return containers[0].ID, true
}
