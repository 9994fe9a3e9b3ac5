// Package docker implements provider.Daemon on top of the Docker Engine API.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/logging"
	"github.com/picklr-io/dockstate/internal/provider"
)

const (
	managedLabel = "io.dockstate.managed"
	stopTimeout  = 10 // seconds
)

// Daemon talks to the Docker Engine found through the standard DOCKER_*
// environment variables.
type Daemon struct {
	client *client.Client
}

var _ provider.Daemon = (*Daemon)(nil)

// New creates a client. No connection is made until the first call.
func New() (*Daemon, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Daemon{client: cli}, nil
}

// Close releases the client's connections.
func (d *Daemon) Close() error {
	return d.client.Close()
}

func (d *Daemon) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := d.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{managedLabel: "true"},
	})
	if err != nil {
		return "", classify("create network", name, err)
	}
	if resp.Warning != "" {
		logging.Warn("network created with warning", "network", name, "warning", resp.Warning)
	}
	return resp.ID, nil
}

func (d *Daemon) RemoveNetwork(ctx context.Context, id string) error {
	if err := d.client.NetworkRemove(ctx, id); err != nil {
		if cerrdefs.IsNotFound(err) {
			logging.Debug("network already removed", "network", id)
			return nil
		}
		return classify("remove network", id, err)
	}
	return nil
}

func (d *Daemon) PullImage(ctx context.Context, ref string) (*provider.PulledImage, error) {
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return nil, classify("pull image", ref, err)
	}
	defer reader.Close()

	// Pull failures arrive inside the progress stream.
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return nil, classify("pull image", ref, err)
	}

	inspect, _, err := d.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return nil, classify("inspect image", ref, err)
	}
	return &provider.PulledImage{ID: inspect.ID, Digest: repoDigest(inspect.RepoDigests)}, nil
}

func (d *Daemon) RemoveImage(ctx context.Context, imageID string) error {
	if _, err := d.client.ImageRemove(ctx, imageID, image.RemoveOptions{PruneChildren: true}); err != nil {
		if cerrdefs.IsNotFound(err) {
			logging.Debug("image already removed", "image", imageID)
			return nil
		}
		return classify("remove image", imageID, err)
	}
	return nil
}

func (d *Daemon) CreateContainer(ctx context.Context, req *provider.ContainerRequest) (string, error) {
	exposed, bindings := portBindings(req.Ports)

	config := &container.Config{
		Image:        req.ImageID,
		ExposedPorts: exposed,
		Labels:       map[string]string{managedLabel: "true"},
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
	}
	netConfig := &network.NetworkingConfig{}
	if len(req.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(req.Networks[0])
		netConfig.EndpointsConfig = map[string]*network.EndpointSettings{
			req.Networks[0]: {},
		}
	}

	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, netConfig, &v1.Platform{}, req.Name)
	if err != nil {
		return "", classify("create container", req.Name, err)
	}
	for _, w := range resp.Warnings {
		logging.Warn("container created with warning", "container", req.Name, "warning", w)
	}

	for _, name := range req.Networks[min(1, len(req.Networks)):] {
		if err := d.client.NetworkConnect(ctx, name, resp.ID, &network.EndpointSettings{}); err != nil {
			d.discard(resp.ID)
			return "", classify("connect network "+name, req.Name, err)
		}
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.discard(resp.ID)
		return "", classify("start container", req.Name, err)
	}
	return resp.ID, nil
}

// discard removes a container left half-created. The caller's context may
// already be done, so a fresh one is used.
func (d *Daemon) discard(id string) {
	if err := d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
		logging.Warn("failed to remove half-created container", "container", id, "error", err)
	}
}

func (d *Daemon) RemoveContainer(ctx context.Context, id string) error {
	timeout := stopTimeout
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil && !cerrdefs.IsNotFound(err) {
		logging.Debug("container stop failed, forcing removal", "container", id, "error", err)
	}
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if cerrdefs.IsNotFound(err) {
			logging.Debug("container already removed", "container", id)
			return nil
		}
		return classify("remove container", id, err)
	}
	return nil
}

// portBindings publishes each internal TCP port on the given host port.
func portBindings(ports []ir.Port) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p.Internal))
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(p.External),
		})
	}
	return exposed, bindings
}

// repoDigest extracts the manifest digest from the first repo digest
// ("nginx@sha256:..."). Locally built images have none.
func repoDigest(repoDigests []string) string {
	for _, rd := range repoDigests {
		if _, digest, ok := strings.Cut(rd, "@"); ok {
			return digest
		}
	}
	return ""
}

// classify sorts a Docker error into transport or semantic failures.
// Errors of no known class stay unclassified.
func classify(op, target string, err error) error {
	switch {
	case client.IsErrConnectionFailed(err),
		errors.Is(err, context.DeadlineExceeded),
		cerrdefs.IsUnavailable(err),
		cerrdefs.IsDeadlineExceeded(err):
		return provider.Transport(op, target, err)
	case cerrdefs.IsNotFound(err),
		cerrdefs.IsConflict(err),
		cerrdefs.IsAlreadyExists(err),
		cerrdefs.IsInvalidArgument(err),
		cerrdefs.IsFailedPrecondition(err),
		cerrdefs.IsPermissionDenied(err),
		cerrdefs.IsUnauthorized(err):
		return provider.Semantic(op, target, err)
	}
	return &provider.DaemonError{Op: op, Target: target, Err: err}
}
