package docker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/provider"
)

func TestPortBindings(t *testing.T) {
	exposed, bindings := portBindings([]ir.Port{
		{Internal: 80, External: 8080},
		{Internal: 443, External: 8443},
		{Internal: 80, External: 9090},
	})

	assert.Len(t, exposed, 2)
	assert.Contains(t, exposed, nat.Port("80/tcp"))
	assert.Equal(t, []nat.PortBinding{
		{HostIP: "0.0.0.0", HostPort: "8080"},
		{HostIP: "0.0.0.0", HostPort: "9090"},
	}, bindings[nat.Port("80/tcp")])
	assert.Equal(t, "8443", bindings[nat.Port("443/tcp")][0].HostPort)
}

func TestRepoDigest(t *testing.T) {
	assert.Equal(t, "sha256:abc", repoDigest([]string{"nginx@sha256:abc"}))
	assert.Equal(t, "", repoDigest(nil))
	assert.Equal(t, "", repoDigest([]string{"no-digest"}))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transport bool
		semantic  bool
	}{
		{name: "not found", err: fmt.Errorf("no such image: %w", cerrdefs.ErrNotFound), semantic: true},
		{name: "conflict", err: fmt.Errorf("name in use: %w", cerrdefs.ErrConflict), semantic: true},
		{name: "invalid", err: cerrdefs.ErrInvalidArgument, semantic: true},
		{name: "unavailable", err: cerrdefs.ErrUnavailable, transport: true},
		{name: "deadline", err: fmt.Errorf("pull: %w", context.DeadlineExceeded), transport: true},
		{name: "unknown", err: errors.New("something odd")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("pull image", "nginx:latest", tt.err)

			var de *provider.DaemonError
			assert.True(t, errors.As(err, &de))
			assert.Equal(t, "pull image", de.Op)
			assert.Equal(t, "nginx:latest", de.Target)
			assert.Equal(t, tt.transport, provider.IsTransport(err))
			assert.Equal(t, tt.semantic, provider.IsSemantic(err))
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestNew(t *testing.T) {
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:1")

	d, err := New()
	if err != nil {
		t.Skipf("Skipping Docker client test: %v", err)
	}
	defer d.Close()

	// Nothing listens on port 1, so the call fails as a transport error.
	_, err = d.CreateNetwork(context.Background(), "dockstate-test")
	assert.Error(t, err)
	assert.True(t, provider.IsTransport(err))
}
