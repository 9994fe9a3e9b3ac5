package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/picklr-io/dockstate/internal/ir"
)

var (
	// ErrTransport marks failures reaching the daemon: refused connections,
	// timeouts, an unavailable daemon. They are worth retrying.
	ErrTransport = errors.New("daemon transport error")
	// ErrSemantic marks requests the daemon rejected: name conflicts, invalid
	// parameters, missing objects. Retrying does not help.
	ErrSemantic = errors.New("daemon rejected request")
)

// Daemon is the narrow set of operations the reconciler needs from a
// container engine.
type Daemon interface {
	// CreateNetwork creates a network and returns its id.
	CreateNetwork(ctx context.Context, name string) (id string, err error)
	RemoveNetwork(ctx context.Context, id string) error
	// PullImage pulls ref and returns the local image id and the repo digest,
	// which may be empty for images without one.
	PullImage(ctx context.Context, ref string) (*PulledImage, error)
	RemoveImage(ctx context.Context, imageID string) error
	// CreateContainer creates and starts a container and returns its id.
	CreateContainer(ctx context.Context, req *ContainerRequest) (id string, err error)
	RemoveContainer(ctx context.Context, id string) error
}

// PulledImage describes an image after a pull.
type PulledImage struct {
	ID     string
	Digest string
}

// ContainerRequest carries a fully resolved container definition.
type ContainerRequest struct {
	Name string
	// ImageID is the local image id, never a tag.
	ImageID  string
	Networks []string
	Ports    []ir.Port
}

// DaemonError describes a failed daemon operation. Err wraps ErrTransport or
// ErrSemantic alongside the underlying cause.
type DaemonError struct {
	Op     string
	Target string
	Err    error
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *DaemonError) Unwrap() error {
	return e.Err
}

// Transport wraps cause as a transport failure of op on target.
func Transport(op, target string, cause error) error {
	return &DaemonError{Op: op, Target: target, Err: fmt.Errorf("%w: %w", ErrTransport, cause)}
}

// Semantic wraps cause as a rejected request of op on target.
func Semantic(op, target string, cause error) error {
	return &DaemonError{Op: op, Target: target, Err: fmt.Errorf("%w: %w", ErrSemantic, cause)}
}

// IsTransport reports whether err is a retryable daemon failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsSemantic reports whether err is a rejected daemon request.
func IsSemantic(err error) bool {
	return errors.Is(err, ErrSemantic)
}
