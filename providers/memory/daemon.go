// Package memory implements provider.Daemon in process. It enforces the same
// rejections a real daemon would and records every call, which makes it the
// test double for the engine and the backing daemon for dry runs.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/provider"
)

// Operation names, as recorded in the call log and matched by FailOn.
const (
	OpCreateNetwork   = "CreateNetwork"
	OpRemoveNetwork   = "RemoveNetwork"
	OpPullImage       = "PullImage"
	OpRemoveImage     = "RemoveImage"
	OpCreateContainer = "CreateContainer"
	OpRemoveContainer = "RemoveContainer"
)

// AnyTarget matches every target in FailOn.
const AnyTarget = "*"

// Call is one recorded daemon call.
type Call struct {
	Op     string
	Target string
}

func (c Call) String() string {
	return c.Op + " " + c.Target
}

type network struct {
	id   string
	name string
}

type container struct {
	id       string
	name     string
	imageID  string
	networks mapset.Set[string]
	ports    mapset.Set[int]
}

type failure struct {
	err       error
	remaining int // < 0 means forever
}

type Daemon struct {
	mu         sync.Mutex
	seq        int
	networks   map[string]*network   // by id
	images     map[string]string     // image id -> ref
	containers map[string]*container // by id
	failures   map[Call]*failure
	delays     map[Call]time.Duration
	calls      []Call
}

func New() *Daemon {
	return &Daemon{
		networks:   make(map[string]*network),
		images:     make(map[string]string),
		containers: make(map[string]*container),
		failures:   make(map[Call]*failure),
		delays:     make(map[Call]time.Duration),
	}
}

var _ provider.Daemon = (*Daemon)(nil)

// FailOn makes every call of op on target fail with err. Wrap err with
// provider.Transport or provider.Semantic to control retries.
func (d *Daemon) FailOn(op, target string, err error) {
	d.FailTimes(op, target, err, -1)
}

// FailTimes makes the next n calls of op on target fail with err.
func (d *Daemon) FailTimes(op, target string, err error, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[Call{Op: op, Target: target}] = &failure{err: err, remaining: n}
}

// DelayOn makes every call of op on target take dur before it runs. A call
// whose context ends first fails as a transport error. Other calls are not
// held up while one waits.
func (d *Daemon) DelayOn(op, target string, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays[Call{Op: op, Target: target}] = dur
}

// ClearFailures removes every injected failure and delay.
func (d *Daemon) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = make(map[Call]*failure)
	d.delays = make(map[Call]time.Duration)
}

// Restore recreates the objects recorded in resources under their recorded
// ids, so a dry run starts from what state says exists. Restored objects are
// not in the call log.
func (d *Daemon) Restore(resources []*ir.ResourceState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rs := range resources {
		switch rs.Kind {
		case ir.KindNetwork:
			id := rs.OutputString("id")
			d.networks[id] = &network{id: id, name: rs.OutputString("name")}
		case ir.KindImage:
			d.images[rs.OutputString("image_id")] = rs.OutputString("name")
		case ir.KindContainer:
			var c ir.ResolvedContainer
			if err := ir.DecodeInto(rs.Inputs, &c); err != nil {
				return fmt.Errorf("failed to restore %s: %w", rs.Address(), err)
			}
			ports := mapset.NewThreadUnsafeSet[int]()
			for _, p := range c.Ports {
				ports.Add(p.External)
			}
			id := rs.OutputString("id")
			d.containers[id] = &container{
				id:       id,
				name:     c.Name,
				imageID:  c.ImageID,
				networks: mapset.NewThreadUnsafeSet(c.Networks...),
				ports:    ports,
			}
		}
	}
	return nil
}

// Calls returns a copy of the call log.
func (d *Daemon) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// ResetCalls empties the call log.
func (d *Daemon) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Networks returns the names of existing networks, sorted.
func (d *Daemon) Networks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for _, n := range d.networks {
		names = append(names, n.name)
	}
	sort.Strings(names)
	return names
}

// Images returns the refs of pulled images, sorted.
func (d *Daemon) Images() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var refs []string
	for _, ref := range d.images {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Containers returns the names of existing containers, sorted.
func (d *Daemon) Containers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for _, c := range d.containers {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// ImageID returns the id a pull of ref yields. Ids are stable per ref.
func ImageID(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func digestOf(ref string) string {
	sum := sha256.Sum256([]byte("manifest:" + ref))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// begin records the call and returns an injected or context failure.
// Callers hold d.mu.
func (d *Daemon) begin(ctx context.Context, op, target string) error {
	d.calls = append(d.calls, Call{Op: op, Target: target})
	if err := ctx.Err(); err != nil {
		return provider.Transport(op, target, err)
	}
	for _, key := range []Call{{Op: op, Target: target}, {Op: op, Target: AnyTarget}} {
		f, ok := d.failures[key]
		if !ok {
			continue
		}
		if f.remaining == 0 {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		var de *provider.DaemonError
		if errors.As(f.err, &de) {
			return f.err
		}
		return &provider.DaemonError{Op: op, Target: target, Err: f.err}
	}
	return nil
}

// wait sleeps through an injected delay. Callers must not hold d.mu.
func (d *Daemon) wait(ctx context.Context, op, target string) error {
	d.mu.Lock()
	dur, ok := d.delays[Call{Op: op, Target: target}]
	if !ok {
		dur, ok = d.delays[Call{Op: op, Target: AnyTarget}]
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		d.calls = append(d.calls, Call{Op: op, Target: target})
		d.mu.Unlock()
		return provider.Transport(op, target, ctx.Err())
	}
}

// nextID returns an id unused by any object, restored ones included.
func (d *Daemon) nextID(prefix string) string {
	for {
		d.seq++
		id := fmt.Sprintf("%s-%04d", prefix, d.seq)
		_, n := d.networks[id]
		_, c := d.containers[id]
		if !n && !c {
			return id
		}
	}
}

func (d *Daemon) CreateNetwork(ctx context.Context, name string) (string, error) {
	if err := d.wait(ctx, OpCreateNetwork, name); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpCreateNetwork, name); err != nil {
		return "", err
	}
	for _, n := range d.networks {
		if n.name == name {
			return "", provider.Semantic(OpCreateNetwork, name, fmt.Errorf("network with name %s already exists", name))
		}
	}
	n := &network{id: d.nextID("net"), name: name}
	d.networks[n.id] = n
	return n.id, nil
}

func (d *Daemon) RemoveNetwork(ctx context.Context, id string) error {
	if err := d.wait(ctx, OpRemoveNetwork, id); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpRemoveNetwork, id); err != nil {
		return err
	}
	n, ok := d.networks[id]
	if !ok {
		return nil
	}
	for _, c := range d.containers {
		if c.networks.Contains(n.name) {
			return provider.Semantic(OpRemoveNetwork, id, fmt.Errorf("network %s has active endpoints (%s)", n.name, c.name))
		}
	}
	delete(d.networks, id)
	return nil
}

func (d *Daemon) PullImage(ctx context.Context, ref string) (*provider.PulledImage, error) {
	if err := d.wait(ctx, OpPullImage, ref); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpPullImage, ref); err != nil {
		return nil, err
	}
	id := ImageID(ref)
	d.images[id] = ref
	return &provider.PulledImage{ID: id, Digest: digestOf(ref)}, nil
}

func (d *Daemon) RemoveImage(ctx context.Context, imageID string) error {
	if err := d.wait(ctx, OpRemoveImage, imageID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpRemoveImage, imageID); err != nil {
		return err
	}
	if _, ok := d.images[imageID]; !ok {
		return nil
	}
	for _, c := range d.containers {
		if c.imageID == imageID {
			return provider.Semantic(OpRemoveImage, imageID, fmt.Errorf("image is being used by container %s", c.name))
		}
	}
	delete(d.images, imageID)
	return nil
}

func (d *Daemon) CreateContainer(ctx context.Context, req *provider.ContainerRequest) (string, error) {
	if err := d.wait(ctx, OpCreateContainer, req.Name); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpCreateContainer, req.Name); err != nil {
		return "", err
	}
	reject := func(format string, args ...any) error {
		return provider.Semantic(OpCreateContainer, req.Name, fmt.Errorf(format, args...))
	}

	if _, ok := d.images[req.ImageID]; !ok {
		return "", reject("no such image: %s", req.ImageID)
	}

	existing := mapset.NewThreadUnsafeSet[string]()
	for _, n := range d.networks {
		existing.Add(n.name)
	}
	nets := mapset.NewThreadUnsafeSet(req.Networks...)
	if missing := nets.Difference(existing); missing.Cardinality() > 0 {
		return "", reject("network %s not found", missing.ToSlice()[0])
	}

	ports := mapset.NewThreadUnsafeSet[int]()
	for _, p := range req.Ports {
		ports.Add(p.External)
	}
	for _, c := range d.containers {
		if c.name == req.Name {
			return "", reject("container name %q is already in use by %s", req.Name, c.id)
		}
		if taken := ports.Intersect(c.ports); taken.Cardinality() > 0 {
			return "", reject("port %d is already allocated", taken.ToSlice()[0])
		}
	}

	c := &container{
		id:       d.nextID("ctr"),
		name:     req.Name,
		imageID:  req.ImageID,
		networks: nets,
		ports:    ports,
	}
	d.containers[c.id] = c
	return c.id, nil
}

func (d *Daemon) RemoveContainer(ctx context.Context, id string) error {
	if err := d.wait(ctx, OpRemoveContainer, id); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpRemoveContainer, id); err != nil {
		return err
	}
	delete(d.containers, id)
	return nil
}
