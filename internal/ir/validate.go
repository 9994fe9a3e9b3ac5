package ir

import (
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/distribution/reference"
)

// Declaration is a validated desired-state resource.
type Declaration struct {
	Address  Address
	Index    int // position in the declaration set, used for tie breaking
	Resource *Resource
	Spec     Spec
	// DependsOn holds the explicit depends_on addresses.
	DependsOn []Address
	Timeout   time.Duration
}

// Dependencies returns the addresses this declaration must wait for, from
// references and depends_on, without duplicates.
func (d *Declaration) Dependencies() []Address {
	seen := make(map[Address]bool)
	var deps []Address
	add := func(a Address) {
		if !seen[a] {
			seen[a] = true
			deps = append(deps, a)
		}
	}
	for _, ref := range d.Spec.References() {
		add(ref.Target())
	}
	for _, a := range d.DependsOn {
		add(a)
	}
	return deps
}

// IgnoreChanges returns the lifecycle ignore set.
func (d *Declaration) IgnoreChanges() map[string]bool {
	ignore := make(map[string]bool)
	if d.Resource.Lifecycle != nil {
		for _, attr := range d.Resource.Lifecycle.IgnoreChanges {
			ignore[attr] = true
		}
	}
	return ignore
}

// PreventDestroy reports the lifecycle prevent_destroy flag.
func (d *Declaration) PreventDestroy() bool {
	return d.Resource.Lifecycle != nil && d.Resource.Lifecycle.PreventDestroy
}

// Validate decodes and checks every declared resource. All problems are
// returned together, each wrapping ErrInvalidAttribute.
func Validate(cfg *Config) ([]*Declaration, error) {
	var errs []error
	var decls []*Declaration
	byAddr := make(map[Address]*Declaration)

	for i, res := range cfg.Resources {
		if res == nil {
			continue
		}
		kind, ok := ParseKind(res.Type)
		if !ok {
			errs = append(errs, invalid(fmt.Sprintf("%s.%s", res.Type, res.Name), "type", "unknown resource type %q", res.Type))
			continue
		}
		addr := Address{Kind: kind, Name: res.Name}
		if res.Name == "" {
			errs = append(errs, invalid(addr.String(), "", "resource local name must not be empty"))
			continue
		}
		if _, dup := byAddr[addr]; dup {
			errs = append(errs, invalid(addr.String(), "", "duplicate resource declaration"))
			continue
		}

		spec, err := decodeSpec(addr, res.Properties)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		decl := &Declaration{Address: addr, Index: i, Resource: res, Spec: spec}
		if res.Timeout != "" {
			d, err := time.ParseDuration(res.Timeout)
			if err != nil || d <= 0 {
				errs = append(errs, invalid(addr.String(), "timeout", "invalid duration %q", res.Timeout))
			}
			decl.Timeout = d
		}
		for _, dep := range res.DependsOn {
			depAddr, err := ParseAddress(dep)
			if err != nil {
				errs = append(errs, invalid(addr.String(), "depends_on", "%v", err))
				continue
			}
			decl.DependsOn = append(decl.DependsOn, depAddr)
		}

		byAddr[addr] = decl
		decls = append(decls, decl)
	}

	// Reference targets are checked once every declaration is known.
	for _, decl := range decls {
		for _, ref := range decl.Spec.References() {
			if _, ok := byAddr[ref.Target()]; !ok {
				errs = append(errs, invalid(decl.Address.String(), "", "reference %s targets undeclared resource %s", ref, ref.Target()))
			}
		}
		for _, dep := range decl.DependsOn {
			if _, ok := byAddr[dep]; !ok {
				errs = append(errs, invalid(decl.Address.String(), "depends_on", "undeclared resource %s", dep))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return decls, nil
}

func decodeSpec(addr Address, props map[string]any) (Spec, error) {
	a := addr.String()
	switch addr.Kind {
	case KindNetwork:
		var spec NetworkSpec
		if err := DecodeInto(props, &spec); err != nil {
			return nil, invalid(a, "", "cannot decode properties: %v", err)
		}
		if spec.Name == "" {
			return nil, invalid(a, "name", "must not be empty")
		}
		return &spec, nil

	case KindImage:
		var spec ImageSpec
		if err := DecodeInto(props, &spec); err != nil {
			return nil, invalid(a, "", "cannot decode properties: %v", err)
		}
		if spec.Name == "" {
			return nil, invalid(a, "name", "must not be empty")
		}
		if _, err := reference.ParseNormalizedNamed(spec.Name); err != nil {
			return nil, invalid(a, "name", "invalid image reference %q: %v", spec.Name, err)
		}
		return &spec, nil

	case KindContainer:
		var raw containerProperties
		if err := DecodeInto(props, &raw); err != nil {
			return nil, invalid(a, "", "cannot decode properties: %v", err)
		}
		return decodeContainer(a, &raw)
	}
	return nil, invalid(a, "type", "unsupported kind %q", addr.Kind)
}

func decodeContainer(a string, raw *containerProperties) (Spec, error) {
	var errs []error
	spec := &ContainerSpec{Name: raw.Name, Ports: raw.Ports}

	if raw.Name == "" {
		errs = append(errs, invalid(a, "name", "must not be empty"))
	}

	if raw.Image == "" {
		errs = append(errs, invalid(a, "image", "must reference an image"))
	} else if ref, err := ParseReference(raw.Image); err != nil {
		errs = append(errs, invalid(a, "image", "%v", err))
	} else if err := checkOutput(a, "image", ref); err != nil {
		errs = append(errs, err)
	} else if ref.Kind != KindImage || ref.Attribute != "image_id" {
		errs = append(errs, invalid(a, "image", "must reference an image's image_id, got %s", ref))
	} else {
		spec.Image = ref
	}

	seen := mapset.NewThreadUnsafeSet[Address]()
	for _, n := range raw.Networks {
		ref, err := ParseReference(n)
		if err != nil {
			errs = append(errs, invalid(a, "networks", "%v", err))
			continue
		}
		if err := checkOutput(a, "networks", ref); err != nil {
			errs = append(errs, err)
			continue
		}
		if ref.Kind != KindNetwork || ref.Attribute != "name" {
			errs = append(errs, invalid(a, "networks", "must reference a network's name, got %s", ref))
			continue
		}
		if !seen.Add(ref.Target()) {
			errs = append(errs, invalid(a, "networks", "network %s referenced more than once", ref.Target()))
			continue
		}
		spec.Networks = append(spec.Networks, ref)
	}

	external := mapset.NewThreadUnsafeSet[int]()
	for i, p := range raw.Ports {
		if !validPort(p.Internal) {
			errs = append(errs, invalid(a, fmt.Sprintf("ports[%d].internal", i), "port %d out of range 1-65535", p.Internal))
		}
		if !validPort(p.External) {
			errs = append(errs, invalid(a, fmt.Sprintf("ports[%d].external", i), "port %d out of range 1-65535", p.External))
		} else if !external.Add(p.External) {
			errs = append(errs, invalid(a, fmt.Sprintf("ports[%d].external", i), "host port %d mapped more than once", p.External))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return spec, nil
}

// checkOutput rejects a reference to an attribute its target never outputs.
func checkOutput(a, field string, ref Reference) error {
	if !IsOutputAttribute(ref.Kind, ref.Attribute) {
		return invalid(a, field, "%s has no output attribute %q", ref.Target(), ref.Attribute)
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
