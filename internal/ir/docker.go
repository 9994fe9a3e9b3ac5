package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Spec is the typed, validated form of a declared resource's properties.
type Spec interface {
	Kind() Kind
	// Attributes returns the desired attributes in canonical form, with
	// references kept as ptr:// strings.
	Attributes() map[string]any
	// References returns every reference among the attributes, in declaration order.
	References() []Reference
}

// NetworkSpec declares a Docker network.
type NetworkSpec struct {
	Name string `json:"name"`
}

func (s *NetworkSpec) Kind() Kind { return KindNetwork }

func (s *NetworkSpec) Attributes() map[string]any {
	return map[string]any{"name": s.Name}
}

func (s *NetworkSpec) References() []Reference { return nil }

// ImageSpec declares a pulled Docker image.
type ImageSpec struct {
	// Name is the image reference including tag, e.g. nginx:latest.
	Name string `json:"name"`
	// KeepLocally leaves the image on the daemon when the resource is destroyed.
	KeepLocally bool `json:"keep_locally"`
}

func (s *ImageSpec) Kind() Kind { return KindImage }

func (s *ImageSpec) Attributes() map[string]any {
	return map[string]any{"name": s.Name, "keep_locally": s.KeepLocally}
}

func (s *ImageSpec) References() []Reference { return nil }

// Port maps a container port to a host port.
type Port struct {
	Internal int `json:"internal"`
	External int `json:"external"`
}

// ContainerSpec declares a running container.
type ContainerSpec struct {
	Name     string
	Image    Reference
	Networks []Reference
	Ports    []Port
}

func (s *ContainerSpec) Kind() Kind { return KindContainer }

func (s *ContainerSpec) Attributes() map[string]any {
	networks := make([]any, 0, len(s.Networks))
	for _, n := range s.Networks {
		networks = append(networks, n.String())
	}
	ports := make([]any, 0, len(s.Ports))
	for _, p := range s.Ports {
		ports = append(ports, map[string]any{"internal": p.Internal, "external": p.External})
	}
	return map[string]any{
		"name":     s.Name,
		"image":    s.Image.String(),
		"networks": networks,
		"ports":    ports,
	}
}

func (s *ContainerSpec) References() []Reference {
	refs := make([]Reference, 0, len(s.Networks)+1)
	refs = append(refs, s.Image)
	refs = append(refs, s.Networks...)
	return refs
}

// containerProperties is the wire shape of container properties before the
// references are parsed.
type containerProperties struct {
	Name     string   `json:"name"`
	Image    string   `json:"image"`
	Networks []string `json:"networks"`
	Ports    []Port   `json:"ports"`
}

// ResolvedContainer is a container spec after references were replaced with
// upstream outputs.
type ResolvedContainer struct {
	Name     string   `json:"name"`
	ImageID  string   `json:"image"`
	Networks []string `json:"networks"`
	Ports    []Port   `json:"ports"`
}

// outputAttributes lists the attributes a reference may read per kind.
var outputAttributes = map[Kind]map[string]bool{
	KindNetwork:   {"id": true, "name": true},
	KindImage:     {"id": true, "image_id": true, "digest": true, "name": true},
	KindContainer: {"id": true, "name": true},
}

// IsOutputAttribute reports whether attr can be referenced on kind.
func IsOutputAttribute(kind Kind, attr string) bool {
	return outputAttributes[kind][attr]
}

// DecodeInto converts a dynamic property tree into a typed struct. Unknown
// fields are rejected.
func DecodeInto(props any, out any) error {
	data, err := json.Marshal(NormalizeValue(props))
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// NormalizeValue converts map[any]any trees (as produced by some decoders)
// into map[string]any trees.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = NormalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = NormalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = NormalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
