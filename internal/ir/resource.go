package ir

import (
	"fmt"
	"strings"
)

// Kind identifies the resource kinds the reconciler manages.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindImage     Kind = "image"
	KindContainer Kind = "container"
)

// Kinds lists the supported kinds in a stable order.
var Kinds = []Kind{KindNetwork, KindImage, KindContainer}

// ParseKind maps a declared type to a Kind. The Terraform docker provider
// spellings are accepted as aliases.
func ParseKind(t string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "network", "docker_network":
		return KindNetwork, true
	case "image", "docker_image":
		return KindImage, true
	case "container", "docker_container":
		return KindContainer, true
	}
	return "", false
}

// Address uniquely identifies a resource as kind.name.
type Address struct {
	Kind Kind
	Name string
}

func (a Address) String() string {
	return fmt.Sprintf("%s.%s", a.Kind, a.Name)
}

// ParseAddress parses a kind.name address.
func ParseAddress(s string) (Address, error) {
	kind, name, ok := strings.Cut(s, ".")
	if !ok || name == "" {
		return Address{}, fmt.Errorf("invalid address %q: expected kind.name", s)
	}
	k, ok := ParseKind(kind)
	if !ok {
		return Address{}, fmt.Errorf("invalid address %q: unknown kind %q", s, kind)
	}
	return Address{Kind: k, Name: name}, nil
}

// Resource represents a single declared resource.
type Resource struct {
	Type       string         `pkl:"type" yaml:"type" json:"type"` // e.g., "container"
	Name       string         `pkl:"name" yaml:"name" json:"name"`
	DependsOn  []string       `pkl:"dependsOn" yaml:"depends_on" json:"depends_on,omitempty"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle" yaml:"lifecycle" json:"lifecycle,omitempty"`
	Timeout    string         `pkl:"timeout" yaml:"timeout" json:"timeout,omitempty"`
	Properties map[string]any `pkl:"properties" yaml:"properties" json:"properties"` // Dynamic properties
}

type Lifecycle struct {
	PreventDestroy bool     `pkl:"preventDestroy" yaml:"prevent_destroy" json:"prevent_destroy,omitempty"`
	IgnoreChanges  []string `pkl:"ignoreChanges" yaml:"ignore_changes" json:"ignore_changes,omitempty"`
}
