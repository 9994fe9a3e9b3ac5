package ir

// State represents the persistent state.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
}

// ResourceState is the last-known observed state of one resource.
type ResourceState struct {
	Kind         Kind           `json:"kind"`
	Name         string         `json:"name"`
	Inputs       map[string]any `json:"inputs"`  // resolved attributes that were applied
	Outputs      map[string]any `json:"outputs"` // daemon returned
	Dependencies []string       `json:"dependencies,omitempty"`
	Tainted      bool           `json:"tainted,omitempty"`
}

// Address returns the resource address.
func (r *ResourceState) Address() Address {
	return Address{Kind: r.Kind, Name: r.Name}
}

// OutputString returns an output attribute as a string, or "" when absent.
func (r *ResourceState) OutputString(key string) string {
	if r == nil || r.Outputs == nil {
		return ""
	}
	s, _ := r.Outputs[key].(string)
	return s
}

// NewState returns an empty state at the current format version.
func NewState() *State {
	return &State{Version: 1}
}
