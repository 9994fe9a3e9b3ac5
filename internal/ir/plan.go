package ir

// Action is the per-resource outcome of diffing desired and observed state.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionNoOp    Action = "NOOP"
	ActionDelete  Action = "DELETE"
)

// Destroys reports whether the action removes the existing instance.
func (a Action) Destroys() bool {
	return a == ActionDelete || a == ActionReplace
}

// Creates reports whether the action produces a new instance.
func (a Action) Creates() bool {
	return a == ActionCreate || a == ActionReplace
}

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"` // creation order, deletions last
	// DestroyOrder lists the addresses whose existing instance is removed,
	// dependents first.
	DestroyOrder []string     `json:"destroy_order"`
	Summary      *PlanSummary `json:"summary"`
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
}

type ResourceChange struct {
	Address string                   `json:"address"`
	Kind    Kind                     `json:"kind"`
	Name    string                   `json:"name"`
	Action  Action                   `json:"action"`
	Desired *Declaration             `json:"-"`
	Prior   *ResourceState           `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`
	// Dependencies are the declared upstream addresses (create phase).
	Dependencies []string `json:"dependencies,omitempty"`
	// PriorDependencies are the upstream addresses recorded in state (destroy phase).
	PriorDependencies []string `json:"prior_dependencies,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before"`
	After             any    `json:"after"`
	ForcesReplacement bool   `json:"forces_replacement"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// Add counts one action.
func (s *PlanSummary) Add(a Action) {
	switch a {
	case ActionCreate:
		s.Create++
	case ActionUpdate:
		s.Update++
	case ActionReplace:
		s.Replace++
	case ActionDelete:
		s.Delete++
	default:
		s.NoOp++
	}
}

// HasChanges reports whether the plan would touch anything.
func (p *Plan) HasChanges() bool {
	for _, c := range p.Changes {
		if c.Action != ActionNoOp {
			return true
		}
	}
	return false
}

// Change returns the change for an address, or nil.
func (p *Plan) Change(addr string) *ResourceChange {
	for _, c := range p.Changes {
		if c.Address == addr {
			return c
		}
	}
	return nil
}
