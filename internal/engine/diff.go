package engine

import (
	"encoding/json"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/picklr-io/dockstate/internal/ir"
)

// mutableAttributes lists, per kind, the attributes that can change without
// replacing the resource. Anything not listed forces replacement.
var mutableAttributes = map[ir.Kind]map[string]bool{
	ir.KindNetwork:   {},
	ir.KindImage:     {"keep_locally": true},
	ir.KindContainer: {},
}

// IsMutable reports whether attr of kind can be updated in place.
func IsMutable(kind ir.Kind, attr string) bool {
	return mutableAttributes[kind][attr]
}

// Diff compares resolved desired attributes with the observed state of one
// resource. A nil desired map means the resource is no longer declared; a nil
// observed state means it does not exist yet. Attributes in ignore are left
// out of the comparison.
func Diff(kind ir.Kind, desired map[string]any, observed *ir.ResourceState, ignore map[string]bool) (ir.Action, map[string]*ir.PropertyDiff) {
	switch {
	case desired == nil && observed == nil:
		return ir.ActionNoOp, nil
	case desired == nil:
		return ir.ActionDelete, buildDeleteDiff(observed.Inputs)
	case observed == nil:
		return ir.ActionCreate, buildCreateDiff(desired)
	}

	diff := buildPropertyDiff(kind, canonical(kind, observed.Inputs), canonical(kind, desired), ignore)

	action := ir.ActionNoOp
	for attr, d := range diff {
		if IsMutable(kind, attr) {
			if action == ir.ActionNoOp {
				action = ir.ActionUpdate
			}
			continue
		}
		d.ForcesReplacement = true
		action = ir.ActionReplace
	}

	if observed.Tainted {
		action = ir.ActionReplace
	}
	return action, diff
}

// buildPropertyDiff compares prior and desired attributes and returns the
// attributes that differ.
func buildPropertyDiff(kind ir.Kind, prior, desired map[string]any, ignore map[string]bool) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		if ignore[k] {
			continue
		}
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete"}
		case !cmp.Equal(priorVal, desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

// canonical round-trips attrs through JSON so values built in memory compare
// equal to values reloaded from a state file (ints become float64 and so on).
// Container networks are a set and are sorted.
func canonical(kind ir.Kind, attrs map[string]any) map[string]any {
	data, err := json.Marshal(ir.NormalizeValue(attrs))
	if err != nil {
		return attrs
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return attrs
	}

	if kind == ir.KindContainer {
		if nets, ok := out["networks"].([]any); ok {
			sort.SliceStable(nets, func(i, j int) bool {
				a, _ := nets[i].(string)
				b, _ := nets[j].(string)
				return a < b
			})
		}
	}
	return out
}
