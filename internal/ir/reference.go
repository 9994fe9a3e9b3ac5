package ir

import (
	"fmt"
	"strings"
)

const refScheme = "ptr://"

// UnknownValue stands in for an output that only exists after the upstream
// resource is applied. It never compares equal to a recorded value.
const UnknownValue = "(known after apply)"

// Reference points from an attribute to another resource's output attribute.
// Written as ptr://<kind>/<name>/<attribute>.
type Reference struct {
	Kind      Kind
	Name      string
	Attribute string
}

// ParseReference parses a ptr:// reference string.
func ParseReference(s string) (Reference, error) {
	if !strings.HasPrefix(s, refScheme) {
		return Reference{}, fmt.Errorf("%q is not a reference (expected %s<kind>/<name>/<attribute>)", s, refScheme)
	}
	parts := strings.Split(s[len(refScheme):], "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Reference{}, fmt.Errorf("malformed reference %q", s)
	}
	kind, ok := ParseKind(parts[0])
	if !ok {
		return Reference{}, fmt.Errorf("reference %q targets unknown kind %q", s, parts[0])
	}
	return Reference{Kind: kind, Name: parts[1], Attribute: parts[2]}, nil
}

// IsReference reports whether v is a ptr:// reference string.
func IsReference(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, refScheme)
}

func (r Reference) String() string {
	return fmt.Sprintf("%s%s/%s/%s", refScheme, r.Kind, r.Name, r.Attribute)
}

// Target returns the address of the referenced resource.
func (r Reference) Target() Address {
	return Address{Kind: r.Kind, Name: r.Name}
}

// ResolveReferences replaces every reference inside v with the value returned
// by lookup. References lookup cannot satisfy are left as UnknownValue.
func ResolveReferences(v any, lookup func(Reference) (any, bool)) any {
	switch val := v.(type) {
	case string:
		if !IsReference(val) {
			return val
		}
		ref, err := ParseReference(val)
		if err != nil {
			return val
		}
		if out, ok := lookup(ref); ok {
			return out
		}
		return UnknownValue
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = ResolveReferences(v, lookup)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = ResolveReferences(v, lookup)
		}
		return out
	default:
		return val
	}
}
