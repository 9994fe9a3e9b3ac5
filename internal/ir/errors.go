package ir

import (
	"errors"
	"fmt"
)

// ErrInvalidAttribute is returned (wrapped) for every declaration problem
// found before the graph is built.
var ErrInvalidAttribute = errors.New("invalid attribute")

// AttributeError describes one invalid attribute of one declared resource.
type AttributeError struct {
	Address   string
	Attribute string
	Reason    string
}

func (e *AttributeError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidAttribute, e.Address, e.Reason)
	}
	return fmt.Sprintf("%s: %s.%s: %s", ErrInvalidAttribute, e.Address, e.Attribute, e.Reason)
}

func (e *AttributeError) Unwrap() error {
	return ErrInvalidAttribute
}

func invalid(addr, attr, format string, args ...any) error {
	return &AttributeError{Address: addr, Attribute: attr, Reason: fmt.Sprintf(format, args...)}
}
