package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied covers both "no grant" and "no such object" so that
	// callers cannot test for existence.
	ErrAccessDenied = errors.New("auth: not found or access denied")
	// ErrConflict reports a uniqueness violation: duplicate organization
	// name, duplicate role grant, duplicate mapping.
	ErrConflict = errors.New("auth: already exists")
	// ErrRestrict reports a deletion blocked by dependent objects. Errors
	// wrapping it are *RestrictError values naming the dependency.
	ErrRestrict = errors.New("auth: dependent objects exist")
	// ErrReferentialIntegrity reports missing prerequisite state, such as
	// promoting an admin in an organization without default roles.
	ErrReferentialIntegrity = errors.New("auth: prerequisite state missing")
	// ErrPrecondition reports an operation invalid for the current state.
	ErrPrecondition = errors.New("auth: precondition failed")
	// ErrCrossOrganization reports wiring between different organizations.
	ErrCrossOrganization = errors.New("auth: organization mismatch")
	ErrInvalidInput      = errors.New("auth: invalid input")
	ErrNotFound          = errors.New("auth: not found")
)

// RestrictError names the dependent object class that blocks a deletion.
type RestrictError struct {
	ObjectID   string
	ObjectType ObjectType
	Dependents map[ObjectType]int
}

func (e *RestrictError) Error() string {
	return fmt.Sprintf("auth: cannot delete %s %s: referenced by %s", singular(e.ObjectType), e.ObjectID, e.Dependency())
}

// Dependency describes the blocking dependents, e.g. "2 forecasts".
func (e *RestrictError) Dependency() string {
	out := ""
	for _, t := range ObjectTypes {
		n, ok := e.Dependents[t]
		if !ok || n == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", n, t)
	}
	return out
}

func (e *RestrictError) Unwrap() error { return ErrRestrict }

func singular(t ObjectType) string {
	switch t {
	case TypeSites:
		return "site"
	case TypeAggregates:
		return "aggregate"
	default:
		return string(t)
	}
}
