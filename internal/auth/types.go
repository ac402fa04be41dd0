package auth

import (
	"fmt"
	"strings"
	"time"
)

// Action is an operation a permission can allow.
type Action string

const (
	ActionRead         Action = "read"
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionReadValues   Action = "read_values"
	ActionWriteValues  Action = "write_values"
	ActionDeleteValues Action = "delete_values"
	ActionGrant        Action = "grant"
	ActionRevoke       Action = "revoke"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionRead, ActionCreate, ActionUpdate, ActionDelete,
	ActionReadValues, ActionWriteValues, ActionDeleteValues,
	ActionGrant, ActionRevoke,
}

// ParseAction validates a textual action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
}

// ObjectType names a kind of grantable object.
type ObjectType string

const (
	TypeSites        ObjectType = "sites"
	TypeObservations ObjectType = "observations"
	TypeForecasts    ObjectType = "forecasts"
	TypeCDFForecasts ObjectType = "cdf_forecasts"
	TypeAggregates   ObjectType = "aggregates"
	TypeReports      ObjectType = "reports"
	TypeRoles        ObjectType = "roles"
	TypePermissions  ObjectType = "permissions"
	TypeUsers        ObjectType = "users"
)

// ObjectTypes lists every object type in a stable order.
var ObjectTypes = []ObjectType{
	TypeSites, TypeObservations, TypeForecasts, TypeCDFForecasts,
	TypeAggregates, TypeReports, TypeRoles, TypePermissions, TypeUsers,
}

// DataTypes are the data-plane object types, as opposed to RBAC entities.
var DataTypes = []ObjectType{
	TypeSites, TypeObservations, TypeForecasts, TypeCDFForecasts,
	TypeAggregates, TypeReports,
}

// ParseObjectType validates a textual object type.
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range ObjectTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown object type %q", ErrInvalidInput, s)
}

// IsRBACEntity reports whether objects of this type are roles, permissions or users.
func (t ObjectType) IsRBACEntity() bool {
	return t == TypeRoles || t == TypePermissions || t == TypeUsers
}

// parentTypes lists which object types an object of the given type may depend on.
var parentTypes = map[ObjectType][]ObjectType{
	TypeObservations: {TypeSites},
	TypeForecasts:    {TypeSites, TypeAggregates},
	TypeCDFForecasts: {TypeSites, TypeAggregates},
}

// Organization is a tenant. It owns users, roles, permissions and data objects.
type Organization struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	AcceptedTermsOfUse bool      `json:"accepted_terms_of_use"`
	CreatedAt          time.Time `json:"created_at"`
}

// User is an identity from the external provider, affiliated with exactly one organization.
type User struct {
	ID             string    `json:"id"`
	AuthID         string    `json:"auth_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Role is an organization-scoped bundle of permissions.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Permission allows Action on objects of ObjectType. It is never updated after
// creation; replacing a rule means creating a new permission and deleting the old one.
type Permission struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Description    string     `json:"description"`
	Action         Action     `json:"action"`
	ObjectType     ObjectType `json:"object_type"`
	AppliesToAll   bool       `json:"applies_to_all"`
	CreatedAt      time.Time  `json:"created_at"`
}

// indexed reports whether the permission keeps grant index rows for every
// object of its type. Create permissions have no target object to index.
func (p Permission) indexed() bool {
	return p.AppliesToAll && p.Action != ActionCreate
}

// Object is the registry entry for every grantable entity. Roles, permissions
// and users have an Object with the same id.
type Object struct {
	ID             string         `json:"id"`
	Type           ObjectType     `json:"object_type"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	ParentID       string         `json:"parent_id,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ObjectSpec describes a data object to create.
type ObjectSpec struct {
	Type       ObjectType
	Name       string
	ParentID   string
	Attributes map[string]any
}

// Decision is the auditable outcome of an authorization check.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	UserID       string `json:"user_id,omitempty"`
	PermissionID string `json:"permission_id,omitempty"`
	Reason       string `json:"reason"`
}
