package auth

import "context"

// Store is the persistence boundary of the engine. Update runs fn inside a
// single atomic transaction: either every write made through the Tx commits
// or none does. View runs fn against a consistent read-only snapshot.
// Implementations must return ErrNotFound for missing rows and ErrConflict
// for uniqueness violations.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error
	Ping(ctx context.Context) error
}

// Reader is the read side of the store.
type Reader interface {
	GetOrganization(ctx context.Context, id string) (Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)

	GetUser(ctx context.Context, id string) (User, error)
	GetUserByAuthID(ctx context.Context, authID string) (User, error)

	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, organizationID, name string) (Role, error)
	ListRoles(ctx context.Context, organizationID string) ([]Role, error)
	ListUserRoles(ctx context.Context, userID string) ([]Role, error)

	GetPermission(ctx context.Context, id string) (Permission, error)
	ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	// UserPermissions returns the distinct permissions with the given action
	// reachable from the user through role membership.
	UserPermissions(ctx context.Context, userID string, action Action) ([]Permission, error)

	GetObject(ctx context.Context, id string) (Object, error)
	// ListObjects lists objects of a type; an empty organizationID means all organizations.
	ListObjects(ctx context.Context, organizationID string, objectType ObjectType) ([]Object, error)
	// GrantedObjects lists objects of a type on which the user holds action.
	GrantedObjects(ctx context.Context, userID string, action Action, objectType ObjectType) ([]Object, error)
	// CountDependents counts objects whose parent is id, by type.
	CountDependents(ctx context.Context, id string) (map[ObjectType]int, error)

	// ListPermissionObjects returns the object ids in the grant index for a permission.
	ListPermissionObjects(ctx context.Context, permissionID string) ([]string, error)
	// FindGrant returns a permission held by the user through a role that
	// allows action and has a grant index row for objectID.
	FindGrant(ctx context.Context, userID string, action Action, objectID string) (string, bool, error)
	// GrantedActions returns the distinct actions the user holds on objectID
	// through the grant index.
	GrantedActions(ctx context.Context, userID, objectID string) ([]Action, error)
}

// Tx is the write side of the store, valid only inside Store.Update.
//
// Edge writers report whether a row changed instead of failing on duplicates
// or misses so a transaction never aborts on an idempotent edit.
type Tx interface {
	Reader

	// LockGrantIndex serializes grant index maintenance across writers until
	// the transaction ends, so an object and an applies-to-all permission
	// created concurrently always see each other.
	LockGrantIndex(ctx context.Context) error

	InsertOrganization(ctx context.Context, org Organization) error
	SetTermsOfUse(ctx context.Context, organizationID string, accepted bool) error
	// DeleteOrganization removes the organization and everything it owns.
	DeleteOrganization(ctx context.Context, id string) error

	// InsertUser, InsertRole, InsertPermission and InsertObject also write
	// the registry row for the new entity.
	InsertUser(ctx context.Context, u User) error
	SetUserOrganization(ctx context.Context, userID, organizationID string) error
	InsertRole(ctx context.Context, r Role) error
	InsertPermission(ctx context.Context, p Permission) error
	InsertObject(ctx context.Context, o Object) error
	// DeleteObject removes a registry row of any type and cascades to its
	// typed row, membership edges and grant index rows.
	DeleteObject(ctx context.Context, id string) error

	AddUserRole(ctx context.Context, userID, roleID string) (bool, error)
	RemoveUserRole(ctx context.Context, userID, roleID string) (bool, error)
	AddRolePermission(ctx context.Context, roleID, permissionID string) (bool, error)
	RemoveRolePermission(ctx context.Context, roleID, permissionID string) (bool, error)
	AddPermissionObject(ctx context.Context, permissionID, objectID string) (bool, error)
	RemovePermissionObject(ctx context.Context, permissionID, objectID string) (bool, error)

	// IndexPermission adds grant index rows for permissionID covering every
	// object of objectType owned by organizationID.
	IndexPermission(ctx context.Context, permissionID string, objectType ObjectType, organizationID string) (int64, error)
	// IndexObject adds grant index rows for objectID under every
	// applies-to-all, non-create permission of its type in organizationID.
	IndexObject(ctx context.Context, objectID string, objectType ObjectType, organizationID string) (int64, error)
	// UnindexObject removes every grant index row referencing objectID.
	UnindexObject(ctx context.Context, objectID string) (int64, error)
}
