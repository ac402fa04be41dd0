package memory

import (
	"context"
	"fmt"
	"maps"

	"solarforecast.org/internal/auth"
)

type txn struct {
	reader
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{auth.ErrConflict}, args...)...)
}

// LockGrantIndex is a no-op: Update already serializes writers.
func (t *txn) LockGrantIndex(context.Context) error { return nil }

func (t *txn) InsertOrganization(_ context.Context, org auth.Organization) error {
	if _, ok := t.st.orgs[org.ID]; ok {
		return conflict("organization %s", org.ID)
	}
	for _, other := range t.st.orgs {
		if other.Name == org.Name {
			return conflict("organization name %q", org.Name)
		}
	}
	t.st.orgs[org.ID] = org
	return nil
}

func (t *txn) SetTermsOfUse(_ context.Context, organizationID string, accepted bool) error {
	org, ok := t.st.orgs[organizationID]
	if !ok {
		return notFound("organization", organizationID)
	}
	org.AcceptedTermsOfUse = accepted
	t.st.orgs[organizationID] = org
	return nil
}

func (t *txn) DeleteOrganization(_ context.Context, id string) error {
	if _, ok := t.st.orgs[id]; !ok {
		return notFound("organization", id)
	}
	owned := map[string]bool{}
	for oid, o := range t.st.objects {
		if o.OrganizationID == id {
			owned[oid] = true
		}
	}
	for _, o := range t.st.objects {
		if !owned[o.ID] && o.ParentID != "" && owned[o.ParentID] {
			return fmt.Errorf("%w: object %s depends on %s", auth.ErrRestrict, o.ID, o.ParentID)
		}
	}
	for oid := range owned {
		t.drop(oid)
	}
	delete(t.st.orgs, id)
	return nil
}

func (t *txn) requireOrg(id string) error {
	if _, ok := t.st.orgs[id]; !ok {
		return notFound("organization", id)
	}
	return nil
}

func (t *txn) putObject(o auth.Object) error {
	if _, ok := t.st.objects[o.ID]; ok {
		return conflict("object %s", o.ID)
	}
	if err := t.requireOrg(o.OrganizationID); err != nil {
		return err
	}
	if o.ParentID != "" {
		if _, ok := t.st.objects[o.ParentID]; !ok {
			return notFound("object", o.ParentID)
		}
	}
	o.Attributes = maps.Clone(o.Attributes)
	t.st.objects[o.ID] = o
	return nil
}

func (t *txn) InsertUser(_ context.Context, u auth.User) error {
	for _, other := range t.st.users {
		if other.AuthID == u.AuthID {
			return conflict("user %q", u.AuthID)
		}
	}
	if err := t.putObject(auth.Object{ID: u.ID, Type: auth.TypeUsers, OrganizationID: u.OrganizationID, Name: u.AuthID, CreatedAt: u.CreatedAt}); err != nil {
		return err
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *txn) SetUserOrganization(_ context.Context, userID, organizationID string) error {
	u, ok := t.st.users[userID]
	if !ok {
		return notFound("user", userID)
	}
	if err := t.requireOrg(organizationID); err != nil {
		return err
	}
	u.OrganizationID = organizationID
	t.st.users[userID] = u
	o := t.st.objects[userID]
	o.OrganizationID = organizationID
	t.st.objects[userID] = o
	return nil
}

func (t *txn) InsertRole(_ context.Context, r auth.Role) error {
	for _, other := range t.st.roles {
		if other.OrganizationID == r.OrganizationID && other.Name == r.Name {
			return conflict("role name %q", r.Name)
		}
	}
	if err := t.putObject(auth.Object{ID: r.ID, Type: auth.TypeRoles, OrganizationID: r.OrganizationID, Name: r.Name, CreatedAt: r.CreatedAt}); err != nil {
		return err
	}
	t.st.roles[r.ID] = r
	return nil
}

func (t *txn) InsertPermission(_ context.Context, p auth.Permission) error {
	if err := t.putObject(auth.Object{ID: p.ID, Type: auth.TypePermissions, OrganizationID: p.OrganizationID, Name: p.Description, CreatedAt: p.CreatedAt}); err != nil {
		return err
	}
	t.st.perms[p.ID] = p
	return nil
}

func (t *txn) InsertObject(_ context.Context, o auth.Object) error {
	return t.putObject(o)
}

func (t *txn) DeleteObject(_ context.Context, id string) error {
	if _, ok := t.st.objects[id]; !ok {
		return notFound("object", id)
	}
	for _, o := range t.st.objects {
		if o.ParentID == id {
			return fmt.Errorf("%w: object %s depends on %s", auth.ErrRestrict, o.ID, id)
		}
	}
	t.drop(id)
	return nil
}

// drop removes an object and everything that references it.
func (t *txn) drop(id string) {
	o := t.st.objects[id]
	delete(t.st.objects, id)
	t.st.permObjects.dropTarget(id)
	switch o.Type {
	case auth.TypeRoles:
		delete(t.st.roles, id)
		delete(t.st.rolePerms, id)
		t.st.userRoles.dropTarget(id)
	case auth.TypePermissions:
		delete(t.st.perms, id)
		delete(t.st.permObjects, id)
		t.st.rolePerms.dropTarget(id)
	case auth.TypeUsers:
		delete(t.st.users, id)
		delete(t.st.userRoles, id)
	}
}

func (t *txn) AddUserRole(_ context.Context, userID, roleID string) (bool, error) {
	if _, ok := t.st.users[userID]; !ok {
		return false, notFound("user", userID)
	}
	if _, ok := t.st.roles[roleID]; !ok {
		return false, notFound("role", roleID)
	}
	return t.st.userRoles.add(userID, roleID), nil
}

func (t *txn) RemoveUserRole(_ context.Context, userID, roleID string) (bool, error) {
	return t.st.userRoles.remove(userID, roleID), nil
}

func (t *txn) AddRolePermission(_ context.Context, roleID, permissionID string) (bool, error) {
	if _, ok := t.st.roles[roleID]; !ok {
		return false, notFound("role", roleID)
	}
	if _, ok := t.st.perms[permissionID]; !ok {
		return false, notFound("permission", permissionID)
	}
	return t.st.rolePerms.add(roleID, permissionID), nil
}

func (t *txn) RemoveRolePermission(_ context.Context, roleID, permissionID string) (bool, error) {
	return t.st.rolePerms.remove(roleID, permissionID), nil
}

func (t *txn) AddPermissionObject(_ context.Context, permissionID, objectID string) (bool, error) {
	if _, ok := t.st.perms[permissionID]; !ok {
		return false, notFound("permission", permissionID)
	}
	if _, ok := t.st.objects[objectID]; !ok {
		return false, notFound("object", objectID)
	}
	return t.st.permObjects.add(permissionID, objectID), nil
}

func (t *txn) RemovePermissionObject(_ context.Context, permissionID, objectID string) (bool, error) {
	return t.st.permObjects.remove(permissionID, objectID), nil
}

func (t *txn) IndexPermission(_ context.Context, permissionID string, objectType auth.ObjectType, organizationID string) (int64, error) {
	if _, ok := t.st.perms[permissionID]; !ok {
		return 0, notFound("permission", permissionID)
	}
	var n int64
	for _, o := range t.st.objects {
		if o.Type == objectType && o.OrganizationID == organizationID && t.st.permObjects.add(permissionID, o.ID) {
			n++
		}
	}
	return n, nil
}

func (t *txn) IndexObject(_ context.Context, objectID string, objectType auth.ObjectType, organizationID string) (int64, error) {
	if _, ok := t.st.objects[objectID]; !ok {
		return 0, notFound("object", objectID)
	}
	var n int64
	for _, p := range t.st.perms {
		if !p.AppliesToAll || p.Action == auth.ActionCreate {
			continue
		}
		if p.ObjectType == objectType && p.OrganizationID == organizationID && t.st.permObjects.add(p.ID, objectID) {
			n++
		}
	}
	return n, nil
}

func (t *txn) UnindexObject(_ context.Context, objectID string) (int64, error) {
	return t.st.permObjects.dropTarget(objectID), nil
}
