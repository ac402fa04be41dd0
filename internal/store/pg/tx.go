package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"solarforecast.org/internal/auth"
)

type txn struct {
	reader
}

var _ auth.Tx = (*txn)(nil)

func (t *txn) LockGrantIndex(ctx context.Context) error {
	_, err := t.q.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, grantIndexLockKey)
	return err
}

func (t *txn) InsertOrganization(ctx context.Context, org auth.Organization) error {
	_, err := t.q.ExecContext(ctx, `
		insert into organizations (id, name, accepted_terms_of_use, created_at)
		values ($1, $2, $3, $4)`, org.ID, org.Name, org.AcceptedTermsOfUse, org.CreatedAt)
	return mapError(err, auth.ErrNotFound)
}

func (t *txn) SetTermsOfUse(ctx context.Context, organizationID string, accepted bool) error {
	res, err := t.q.ExecContext(ctx, `update organizations set accepted_terms_of_use = $2 where id = $1`, organizationID, accepted)
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("organization", organizationID)
	}
	return nil
}

// DeleteOrganization relies on cascades. A parent_id reference from another
// organization's object fails the statement and is reported as a restrict.
func (t *txn) DeleteOrganization(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `delete from organizations where id = $1`, id)
	if err != nil {
		return mapError(err, auth.ErrRestrict)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("organization", id)
	}
	return nil
}

func (t *txn) insertRegistry(ctx context.Context, o auth.Object) error {
	attrs := []byte(`{}`)
	if len(o.Attributes) > 0 {
		b, err := json.Marshal(o.Attributes)
		if err != nil {
			return fmt.Errorf("%w: attributes: %v", auth.ErrInvalidInput, err)
		}
		attrs = b
	}
	var parent any
	if o.ParentID != "" {
		parent = o.ParentID
	}
	_, err := t.q.ExecContext(ctx, `
		insert into objects (id, object_type, organization_id, name, parent_id, attributes, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, string(o.Type), o.OrganizationID, o.Name, parent, attrs, o.CreatedAt)
	return mapError(err, auth.ErrNotFound)
}

func (t *txn) InsertUser(ctx context.Context, u auth.User) error {
	reg := auth.Object{ID: u.ID, Type: auth.TypeUsers, OrganizationID: u.OrganizationID, Name: u.AuthID, CreatedAt: u.CreatedAt}
	if err := t.insertRegistry(ctx, reg); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		insert into users (id, auth_id, organization_id, created_at)
		values ($1, $2, $3, $4)`, u.ID, u.AuthID, u.OrganizationID, u.CreatedAt)
	return mapError(err, auth.ErrNotFound)
}

func (t *txn) SetUserOrganization(ctx context.Context, userID, organizationID string) error {
	res, err := t.q.ExecContext(ctx, `update users set organization_id = $2 where id = $1`, userID, organizationID)
	if err != nil {
		return mapError(err, auth.ErrNotFound)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("user", userID)
	}
	_, err = t.q.ExecContext(ctx, `update objects set organization_id = $2 where id = $1`, userID, organizationID)
	return mapError(err, auth.ErrNotFound)
}

func (t *txn) InsertRole(ctx context.Context, r auth.Role) error {
	reg := auth.Object{ID: r.ID, Type: auth.TypeRoles, OrganizationID: r.OrganizationID, Name: r.Name, CreatedAt: r.CreatedAt}
	if err := t.insertRegistry(ctx, reg); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		insert into roles (id, organization_id, name, description, created_at)
		values ($1, $2, $3, $4, $5)`, r.ID, r.OrganizationID, r.Name, r.Description, r.CreatedAt)
	return mapError(err, auth.ErrNotFound)
}

func (t *txn) InsertPermission(ctx context.Context, p auth.Permission) error {
	reg := auth.Object{ID: p.ID, Type: auth.TypePermissions, OrganizationID: p.OrganizationID, Name: p.Description, CreatedAt: p.CreatedAt}
	if err := t.insertRegistry(ctx, reg); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		insert into permissions (id, organization_id, description, action, object_type, applies_to_all, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OrganizationID, p.Description, string(p.Action), string(p.ObjectType), p.AppliesToAll, p.CreatedAt)
	return mapError(err, auth.ErrNotFound)
}

func (t *txn) InsertObject(ctx context.Context, o auth.Object) error {
	return t.insertRegistry(ctx, o)
}

func (t *txn) DeleteObject(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `delete from objects where id = $1`, id)
	if err != nil {
		return mapError(err, auth.ErrRestrict)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("object", id)
	}
	return nil
}

// edge runs an idempotent insert or delete and reports whether a row changed.
func (t *txn) edge(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapError(err, auth.ErrNotFound)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *txn) AddUserRole(ctx context.Context, userID, roleID string) (bool, error) {
	return t.edge(ctx, `
		insert into user_role_mapping (user_id, role_id) values ($1, $2)
		on conflict do nothing`, userID, roleID)
}

func (t *txn) RemoveUserRole(ctx context.Context, userID, roleID string) (bool, error) {
	return t.edge(ctx, `delete from user_role_mapping where user_id = $1 and role_id = $2`, userID, roleID)
}

func (t *txn) AddRolePermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	return t.edge(ctx, `
		insert into role_permission_mapping (role_id, permission_id) values ($1, $2)
		on conflict do nothing`, roleID, permissionID)
}

func (t *txn) RemoveRolePermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	return t.edge(ctx, `delete from role_permission_mapping where role_id = $1 and permission_id = $2`, roleID, permissionID)
}

func (t *txn) AddPermissionObject(ctx context.Context, permissionID, objectID string) (bool, error) {
	return t.edge(ctx, `
		insert into permission_object_mapping (permission_id, object_id) values ($1, $2)
		on conflict do nothing`, permissionID, objectID)
}

func (t *txn) RemovePermissionObject(ctx context.Context, permissionID, objectID string) (bool, error) {
	return t.edge(ctx, `delete from permission_object_mapping where permission_id = $1 and object_id = $2`, permissionID, objectID)
}

func (t *txn) rows(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, auth.ErrNotFound)
	}
	return affected(res)
}

func (t *txn) IndexPermission(ctx context.Context, permissionID string, objectType auth.ObjectType, organizationID string) (int64, error) {
	return t.rows(ctx, `
		insert into permission_object_mapping (permission_id, object_id)
		select $1::uuid, o.id from objects o
		where o.object_type = $2 and o.organization_id = $3
		on conflict do nothing`, permissionID, string(objectType), organizationID)
}

func (t *txn) IndexObject(ctx context.Context, objectID string, objectType auth.ObjectType, organizationID string) (int64, error) {
	return t.rows(ctx, `
		insert into permission_object_mapping (permission_id, object_id)
		select p.id, $1::uuid from permissions p
		where p.object_type = $2 and p.organization_id = $3
		  and p.applies_to_all and p.action <> 'create'
		on conflict do nothing`, objectID, string(objectType), organizationID)
}

func (t *txn) UnindexObject(ctx context.Context, objectID string) (int64, error) {
	return t.rows(ctx, `delete from permission_object_mapping where object_id = $1`, objectID)
}
