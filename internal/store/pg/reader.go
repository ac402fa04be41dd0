package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"solarforecast.org/internal/auth"
)

type reader struct {
	q querier
}

const (
	organizationColumns = `id, name, accepted_terms_of_use, created_at`
	userColumns         = `id, auth_id, organization_id, created_at`
	roleColumns         = `r.id, r.organization_id, r.name, r.description, r.created_at`
	permissionColumns   = `p.id, p.organization_id, p.description, p.action, p.object_type, p.applies_to_all, p.created_at`
	objectColumns       = `o.id, o.object_type, o.organization_id, o.name, o.parent_id, o.attributes, o.created_at`

	// userGrants joins a user's roles down to grant index rows.
	userGrants = `
		from user_role_mapping ur
		join role_permission_mapping rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		join permission_object_mapping pom on pom.permission_id = p.id`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (auth.Organization, error) {
	var org auth.Organization
	err := row.Scan(&org.ID, &org.Name, &org.AcceptedTermsOfUse, &org.CreatedAt)
	return org, err
}

func scanUser(row scanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.AuthID, &u.OrganizationID, &u.CreatedAt)
	return u, err
}

func scanRole(row scanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Description, &r.CreatedAt)
	return r, err
}

func scanPermission(row scanner) (auth.Permission, error) {
	var (
		p          auth.Permission
		action     string
		objectType string
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Description, &action, &objectType, &p.AppliesToAll, &p.CreatedAt); err != nil {
		return auth.Permission{}, err
	}
	p.Action = auth.Action(action)
	p.ObjectType = auth.ObjectType(objectType)
	return p, nil
}

func scanObject(row scanner) (auth.Object, error) {
	var (
		o          auth.Object
		objectType string
		parent     sql.NullString
		rawAttrs   []byte
	)
	if err := row.Scan(&o.ID, &objectType, &o.OrganizationID, &o.Name, &parent, &rawAttrs, &o.CreatedAt); err != nil {
		return auth.Object{}, err
	}
	o.Type = auth.ObjectType(objectType)
	o.ParentID = parent.String
	if len(rawAttrs) > 0 {
		if err := json.Unmarshal(rawAttrs, &o.Attributes); err != nil {
			return auth.Object{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	if len(o.Attributes) == 0 {
		o.Attributes = nil
	}
	return o, nil
}

func one[T any](row *sql.Row, scan func(scanner) (T, error), kind, key string) (T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, notFound(kind, key)
	}
	return v, err
}

func many[T any](rows *sql.Rows, err error, scan func(scanner) (T, error)) ([]T, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanString(row scanner) (string, error) {
	var s string
	err := row.Scan(&s)
	return s, err
}

func (r reader) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	row := r.q.QueryRowContext(ctx, `select `+organizationColumns+` from organizations where id = $1`, id)
	return one(row, scanOrganization, "organization", id)
}

func (r reader) GetOrganizationByName(ctx context.Context, name string) (auth.Organization, error) {
	row := r.q.QueryRowContext(ctx, `select `+organizationColumns+` from organizations where name = $1`, name)
	return one(row, scanOrganization, "organization", name)
}

func (r reader) ListOrganizations(ctx context.Context) ([]auth.Organization, error) {
	rows, err := r.q.QueryContext(ctx, `select `+organizationColumns+` from organizations order by name`)
	return many(rows, err, scanOrganization)
}

func (r reader) GetUser(ctx context.Context, id string) (auth.User, error) {
	row := r.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return one(row, scanUser, "user", id)
}

func (r reader) GetUserByAuthID(ctx context.Context, authID string) (auth.User, error) {
	row := r.q.QueryRowContext(ctx, `select `+userColumns+` from users where auth_id = $1`, authID)
	return one(row, scanUser, "user", authID)
}

func (r reader) GetRole(ctx context.Context, id string) (auth.Role, error) {
	row := r.q.QueryRowContext(ctx, `select `+roleColumns+` from roles r where r.id = $1`, id)
	return one(row, scanRole, "role", id)
}

func (r reader) GetRoleByName(ctx context.Context, organizationID, name string) (auth.Role, error) {
	row := r.q.QueryRowContext(ctx, `select `+roleColumns+` from roles r where r.organization_id = $1 and r.name = $2`, organizationID, name)
	return one(row, scanRole, "role", name)
}

func (r reader) ListRoles(ctx context.Context, organizationID string) ([]auth.Role, error) {
	rows, err := r.q.QueryContext(ctx, `select `+roleColumns+` from roles r where r.organization_id = $1 order by r.id`, organizationID)
	return many(rows, err, scanRole)
}

func (r reader) ListUserRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+roleColumns+`
		from roles r
		join user_role_mapping ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.id`, userID)
	return many(rows, err, scanRole)
}

func (r reader) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	row := r.q.QueryRowContext(ctx, `select `+permissionColumns+` from permissions p where p.id = $1`, id)
	return one(row, scanPermission, "permission", id)
}

func (r reader) ListRolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions p
		join role_permission_mapping rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.id`, roleID)
	return many(rows, err, scanPermission)
}

func (r reader) UserPermissions(ctx context.Context, userID string, action auth.Action) ([]auth.Permission, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions p
		where p.action = $2 and p.id in (
			select rp.permission_id
			from role_permission_mapping rp
			join user_role_mapping ur on ur.role_id = rp.role_id
			where ur.user_id = $1)
		order by p.id`, userID, string(action))
	return many(rows, err, scanPermission)
}

func (r reader) GetObject(ctx context.Context, id string) (auth.Object, error) {
	row := r.q.QueryRowContext(ctx, `select `+objectColumns+` from objects o where o.id = $1`, id)
	return one(row, scanObject, "object", id)
}

func (r reader) ListObjects(ctx context.Context, organizationID string, objectType auth.ObjectType) ([]auth.Object, error) {
	if organizationID == "" {
		rows, err := r.q.QueryContext(ctx, `select `+objectColumns+` from objects o where o.object_type = $1 order by o.id`, string(objectType))
		return many(rows, err, scanObject)
	}
	rows, err := r.q.QueryContext(ctx, `
		select `+objectColumns+`
		from objects o
		where o.object_type = $1 and o.organization_id = $2
		order by o.id`, string(objectType), organizationID)
	return many(rows, err, scanObject)
}

func (r reader) GrantedObjects(ctx context.Context, userID string, action auth.Action, objectType auth.ObjectType) ([]auth.Object, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+objectColumns+`
		from objects o
		where o.object_type = $3 and o.id in (
			select pom.object_id `+userGrants+`
			where ur.user_id = $1 and p.action = $2 and p.object_type = $3)
		order by o.id`, userID, string(action), string(objectType))
	return many(rows, err, scanObject)
}

func (r reader) CountDependents(ctx context.Context, id string) (map[auth.ObjectType]int, error) {
	rows, err := r.q.QueryContext(ctx, `
		select object_type, count(*)
		from objects
		where parent_id = $1
		group by object_type`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[auth.ObjectType]int{}
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[auth.ObjectType(t)] = n
	}
	return out, rows.Err()
}

func (r reader) ListPermissionObjects(ctx context.Context, permissionID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		select object_id from permission_object_mapping
		where permission_id = $1
		order by object_id`, permissionID)
	return many(rows, err, scanString)
}

func (r reader) FindGrant(ctx context.Context, userID string, action auth.Action, objectID string) (string, bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `
		select pom.permission_id `+userGrants+`
		where ur.user_id = $1 and p.action = $2 and pom.object_id = $3
		order by pom.permission_id
		limit 1`, userID, string(action), objectID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r reader) GrantedActions(ctx context.Context, userID, objectID string) ([]auth.Action, error) {
	rows, err := r.q.QueryContext(ctx, `
		select distinct p.action `+userGrants+`
		where ur.user_id = $1 and pom.object_id = $2`, userID, objectID)
	names, err := many(rows, err, scanString)
	if err != nil {
		return nil, err
	}
	out := make([]auth.Action, 0, len(names))
	for _, n := range names {
		out = append(out, auth.Action(n))
	}
	return out, nil
}
