// Package memory is an in-process auth.Store. Transactions run against a
// private copy of the state that replaces the shared one on commit, so a
// failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"solarforecast.org/internal/auth"
)

type edges map[string]mapset.Set[string]

func (e edges) clone() edges {
	out := make(edges, len(e))
	for k, v := range e {
		out[k] = v.Clone()
	}
	return out
}

func (e edges) add(from, to string) bool {
	set, ok := e[from]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		e[from] = set
	}
	return set.Add(to)
}

func (e edges) remove(from, to string) bool {
	set, ok := e[from]
	if !ok || !set.Contains(to) {
		return false
	}
	set.Remove(to)
	return true
}

func (e edges) has(from, to string) bool {
	set, ok := e[from]
	return ok && set.Contains(to)
}

// dropTarget removes to from every set and reports how many edges went away.
func (e edges) dropTarget(to string) int64 {
	var n int64
	for _, set := range e {
		if set.Contains(to) {
			set.Remove(to)
			n++
		}
	}
	return n
}

type state struct {
	orgs    map[string]auth.Organization
	users   map[string]auth.User
	roles   map[string]auth.Role
	perms   map[string]auth.Permission
	objects map[string]auth.Object

	userRoles   edges // user -> roles
	rolePerms   edges // role -> permissions
	permObjects edges // permission -> objects, the grant index
}

func newState() *state {
	return &state{
		orgs:        map[string]auth.Organization{},
		users:       map[string]auth.User{},
		roles:       map[string]auth.Role{},
		perms:       map[string]auth.Permission{},
		objects:     map[string]auth.Object{},
		userRoles:   edges{},
		rolePerms:   edges{},
		permObjects: edges{},
	}
}

func (s *state) clone() *state {
	return &state{
		orgs:        maps.Clone(s.orgs),
		users:       maps.Clone(s.users),
		roles:       maps.Clone(s.roles),
		perms:       maps.Clone(s.perms),
		objects:     maps.Clone(s.objects),
		userRoles:   s.userRoles.clone(),
		rolePerms:   s.rolePerms.clone(),
		permObjects: s.permObjects.clone(),
	}
}

// Store keeps all state in memory.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// Update runs fn against a copy of the state and publishes it if fn succeeds.
// Writers are serialized.
func (s *Store) Update(ctx context.Context, fn func(tx auth.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&txn{reader{st: work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View runs fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(r auth.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(reader{st: s.st})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type reader struct {
	st *state
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", auth.ErrNotFound, kind, id)
}

func (r reader) GetOrganization(_ context.Context, id string) (auth.Organization, error) {
	org, ok := r.st.orgs[id]
	if !ok {
		return auth.Organization{}, notFound("organization", id)
	}
	return org, nil
}

func (r reader) GetOrganizationByName(_ context.Context, name string) (auth.Organization, error) {
	for _, org := range r.st.orgs {
		if org.Name == name {
			return org, nil
		}
	}
	return auth.Organization{}, notFound("organization", name)
}

func (r reader) ListOrganizations(context.Context) ([]auth.Organization, error) {
	out := make([]auth.Organization, 0, len(r.st.orgs))
	for _, org := range r.st.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r reader) GetUser(_ context.Context, id string) (auth.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return auth.User{}, notFound("user", id)
	}
	return u, nil
}

func (r reader) GetUserByAuthID(_ context.Context, authID string) (auth.User, error) {
	for _, u := range r.st.users {
		if u.AuthID == authID {
			return u, nil
		}
	}
	return auth.User{}, notFound("user", authID)
}

func (r reader) GetRole(_ context.Context, id string) (auth.Role, error) {
	role, ok := r.st.roles[id]
	if !ok {
		return auth.Role{}, notFound("role", id)
	}
	return role, nil
}

func (r reader) GetRoleByName(_ context.Context, organizationID, name string) (auth.Role, error) {
	for _, role := range r.st.roles {
		if role.OrganizationID == organizationID && role.Name == name {
			return role, nil
		}
	}
	return auth.Role{}, notFound("role", name)
}

func (r reader) ListRoles(_ context.Context, organizationID string) ([]auth.Role, error) {
	var out []auth.Role
	for _, role := range r.st.roles {
		if role.OrganizationID == organizationID {
			out = append(out, role)
		}
	}
	sortRoles(out)
	return out, nil
}

func (r reader) ListUserRoles(_ context.Context, userID string) ([]auth.Role, error) {
	var out []auth.Role
	if set, ok := r.st.userRoles[userID]; ok {
		for _, id := range set.ToSlice() {
			out = append(out, r.st.roles[id])
		}
	}
	sortRoles(out)
	return out, nil
}

func (r reader) GetPermission(_ context.Context, id string) (auth.Permission, error) {
	p, ok := r.st.perms[id]
	if !ok {
		return auth.Permission{}, notFound("permission", id)
	}
	return p, nil
}

func (r reader) ListRolePermissions(_ context.Context, roleID string) ([]auth.Permission, error) {
	var out []auth.Permission
	if set, ok := r.st.rolePerms[roleID]; ok {
		for _, id := range set.ToSlice() {
			out = append(out, r.st.perms[id])
		}
	}
	sortPermissions(out)
	return out, nil
}

// reachable returns the distinct permissions the user holds through roles.
func (r reader) reachable(userID string) []auth.Permission {
	ids := mapset.NewThreadUnsafeSet[string]()
	if roles, ok := r.st.userRoles[userID]; ok {
		roles.Each(func(roleID string) bool {
			if perms, ok := r.st.rolePerms[roleID]; ok {
				ids = ids.Union(perms)
			}
			return false
		})
	}
	out := make([]auth.Permission, 0, ids.Cardinality())
	for _, id := range ids.ToSlice() {
		out = append(out, r.st.perms[id])
	}
	sortPermissions(out)
	return out
}

func (r reader) UserPermissions(_ context.Context, userID string, action auth.Action) ([]auth.Permission, error) {
	var out []auth.Permission
	for _, p := range r.reachable(userID) {
		if p.Action == action {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r reader) GetObject(_ context.Context, id string) (auth.Object, error) {
	o, ok := r.st.objects[id]
	if !ok {
		return auth.Object{}, notFound("object", id)
	}
	return o, nil
}

func (r reader) ListObjects(_ context.Context, organizationID string, objectType auth.ObjectType) ([]auth.Object, error) {
	var out []auth.Object
	for _, o := range r.st.objects {
		if o.Type == objectType && (organizationID == "" || o.OrganizationID == organizationID) {
			out = append(out, o)
		}
	}
	sortObjects(out)
	return out, nil
}

func (r reader) GrantedObjects(_ context.Context, userID string, action auth.Action, objectType auth.ObjectType) ([]auth.Object, error) {
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, p := range r.reachable(userID) {
		if p.Action != action || p.ObjectType != objectType {
			continue
		}
		if set, ok := r.st.permObjects[p.ID]; ok {
			ids = ids.Union(set)
		}
	}
	out := make([]auth.Object, 0, ids.Cardinality())
	for _, id := range ids.ToSlice() {
		if o, ok := r.st.objects[id]; ok && o.Type == objectType {
			out = append(out, o)
		}
	}
	sortObjects(out)
	return out, nil
}

func (r reader) CountDependents(_ context.Context, id string) (map[auth.ObjectType]int, error) {
	out := map[auth.ObjectType]int{}
	for _, o := range r.st.objects {
		if o.ParentID == id {
			out[o.Type]++
		}
	}
	return out, nil
}

func (r reader) ListPermissionObjects(_ context.Context, permissionID string) ([]string, error) {
	set, ok := r.st.permObjects[permissionID]
	if !ok {
		return nil, nil
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out, nil
}

func (r reader) FindGrant(_ context.Context, userID string, action auth.Action, objectID string) (string, bool, error) {
	for _, p := range r.reachable(userID) {
		if p.Action == action && r.st.permObjects.has(p.ID, objectID) {
			return p.ID, true, nil
		}
	}
	return "", false, nil
}

func (r reader) GrantedActions(_ context.Context, userID, objectID string) ([]auth.Action, error) {
	seen := mapset.NewThreadUnsafeSet[auth.Action]()
	var out []auth.Action
	for _, p := range r.reachable(userID) {
		if r.st.permObjects.has(p.ID, objectID) && seen.Add(p.Action) {
			out = append(out, p.Action)
		}
	}
	return out, nil
}

func sortRoles(rs []auth.Role) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

func sortPermissions(ps []auth.Permission) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

func sortObjects(objs []auth.Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
}
