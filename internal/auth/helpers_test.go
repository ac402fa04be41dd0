package auth_test

import (
	"context"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"

	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/store/memory"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) Record(_ context.Context, event string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	svc     *auth.Service
	auditor *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &recordingAuditor{}
	svc, err := auth.NewService(store, auth.WithAuditor(rec))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))
	return &fixture{t: t, ctx: ctx, store: store, svc: svc, auditor: rec}
}

// member creates a user and affiliates it with org.
func (f *fixture) member(org auth.Organization, authID string) auth.User {
	f.t.Helper()
	u, err := f.svc.CreateUser(f.ctx, authID)
	require.NoError(f.t, err)
	u, err = f.svc.AddUserToOrg(f.ctx, u.ID, org.ID)
	require.NoError(f.t, err)
	return u
}

// admin creates a member of org holding every default role.
func (f *fixture) admin(org auth.Organization, authID string) auth.User {
	f.t.Helper()
	u := f.member(org, authID)
	require.NoError(f.t, f.svc.PromoteUserToOrgAdmin(f.ctx, u.ID, org.ID))
	return u
}

func (f *fixture) org(name string) auth.Organization {
	f.t.Helper()
	org, err := f.svc.CreateOrganization(f.ctx, name)
	require.NoError(f.t, err)
	return org
}

func (f *fixture) role(orgID, name string) auth.Role {
	f.t.Helper()
	var role auth.Role
	require.NoError(f.t, f.store.View(f.ctx, func(r auth.Reader) error {
		var err error
		role, err = r.GetRoleByName(f.ctx, orgID, name)
		return err
	}))
	return role
}

func (f *fixture) userRoleNames(userID string) []string {
	f.t.Helper()
	var names []string
	require.NoError(f.t, f.store.View(f.ctx, func(r auth.Reader) error {
		roles, err := r.ListUserRoles(f.ctx, userID)
		for _, role := range roles {
			names = append(names, role.Name)
		}
		return err
	}))
	return names
}

func (f *fixture) site(subject, name string) auth.Object {
	f.t.Helper()
	obj, err := f.svc.CreateObject(f.ctx, subject, auth.ObjectSpec{Type: auth.TypeSites, Name: name})
	require.NoError(f.t, err)
	return obj
}

// requireIndexConsistent checks that every applies-to-all permission maps
// exactly the objects of its type in its organization, and that explicit
// permissions only map objects of their own type and organization.
func (f *fixture) requireIndexConsistent() {
	f.t.Helper()
	require.NoError(f.t, f.store.View(f.ctx, func(r auth.Reader) error {
		orgs, err := r.ListOrganizations(f.ctx)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			perms, err := r.ListObjects(f.ctx, org.ID, auth.TypePermissions)
			if err != nil {
				return err
			}
			for _, po := range perms {
				p, err := r.GetPermission(f.ctx, po.ID)
				if err != nil {
					return err
				}
				mapped, err := r.ListPermissionObjects(f.ctx, p.ID)
				if err != nil {
					return err
				}
				got := mapset.NewThreadUnsafeSet(mapped...)
				if p.AppliesToAll && p.Action != auth.ActionCreate {
					objs, err := r.ListObjects(f.ctx, org.ID, p.ObjectType)
					if err != nil {
						return err
					}
					want := mapset.NewThreadUnsafeSet[string]()
					for _, o := range objs {
						want.Add(o.ID)
					}
					require.True(f.t, want.Equal(got), "permission %q: want %v got %v", p.Description, want, got)
					continue
				}
				if p.Action == auth.ActionCreate {
					require.Zero(f.t, got.Cardinality(), "create permission %q has index rows", p.Description)
				}
				for _, id := range mapped {
					o, err := r.GetObject(f.ctx, id)
					if err != nil {
						return err
					}
					require.Equal(f.t, p.ObjectType, o.Type)
					require.Equal(f.t, p.OrganizationID, o.OrganizationID)
				}
			}
		}
		return nil
	}))
}
