package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/store/memory"
)

func TestNewUserCanReadItself(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.CreateUser(f.ctx, "auth0|new")
	require.NoError(t, err)
	unaffiliated, err := f.svc.UnaffiliatedOrganizationID()
	require.NoError(t, err)
	assert.Equal(t, unaffiliated, u.OrganizationID)

	actions, err := f.svc.AllowedActions(f.ctx, "auth0|new", u.ID)
	require.NoError(t, err)
	assert.Equal(t, []auth.Action{auth.ActionRead}, actions)

	role := f.role(unaffiliated, auth.DefaultUserRoleName(u.ID))
	assert.True(t, f.svc.CanPerform(f.ctx, "auth0|new", role.ID, auth.ActionRead))
	perms, err := f.svc.ListObjects(f.ctx, "auth0|new", auth.TypePermissions)
	require.NoError(t, err)
	assert.Len(t, perms, 3)

	got, err := f.svc.GetUser(f.ctx, "auth0|new", u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)
	roles, err := f.svc.UserRoles(f.ctx, "auth0|new", u.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, role.ID, roles[0].ID)

	_, err = f.svc.CreateUser(f.ctx, "auth0|new")
	assert.ErrorIs(t, err, auth.ErrConflict)
	_, err = f.svc.CreateUser(f.ctx, " ")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	f.requireIndexConsistent()
}

func TestReaffiliation(t *testing.T) {
	f := newFixture(t)
	acme := f.org("acme")
	beta := f.org("beta")
	u := f.admin(acme, "mover")

	reference, err := f.svc.GetOrganizationByName(f.ctx, auth.DefaultReferenceOrganization)
	require.NoError(t, err)
	refRole := f.role(reference.ID, auth.RoleReadAll)
	require.NoError(t, f.store.Update(f.ctx, func(tx auth.Tx) error {
		_, err := tx.AddUserRole(f.ctx, u.ID, refRole.ID)
		return err
	}))
	assert.Len(t, f.userRoleNames(u.ID), 7)

	moved, err := f.svc.MoveUserToUnaffiliated(f.ctx, u.ID)
	require.NoError(t, err)
	unaffiliated, _ := f.svc.UnaffiliatedOrganizationID()
	assert.Equal(t, unaffiliated, moved.OrganizationID)
	names := f.userRoleNames(u.ID)
	assert.ElementsMatch(t, []string{auth.RoleReadAll, auth.DefaultUserRoleName(u.ID)}, names)
	assert.True(t, f.svc.CanPerform(f.ctx, "mover", u.ID, auth.ActionRead))
	assert.True(t, f.auditor.has("user.unaffiliated"))

	_, err = f.svc.MoveUserToUnaffiliated(f.ctx, u.ID)
	assert.ErrorIs(t, err, auth.ErrPrecondition)

	_, err = f.svc.AddUserToOrg(f.ctx, u.ID, beta.ID)
	require.NoError(t, err)
	first := f.userRoleNames(u.ID)
	_, err = f.svc.AddUserToOrg(f.ctx, u.ID, beta.ID)
	require.NoError(t, err)
	assert.Equal(t, first, f.userRoleNames(u.ID))

	_, err = f.svc.AddUserToOrg(f.ctx, u.ID, acme.ID)
	assert.ErrorIs(t, err, auth.ErrPrecondition)

	// Exactly one default role for the user across every organization.
	total := 0
	orgs, err := f.svc.ListOrganizations(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.View(f.ctx, func(r auth.Reader) error {
		for _, org := range orgs {
			roles, err := r.ListRoles(f.ctx, org.ID)
			if err != nil {
				return err
			}
			for _, role := range roles {
				if role.Name == auth.DefaultUserRoleName(u.ID) {
					total++
					assert.Equal(t, beta.ID, org.ID)
				}
			}
		}
		return nil
	}))
	assert.Equal(t, 1, total)

	// The beta admin reads the new member through the applies-to-all user grant.
	f.admin(beta, "beta-admin")
	assert.True(t, f.svc.CanPerform(f.ctx, "beta-admin", u.ID, auth.ActionRead))
	f.requireIndexConsistent()
}

func TestAddUserToMissingOrganization(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.CreateUser(f.ctx, "lost")
	require.NoError(t, err)
	_, err = f.svc.AddUserToOrg(f.ctx, u.ID, "00000000-0000-0000-0000-000000000123")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = f.svc.AddUserToOrg(f.ctx, "bogus", "00000000-0000-0000-0000-000000000123")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestBootstrap(t *testing.T) {
	store := memory.New()
	extra := "00000000-0000-0000-0000-0000000000ee"
	svc, err := auth.NewService(store, auth.WithPrivilegedOrganizations(extra))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.CreateUser(ctx, "early")
	assert.ErrorIs(t, err, auth.ErrPrecondition)

	require.NoError(t, svc.Bootstrap(ctx))
	require.NoError(t, svc.Bootstrap(ctx))
	orgs, err := svc.ListOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	for _, org := range orgs {
		assert.True(t, svc.IsPrivileged(org.ID), org.Name)
		assert.ErrorIs(t, svc.DeleteOrganization(ctx, org.ID), auth.ErrPrecondition)
	}
	assert.True(t, svc.IsPrivileged(extra))
	assert.Len(t, svc.PrivilegedOrganizations(), 3)

	require.NoError(t, store.View(ctx, func(r auth.Reader) error {
		ref, err := r.GetOrganizationByName(ctx, auth.DefaultReferenceOrganization)
		require.NoError(t, err)
		roles, err := r.ListRoles(ctx, ref.ID)
		assert.Len(t, roles, 5)
		return err
	}))
}

func TestServiceOptions(t *testing.T) {
	store := memory.New()
	_, err := auth.NewService(store, auth.WithReservedOrganizations("Same", "Same"))
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = auth.NewService(store, auth.WithPrivilegedOrganizations("not-an-id"))
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = auth.NewService(nil)
	assert.Error(t, err)

	n := 0
	svc, err := auth.NewService(store,
		auth.WithReservedOrganizations("Nobody", "Shared"),
		auth.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
		}),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Bootstrap(context.Background()))
	org, err := svc.GetOrganizationByName(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", org.ID)
}

func TestDeleteOrganization(t *testing.T) {
	f := newFixture(t)
	acme := f.org("acme")
	f.admin(acme, "admin")
	f.site("admin", "s")

	require.NoError(t, f.svc.DeleteOrganization(f.ctx, acme.ID))
	_, err := f.svc.GetUserByAuthID(f.ctx, "admin")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = f.svc.GetOrganization(f.ctx, acme.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteOrganization(f.ctx, acme.ID), auth.ErrNotFound)

	// The name is free again.
	f.org("acme")
	f.requireIndexConsistent()
}

func TestConcurrentWritersKeepIndexComplete(t *testing.T) {
	f := newFixture(t)
	org := f.org("acme")
	f.admin(org, "admin")
	reader := f.member(org, "reader")
	require.NoError(t, f.svc.AddRoleToUser(f.ctx, "admin", reader.ID, f.role(org.ID, auth.RoleReadAll).ID))

	var wg sync.WaitGroup
	sites := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := f.svc.CreateObject(f.ctx, "admin", auth.ObjectSpec{Type: auth.TypeSites, Name: fmt.Sprintf("site-%d", i)})
			if err == nil {
				sites <- obj.ID
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.CreatePermission(f.ctx, "admin", auth.PermissionSpec{
				Description: fmt.Sprintf("update sites %d", i), Action: auth.ActionUpdate,
				ObjectType: auth.TypeSites, AppliesToAll: true,
			})
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ListObjects(f.ctx, "reader", auth.TypeSites)
		}()
	}
	wg.Wait()
	close(sites)

	count := 0
	for id := range sites {
		count++
		assert.True(t, f.svc.CanPerform(f.ctx, "reader", id, auth.ActionRead))
	}
	assert.Equal(t, 32, count)
	f.requireIndexConsistent()
}

func TestConcurrentDuplicateGrant(t *testing.T) {
	f := newFixture(t)
	org := f.org("acme")
	f.admin(org, "admin")
	user := f.member(org, "user")
	role := f.role(org.ID, auth.RoleReadAll)

	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.AddRoleToUser(f.ctx, "admin", user.ID, role.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, auth.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), conflicts.Load())
}
