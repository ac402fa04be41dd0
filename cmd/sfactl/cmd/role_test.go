package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/config"
	"solarforecast.org/internal/store/memory"
)

// useSharedStore makes every command in the test see the same memory store.
func useSharedStore(t *testing.T) {
	t.Helper()
	store := memory.New()
	original := openStore
	openStore = func(config.StoreConfig) (auth.Store, func() error, error) {
		return store, func() error { return nil }, nil
	}
	t.Cleanup(func() { openStore = original })
}

func executeJSON[T any](t *testing.T, args ...string) T {
	t.Helper()
	out, err := execute(t, append(args, "-o", "json")...)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestRoleAndPermissionCommands(t *testing.T) {
	useSharedStore(t)

	org := executeJSON[auth.Organization](t, "org", "create", "Sunny Acres")
	ops := executeJSON[auth.User](t, "user", "create", "auth0|ops")
	_, err := execute(t, "user", "add-to-org", ops.ID, org.ID)
	require.NoError(t, err)
	_, err = execute(t, "user", "promote", ops.ID, org.ID)
	require.NoError(t, err)

	role := executeJSON[auth.Role](t, "role", "create", "Operators", "--description", "Field crew", "--as", "auth0|ops")
	require.Equal(t, org.ID, role.OrganizationID)
	require.Equal(t, "Field crew", role.Description)

	perm := executeJSON[auth.Permission](t, "permission", "create", "--as", "auth0|ops",
		"--action", "read", "--type", "sites", "--description", "Read sites", "--all")
	require.True(t, perm.AppliesToAll)
	require.Equal(t, auth.ActionRead, perm.Action)

	_, err = execute(t, "role", "add-permission", role.ID, perm.ID, "--as", "auth0|ops")
	require.NoError(t, err)
	_, err = execute(t, "role", "grant", ops.ID, role.ID, "--as", "auth0|ops")
	require.NoError(t, err)

	held := executeJSON[[]auth.Role](t, "role", "list", "--user", ops.ID, "--as", "auth0|ops")
	names := make([]string, 0, len(held))
	for _, r := range held {
		names = append(names, r.Name)
	}
	require.Contains(t, names, "Operators")
	require.Contains(t, names, auth.DefaultUserRoleName(ops.ID))

	shown := executeJSON[auth.Permission](t, "permission", "show", perm.ID, "--as", "auth0|ops")
	require.Equal(t, perm.ID, shown.ID)
	objs := executeJSON[[]string](t, "permission", "objects", perm.ID, "--as", "auth0|ops")
	require.Empty(t, objs)

	self := executeJSON[auth.User](t, "user", "get", ops.ID, "--as", "auth0|ops")
	require.Equal(t, "auth0|ops", self.AuthID)

	_, err = execute(t, "role", "create", auth.DefaultUserRoleName("someone"), "--as", "auth0|ops")
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	for _, args := range [][]string{
		{"role", "revoke", ops.ID, role.ID},
		{"role", "remove-permission", role.ID, perm.ID},
		{"permission", "delete", perm.ID},
		{"role", "delete", role.ID},
	} {
		_, err := execute(t, append(args, "--as", "auth0|ops")...)
		require.NoError(t, err, args)
	}
	_, err = execute(t, "role", "show", role.ID, "--as", "auth0|ops")
	require.ErrorIs(t, err, auth.ErrAccessDenied)
}

func TestRoleCommandsActAsSubject(t *testing.T) {
	useSharedStore(t)

	org := executeJSON[auth.Organization](t, "org", "create", "Desert Sun")
	member := executeJSON[auth.User](t, "user", "create", "auth0|member")
	_, err := execute(t, "user", "add-to-org", member.ID, org.ID)
	require.NoError(t, err)

	_, err = execute(t, "role", "create", "Crew", "--as", "auth0|member")
	require.ErrorIs(t, err, auth.ErrAccessDenied)
	_, err = execute(t, "user", "delete", member.ID, "--as", "auth0|member")
	require.ErrorIs(t, err, auth.ErrAccessDenied)
}
