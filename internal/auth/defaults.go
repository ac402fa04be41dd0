package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Names of the roles every organization is provisioned with.
const (
	RoleReadAll        = "Read all"
	RoleWriteAllValues = "Write all values"
	RoleCreateMetadata = "Create metadata"
	RoleDeleteMetadata = "Delete metadata"
	RoleAdminAccess    = "Administer data access controls"
)

type grantRule struct {
	action     Action
	objectType ObjectType
}

type roleTemplate struct {
	name        string
	description string
	rules       []grantRule
}

func rules(action Action, types ...ObjectType) []grantRule {
	out := make([]grantRule, 0, len(types))
	for _, t := range types {
		out = append(out, grantRule{action: action, objectType: t})
	}
	return out
}

func concat(groups ...[]grantRule) []grantRule {
	var out []grantRule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var valueTypes = []ObjectType{TypeObservations, TypeForecasts, TypeCDFForecasts, TypeAggregates, TypeReports}

// defaultRoles is the starter catalog created with every organization. All
// permissions apply to every object of their type in the organization.
var defaultRoles = []roleTemplate{
	{
		name:        RoleReadAll,
		description: "View all data and metadata",
		rules:       concat(rules(ActionRead, DataTypes...), rules(ActionReadValues, valueTypes...)),
	},
	{
		name:        RoleWriteAllValues,
		description: "Upload values to any forecast, observation, aggregate or report",
		rules:       rules(ActionWriteValues, TypeForecasts, TypeObservations, TypeCDFForecasts, TypeAggregates, TypeReports),
	},
	{
		name:        RoleCreateMetadata,
		description: "Create new sites, forecasts, observations, aggregates and reports",
		rules:       rules(ActionCreate, DataTypes...),
	},
	{
		name:        RoleDeleteMetadata,
		description: "Delete sites, forecasts, observations, aggregates and reports",
		rules:       rules(ActionDelete, DataTypes...),
	},
	{
		name:        RoleAdminAccess,
		description: "Manage the organization's roles, permissions and users",
		rules: concat(
			rules(ActionCreate, TypeRoles), rules(ActionRead, TypeRoles),
			rules(ActionUpdate, TypeRoles), rules(ActionDelete, TypeRoles),
			rules(ActionGrant, TypeRoles), rules(ActionRevoke, TypeRoles),
			rules(ActionCreate, TypePermissions), rules(ActionRead, TypePermissions),
			rules(ActionUpdate, TypePermissions), rules(ActionDelete, TypePermissions),
			rules(ActionRead, TypeUsers),
		),
	},
}

// DefaultRoleNames lists the provisioned role names in creation order.
func DefaultRoleNames() []string {
	out := make([]string, 0, len(defaultRoles))
	for _, t := range defaultRoles {
		out = append(out, t.name)
	}
	return out
}

// defaultUserRolePrefix is reserved: only the provisioner names roles with it.
const defaultUserRolePrefix = "DEFAULT User role "

// DefaultUserRoleName names the per-user role that lets a user read itself.
func DefaultUserRoleName(userID string) string {
	return defaultUserRolePrefix + userID
}

func reservedRoleName(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), strings.ToLower(defaultUserRolePrefix))
}

// CreateOrganization creates an organization together with its default
// roles and their permissions in one transaction.
func (s *Service) CreateOrganization(ctx context.Context, name string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxOrganizationNameLength {
		return Organization{}, fmt.Errorf("%w: organization name longer than %d characters", ErrInvalidInput, maxOrganizationNameLength)
	}
	org := Organization{ID: s.newID(), Name: name, CreatedAt: s.now().UTC()}
	err := s.store.Update(ctx, func(tx Tx) error {
		if err := tx.InsertOrganization(ctx, org); err != nil {
			return err
		}
		return s.provisionOrganization(ctx, tx, org)
	})
	if err != nil {
		return Organization{}, err
	}
	s.audit(ctx, "organization.created", map[string]any{"organization_id": org.ID, "name": org.Name})
	return org, nil
}

func (s *Service) provisionOrganization(ctx context.Context, tx Tx, org Organization) error {
	for _, tmpl := range defaultRoles {
		role, err := s.insertRole(ctx, tx, org.ID, tmpl.name, tmpl.description)
		if err != nil {
			return fmt.Errorf("provision %q: %w", tmpl.name, err)
		}
		for _, rule := range tmpl.rules {
			p, err := s.insertPermission(ctx, tx, Permission{
				OrganizationID: org.ID,
				Description:    fmt.Sprintf("%s: %s %s", tmpl.name, rule.action, rule.objectType),
				Action:         rule.action,
				ObjectType:     rule.objectType,
				AppliesToAll:   true,
			})
			if err != nil {
				return fmt.Errorf("provision %q: %w", tmpl.name, err)
			}
			if _, err := tx.AddRolePermission(ctx, role.ID, p.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) insertRole(ctx context.Context, tx Tx, orgID, name, description string) (Role, error) {
	role := Role{
		ID:             s.newID(),
		OrganizationID: orgID,
		Name:           name,
		Description:    description,
		CreatedAt:      s.now().UTC(),
	}
	if err := tx.InsertRole(ctx, role); err != nil {
		return Role{}, err
	}
	obj := Object{ID: role.ID, Type: TypeRoles, OrganizationID: orgID, Name: name, CreatedAt: role.CreatedAt}
	if err := s.registerObject(ctx, tx, obj, true); err != nil {
		return Role{}, err
	}
	return role, nil
}

func (s *Service) insertPermission(ctx context.Context, tx Tx, p Permission) (Permission, error) {
	p.ID = s.newID()
	p.CreatedAt = s.now().UTC()
	if err := tx.InsertPermission(ctx, p); err != nil {
		return Permission{}, err
	}
	obj := Object{ID: p.ID, Type: TypePermissions, OrganizationID: p.OrganizationID, Name: p.Description, CreatedAt: p.CreatedAt}
	// A permission is itself an object: index it first so an applies-to-all
	// permission on permissions also covers itself.
	if err := s.registerObject(ctx, tx, obj, true); err != nil {
		return Permission{}, err
	}
	if err := s.onPermissionCreated(ctx, tx, p); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// createDefaultUserRole gives u a role in its current organization that can
// read the user, the role itself and the role's permissions.
func (s *Service) createDefaultUserRole(ctx context.Context, tx Tx, u User) error {
	role, err := s.insertRole(ctx, tx, u.OrganizationID, DefaultUserRoleName(u.ID), "Default role for user "+u.ID)
	if err != nil {
		return err
	}
	targets := []struct {
		objectType ObjectType
		objectID   string
		what       string
	}{
		{TypeUsers, u.ID, "self"},
		{TypeRoles, role.ID, "default role"},
	}
	var permIDs []string
	for _, t := range targets {
		p, err := s.insertPermission(ctx, tx, Permission{
			OrganizationID: u.OrganizationID,
			Description:    fmt.Sprintf("DEFAULT Read %s for user %s", t.what, u.ID),
			Action:         ActionRead,
			ObjectType:     t.objectType,
		})
		if err != nil {
			return err
		}
		if _, err := tx.AddPermissionObject(ctx, p.ID, t.objectID); err != nil {
			return err
		}
		permIDs = append(permIDs, p.ID)
	}
	readPerms, err := s.insertPermission(ctx, tx, Permission{
		OrganizationID: u.OrganizationID,
		Description:    "DEFAULT Read role permissions for user " + u.ID,
		Action:         ActionRead,
		ObjectType:     TypePermissions,
	})
	if err != nil {
		return err
	}
	permIDs = append(permIDs, readPerms.ID)
	for _, id := range permIDs {
		if _, err := tx.AddPermissionObject(ctx, readPerms.ID, id); err != nil {
			return err
		}
		if _, err := tx.AddRolePermission(ctx, role.ID, id); err != nil {
			return err
		}
	}
	_, err = tx.AddUserRole(ctx, u.ID, role.ID)
	return err
}

// dropDefaultUserRole deletes u's default role and the permissions it holds.
// A missing role is not an error.
func (s *Service) dropDefaultUserRole(ctx context.Context, tx Tx, u User) error {
	role, err := tx.GetRoleByName(ctx, u.OrganizationID, DefaultUserRoleName(u.ID))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	perms, err := tx.ListRolePermissions(ctx, role.ID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if err := tx.DeleteObject(ctx, p.ID); err != nil {
			return err
		}
	}
	return tx.DeleteObject(ctx, role.ID)
}

// reaffiliate moves u into orgID: memberships in roles of the previous
// organization are revoked unless it is privileged, the user's index rows
// are re-derived, and the default user role is recreated in orgID.
func (s *Service) reaffiliate(ctx context.Context, tx Tx, u User, orgID string) (User, error) {
	prev := u.OrganizationID
	if err := s.dropDefaultUserRole(ctx, tx, u); err != nil {
		return User{}, err
	}
	if !s.IsPrivileged(prev) {
		held, err := tx.ListUserRoles(ctx, u.ID)
		if err != nil {
			return User{}, err
		}
		for _, r := range held {
			if r.OrganizationID != prev {
				continue
			}
			if _, err := tx.RemoveUserRole(ctx, u.ID, r.ID); err != nil {
				return User{}, err
			}
		}
	}
	if err := tx.SetUserOrganization(ctx, u.ID, orgID); err != nil {
		return User{}, err
	}
	u.OrganizationID = orgID
	obj, err := tx.GetObject(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	if err := s.onObjectMoved(ctx, tx, obj); err != nil {
		return User{}, err
	}
	if err := s.createDefaultUserRole(ctx, tx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// AddUserToOrg moves an unaffiliated user into orgID. Calling it again for
// a user already in orgID changes nothing.
func (s *Service) AddUserToOrg(ctx context.Context, userID, orgID string) (User, error) {
	userID, err := normalizeID("user_id", userID)
	if err != nil {
		return User{}, err
	}
	if orgID, err = normalizeID("organization_id", orgID); err != nil {
		return User{}, err
	}
	unaffiliated, err := s.UnaffiliatedOrganizationID()
	if err != nil {
		return User{}, err
	}
	var out User
	changed := false
	err = s.store.Update(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return err
		}
		if u.OrganizationID == orgID {
			out = u
			return nil
		}
		if u.OrganizationID != unaffiliated {
			return fmt.Errorf("%w: user already belongs to an organization", ErrPrecondition)
		}
		out, err = s.reaffiliate(ctx, tx, u, orgID)
		changed = err == nil
		return err
	})
	if err != nil {
		return User{}, err
	}
	if changed {
		s.audit(ctx, "user.affiliated", map[string]any{"user_id": out.ID, "organization_id": orgID})
	}
	return out, nil
}

// MoveUserToUnaffiliated returns a user to the unaffiliated organization.
func (s *Service) MoveUserToUnaffiliated(ctx context.Context, userID string) (User, error) {
	userID, err := normalizeID("user_id", userID)
	if err != nil {
		return User{}, err
	}
	unaffiliated, err := s.UnaffiliatedOrganizationID()
	if err != nil {
		return User{}, err
	}
	var out User
	var prev string
	err = s.store.Update(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.OrganizationID == unaffiliated {
			return fmt.Errorf("%w: user is already unaffiliated", ErrPrecondition)
		}
		prev = u.OrganizationID
		out, err = s.reaffiliate(ctx, tx, u, unaffiliated)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.audit(ctx, "user.unaffiliated", map[string]any{"user_id": out.ID, "previous_organization_id": prev})
	return out, nil
}

// PromoteUserToOrgAdmin grants every default role of orgID to a member of
// orgID. Nothing is granted unless all default roles exist.
func (s *Service) PromoteUserToOrgAdmin(ctx context.Context, userID, orgID string) error {
	userID, err := normalizeID("user_id", userID)
	if err != nil {
		return err
	}
	if orgID, err = normalizeID("organization_id", orgID); err != nil {
		return err
	}
	var granted []string
	err = s.store.Update(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return err
		}
		if u.OrganizationID != orgID {
			return fmt.Errorf("%w: user is not a member of the organization", ErrPrecondition)
		}
		roles := make([]Role, 0, len(defaultRoles))
		for _, tmpl := range defaultRoles {
			r, err := tx.GetRoleByName(ctx, orgID, tmpl.name)
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: organization has no %q role", ErrReferentialIntegrity, tmpl.name)
			}
			if err != nil {
				return err
			}
			roles = append(roles, r)
		}
		for _, r := range roles {
			added, err := tx.AddUserRole(ctx, u.ID, r.ID)
			if err != nil {
				return err
			}
			if added {
				granted = append(granted, r.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "user.promoted", map[string]any{"user_id": userID, "organization_id": orgID, "role_ids": granted})
	return nil
}
