package auth

import (
	"context"
	"fmt"
	"strings"
)

// PermissionSpec describes a permission to create.
type PermissionSpec struct {
	Description  string
	Action       Action
	ObjectType   ObjectType
	AppliesToAll bool
}

// CreateRole creates a role in the subject's organization.
func (s *Service) CreateRole(ctx context.Context, subject, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if reservedRoleName(name) {
		return Role{}, fmt.Errorf("%w: role names starting with %q are reserved", ErrInvalidInput, strings.TrimSpace(defaultUserRolePrefix))
	}
	description = strings.TrimSpace(description)
	var role Role
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if err := requireCreate(ctx, tx, actor, TypeRoles, actor.OrganizationID); err != nil {
			return err
		}
		role, err = s.insertRole(ctx, tx, actor.OrganizationID, name, description)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.audit(ctx, "role.created", map[string]any{"role_id": role.ID, "organization_id": role.OrganizationID})
	return role, nil
}

// GetRole returns a role the subject may read.
func (s *Service) GetRole(ctx context.Context, subject, roleID string) (Role, error) {
	var role Role
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		obj, err := visibleObject(ctx, r, roleID)
		if err != nil {
			return err
		}
		if obj.Type != TypeRoles {
			return ErrAccessDenied
		}
		if err := require(ctx, r, actor, obj.ID, ActionRead); err != nil {
			return err
		}
		role, err = r.GetRole(ctx, obj.ID)
		return err
	})
	return role, err
}

// DeleteRole deletes a role with its memberships.
func (s *Service) DeleteRole(ctx context.Context, subject, roleID string) error {
	return s.deleteAs(ctx, subject, roleID, TypeRoles)
}

// AddRoleToUser grants a role to a user. A role of another organization may
// only be granted to users whose organization accepted the terms of use.
func (s *Service) AddRoleToUser(ctx context.Context, subject, userID, roleID string) error {
	var role Role
	var user User
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if role, err = typedRole(ctx, tx, roleID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, role.ID, ActionGrant); err != nil {
			return err
		}
		if user, err = targetUser(ctx, tx, userID); err != nil {
			return err
		}
		if user.OrganizationID != role.OrganizationID {
			org, err := tx.GetOrganization(ctx, user.OrganizationID)
			if err != nil {
				return err
			}
			if !org.AcceptedTermsOfUse {
				return fmt.Errorf("%w: user's organization has not accepted the terms of use", ErrPrecondition)
			}
		}
		added, err := tx.AddUserRole(ctx, user.ID, role.ID)
		if err != nil {
			return err
		}
		if !added {
			return fmt.Errorf("%w: user already has role", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "role.granted", map[string]any{"role_id": role.ID, "user_id": user.ID})
	return nil
}

// RemoveRoleFromUser revokes a role from a user.
func (s *Service) RemoveRoleFromUser(ctx context.Context, subject, userID, roleID string) error {
	var role Role
	var user User
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if role, err = typedRole(ctx, tx, roleID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, role.ID, ActionRevoke); err != nil {
			return err
		}
		if user, err = targetUser(ctx, tx, userID); err != nil {
			return err
		}
		removed, err := tx.RemoveUserRole(ctx, user.ID, role.ID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: user does not have role", ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "role.revoked", map[string]any{"role_id": role.ID, "user_id": user.ID})
	return nil
}

// CreatePermission creates a permission in the subject's organization.
// Permissions are immutable; replace one by creating its successor and
// deleting it.
func (s *Service) CreatePermission(ctx context.Context, subject string, spec PermissionSpec) (Permission, error) {
	action, err := ParseAction(string(spec.Action))
	if err != nil {
		return Permission{}, err
	}
	objectType, err := ParseObjectType(string(spec.ObjectType))
	if err != nil {
		return Permission{}, err
	}
	description := strings.TrimSpace(spec.Description)
	if description == "" {
		return Permission{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	var perm Permission
	err = s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if err := requireCreate(ctx, tx, actor, TypePermissions, actor.OrganizationID); err != nil {
			return err
		}
		perm, err = s.insertPermission(ctx, tx, Permission{
			OrganizationID: actor.OrganizationID,
			Description:    description,
			Action:         action,
			ObjectType:     objectType,
			AppliesToAll:   spec.AppliesToAll,
		})
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	s.audit(ctx, "permission.created", map[string]any{
		"permission_id": perm.ID, "organization_id": perm.OrganizationID,
		"action": perm.Action, "object_type": perm.ObjectType, "applies_to_all": perm.AppliesToAll,
	})
	return perm, nil
}

// GetPermission returns a permission the subject may read.
func (s *Service) GetPermission(ctx context.Context, subject, permissionID string) (Permission, error) {
	var perm Permission
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		if perm, err = typedPermission(ctx, r, permissionID); err != nil {
			return err
		}
		return require(ctx, r, actor, perm.ID, ActionRead)
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// PermissionObjects lists the object ids a readable permission grants.
func (s *Service) PermissionObjects(ctx context.Context, subject, permissionID string) ([]string, error) {
	var out []string
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		perm, err := typedPermission(ctx, r, permissionID)
		if err != nil {
			return err
		}
		if err := require(ctx, r, actor, perm.ID, ActionRead); err != nil {
			return err
		}
		out, err = r.ListPermissionObjects(ctx, perm.ID)
		return err
	})
	return out, err
}

// DeletePermission deletes a permission with its role memberships and
// grant index rows.
func (s *Service) DeletePermission(ctx context.Context, subject, permissionID string) error {
	return s.deleteAs(ctx, subject, permissionID, TypePermissions)
}

// AddPermissionToRole adds a permission of the role's organization to the role.
func (s *Service) AddPermissionToRole(ctx context.Context, subject, roleID, permissionID string) error {
	var role Role
	var perm Permission
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if role, err = typedRole(ctx, tx, roleID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, role.ID, ActionUpdate); err != nil {
			return err
		}
		if perm, err = typedPermission(ctx, tx, permissionID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, perm.ID, ActionRead); err != nil {
			return err
		}
		if perm.OrganizationID != role.OrganizationID {
			return fmt.Errorf("%w: permission and role belong to different organizations", ErrCrossOrganization)
		}
		added, err := tx.AddRolePermission(ctx, role.ID, perm.ID)
		if err != nil {
			return err
		}
		if !added {
			return fmt.Errorf("%w: role already has permission", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "role.permission_added", map[string]any{"role_id": role.ID, "permission_id": perm.ID})
	return nil
}

// RemovePermissionFromRole removes a permission from a role.
func (s *Service) RemovePermissionFromRole(ctx context.Context, subject, roleID, permissionID string) error {
	var role Role
	var perm Permission
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if role, err = typedRole(ctx, tx, roleID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, role.ID, ActionUpdate); err != nil {
			return err
		}
		if perm, err = typedPermission(ctx, tx, permissionID); err != nil {
			return err
		}
		removed, err := tx.RemoveRolePermission(ctx, role.ID, perm.ID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: role does not have permission", ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "role.permission_removed", map[string]any{"role_id": role.ID, "permission_id": perm.ID})
	return nil
}

// AddObjectToPermission explicitly grants a permission on one object. The
// object must have the permission's type and organization. Applies-to-all
// permissions already cover every such object and cannot be edited.
func (s *Service) AddObjectToPermission(ctx context.Context, subject, permissionID, objectID string) error {
	var perm Permission
	var obj Object
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if perm, err = typedPermission(ctx, tx, permissionID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, perm.ID, ActionUpdate); err != nil {
			return err
		}
		if obj, err = visibleObject(ctx, tx, objectID); err != nil {
			return err
		}
		if err := checkExplicitEdit(perm, obj); err != nil {
			return err
		}
		added, err := tx.AddPermissionObject(ctx, perm.ID, obj.ID)
		if err != nil {
			return err
		}
		if !added {
			return fmt.Errorf("%w: permission already applies to object", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "permission.object_added", map[string]any{"permission_id": perm.ID, "object_id": obj.ID})
	return nil
}

// RemoveObjectFromPermission withdraws an explicit grant on one object.
func (s *Service) RemoveObjectFromPermission(ctx context.Context, subject, permissionID, objectID string) error {
	var perm Permission
	var obj Object
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if perm, err = typedPermission(ctx, tx, permissionID); err != nil {
			return err
		}
		if err := require(ctx, tx, actor, perm.ID, ActionUpdate); err != nil {
			return err
		}
		if obj, err = visibleObject(ctx, tx, objectID); err != nil {
			return err
		}
		if err := checkExplicitEdit(perm, obj); err != nil {
			return err
		}
		removed, err := tx.RemovePermissionObject(ctx, perm.ID, obj.ID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: permission does not apply to object", ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "permission.object_removed", map[string]any{"permission_id": perm.ID, "object_id": obj.ID})
	return nil
}

func checkExplicitEdit(perm Permission, obj Object) error {
	switch {
	case perm.Action == ActionCreate:
		return fmt.Errorf("%w: create permissions do not target objects", ErrInvalidInput)
	case obj.Type != perm.ObjectType:
		return fmt.Errorf("%w: permission applies to %s, object is %s", ErrInvalidInput, perm.ObjectType, obj.Type)
	case obj.OrganizationID != perm.OrganizationID:
		return fmt.Errorf("%w: object and permission belong to different organizations", ErrCrossOrganization)
	case perm.AppliesToAll:
		return fmt.Errorf("%w: permission applies to all %s", ErrPrecondition, perm.ObjectType)
	}
	return nil
}

func typedRole(ctx context.Context, r Reader, id string) (Role, error) {
	obj, err := visibleObject(ctx, r, id)
	if err != nil {
		return Role{}, err
	}
	if obj.Type != TypeRoles {
		return Role{}, ErrAccessDenied
	}
	return r.GetRole(ctx, obj.ID)
}

func typedPermission(ctx context.Context, r Reader, id string) (Permission, error) {
	obj, err := visibleObject(ctx, r, id)
	if err != nil {
		return Permission{}, err
	}
	if obj.Type != TypePermissions {
		return Permission{}, ErrAccessDenied
	}
	return r.GetPermission(ctx, obj.ID)
}

func targetUser(ctx context.Context, r Reader, id string) (User, error) {
	obj, err := visibleObject(ctx, r, id)
	if err != nil {
		return User{}, err
	}
	if obj.Type != TypeUsers {
		return User{}, ErrAccessDenied
	}
	return r.GetUser(ctx, obj.ID)
}
