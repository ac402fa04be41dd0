package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// CreateObject registers a data object owned by the subject's organization.
// The subject needs a create permission for the type in its organization
// and read access to the parent the object depends on.
func (s *Service) CreateObject(ctx context.Context, subject string, spec ObjectSpec) (Object, error) {
	if !slices.Contains(DataTypes, spec.Type) {
		return Object{}, fmt.Errorf("%w: %q is not a data object type", ErrInvalidInput, spec.Type)
	}
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return Object{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	allowedParents, needsParent := parentTypes[spec.Type]
	spec.ParentID = strings.TrimSpace(spec.ParentID)
	switch {
	case needsParent && spec.ParentID == "":
		return Object{}, fmt.Errorf("%w: %s require a parent", ErrInvalidInput, spec.Type)
	case !needsParent && spec.ParentID != "":
		return Object{}, fmt.Errorf("%w: %s have no parent", ErrInvalidInput, spec.Type)
	}

	var obj Object
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if err := requireCreate(ctx, tx, actor, spec.Type, actor.OrganizationID); err != nil {
			return err
		}
		parentID := ""
		if needsParent {
			parent, err := visibleObject(ctx, tx, spec.ParentID)
			if err != nil {
				return err
			}
			if err := require(ctx, tx, actor, parent.ID, ActionRead); err != nil {
				return err
			}
			if !slices.Contains(allowedParents, parent.Type) {
				return fmt.Errorf("%w: %s cannot depend on %s", ErrInvalidInput, spec.Type, parent.Type)
			}
			parentID = parent.ID
		}
		obj = Object{
			ID:             s.newID(),
			Type:           spec.Type,
			OrganizationID: actor.OrganizationID,
			Name:           spec.Name,
			ParentID:       parentID,
			Attributes:     spec.Attributes,
			CreatedAt:      s.now().UTC(),
		}
		return s.registerObject(ctx, tx, obj, false)
	})
	if err != nil {
		return Object{}, err
	}
	s.audit(ctx, "object.created", map[string]any{"object_id": obj.ID, "object_type": obj.Type, "organization_id": obj.OrganizationID})
	return obj, nil
}

// GetObject returns an object the subject may read.
func (s *Service) GetObject(ctx context.Context, subject, objectID string) (Object, error) {
	var obj Object
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		if obj, err = visibleObject(ctx, r, objectID); err != nil {
			return err
		}
		return require(ctx, r, actor, obj.ID, ActionRead)
	})
	if err != nil {
		return Object{}, err
	}
	return obj, nil
}

// ListObjects returns the objects of a type the subject may read, across
// organizations.
func (s *Service) ListObjects(ctx context.Context, subject string, objectType ObjectType) ([]Object, error) {
	if !slices.Contains(ObjectTypes, objectType) {
		return nil, fmt.Errorf("%w: unknown object type %q", ErrInvalidInput, objectType)
	}
	var out []Object
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		out, err = r.GrantedObjects(ctx, actor.ID, ActionRead, objectType)
		return err
	})
	return out, err
}

// DeleteObject deletes any object the subject may delete. Objects still
// referenced by dependents are refused with a *RestrictError.
func (s *Service) DeleteObject(ctx context.Context, subject, objectID string) error {
	return s.deleteAs(ctx, subject, objectID, "")
}

// deleteAs deletes objectID on behalf of subject. A non-empty want restricts
// the object type; a mismatch is masked as access denied.
func (s *Service) deleteAs(ctx context.Context, subject, objectID string, want ObjectType) error {
	var obj Object
	err := s.store.Update(ctx, func(tx Tx) error {
		actor, err := s.actor(ctx, tx, subject)
		if err != nil {
			return err
		}
		if obj, err = visibleObject(ctx, tx, objectID); err != nil {
			return err
		}
		if want != "" && obj.Type != want {
			return ErrAccessDenied
		}
		if err := require(ctx, tx, actor, obj.ID, ActionDelete); err != nil {
			return err
		}
		deps, err := tx.CountDependents(ctx, obj.ID)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			return &RestrictError{ObjectID: obj.ID, ObjectType: obj.Type, Dependents: deps}
		}
		if obj.Type == TypeUsers {
			u, err := tx.GetUser(ctx, obj.ID)
			if err != nil {
				return err
			}
			if err := s.dropDefaultUserRole(ctx, tx, u); err != nil {
				return err
			}
		}
		return tx.DeleteObject(ctx, obj.ID)
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "object.deleted", map[string]any{"object_id": obj.ID, "object_type": obj.Type, "organization_id": obj.OrganizationID})
	return nil
}
