package auth

import (
	"context"
	"fmt"
	"strings"
)

// CreateUser registers an identity-provider subject as a new user of the
// unaffiliated organization and gives it the default user role.
func (s *Service) CreateUser(ctx context.Context, authID string) (User, error) {
	authID = strings.TrimSpace(authID)
	if authID == "" {
		return User{}, fmt.Errorf("%w: auth_id is required", ErrInvalidInput)
	}
	unaffiliated, err := s.UnaffiliatedOrganizationID()
	if err != nil {
		return User{}, err
	}
	u := User{ID: s.newID(), AuthID: authID, OrganizationID: unaffiliated, CreatedAt: s.now().UTC()}
	err = s.store.Update(ctx, func(tx Tx) error {
		if err := tx.InsertUser(ctx, u); err != nil {
			return err
		}
		obj := Object{ID: u.ID, Type: TypeUsers, OrganizationID: u.OrganizationID, Name: u.AuthID, CreatedAt: u.CreatedAt}
		if err := s.registerObject(ctx, tx, obj, true); err != nil {
			return err
		}
		return s.createDefaultUserRole(ctx, tx, u)
	})
	if err != nil {
		return User{}, err
	}
	s.audit(ctx, "user.created", map[string]any{"user_id": u.ID})
	return u, nil
}

// GetUserByAuthID resolves an identity-provider subject.
func (s *Service) GetUserByAuthID(ctx context.Context, authID string) (User, error) {
	var u User
	err := s.store.View(ctx, func(r Reader) error {
		var err error
		u, err = resolveSubject(ctx, r, authID)
		return err
	})
	return u, err
}

// GetUser returns a user the subject may read.
func (s *Service) GetUser(ctx context.Context, subject, userID string) (User, error) {
	var u User
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		obj, err := visibleObject(ctx, r, userID)
		if err != nil {
			return err
		}
		if obj.Type != TypeUsers {
			return ErrAccessDenied
		}
		if err := require(ctx, r, actor, obj.ID, ActionRead); err != nil {
			return err
		}
		u, err = r.GetUser(ctx, obj.ID)
		return err
	})
	return u, err
}

// UserRoles lists the roles held by a user the subject may read.
func (s *Service) UserRoles(ctx context.Context, subject, userID string) ([]Role, error) {
	var out []Role
	err := s.store.View(ctx, func(r Reader) error {
		actor, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		obj, err := visibleObject(ctx, r, userID)
		if err != nil {
			return err
		}
		if obj.Type != TypeUsers {
			return ErrAccessDenied
		}
		if err := require(ctx, r, actor, obj.ID, ActionRead); err != nil {
			return err
		}
		out, err = r.ListUserRoles(ctx, obj.ID)
		return err
	})
	return out, err
}

// DeleteUser removes a user, its role memberships and its default role.
func (s *Service) DeleteUser(ctx context.Context, subject, userID string) error {
	return s.deleteAs(ctx, subject, userID, TypeUsers)
}
