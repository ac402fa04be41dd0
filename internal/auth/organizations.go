package auth

import (
	"context"
	"fmt"
)

// GetOrganization returns an organization by id.
func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id, err := normalizeID("organization_id", id)
	if err != nil {
		return Organization{}, err
	}
	var org Organization
	err = s.store.View(ctx, func(r Reader) error {
		org, err = r.GetOrganization(ctx, id)
		return err
	})
	return org, err
}

// GetOrganizationByName returns an organization by its unique name.
func (s *Service) GetOrganizationByName(ctx context.Context, name string) (Organization, error) {
	var org Organization
	err := s.store.View(ctx, func(r Reader) error {
		var err error
		org, err = r.GetOrganizationByName(ctx, name)
		return err
	})
	return org, err
}

// ListOrganizations returns every organization ordered by name.
func (s *Service) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var out []Organization
	err := s.store.View(ctx, func(r Reader) error {
		var err error
		out, err = r.ListOrganizations(ctx)
		return err
	})
	return out, err
}

// SetTermsOfUse records whether an organization accepted the terms of use.
func (s *Service) SetTermsOfUse(ctx context.Context, orgID string, accepted bool) error {
	orgID, err := normalizeID("organization_id", orgID)
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, func(tx Tx) error {
		return tx.SetTermsOfUse(ctx, orgID, accepted)
	}); err != nil {
		return err
	}
	s.audit(ctx, "organization.terms_of_use", map[string]any{"organization_id": orgID, "accepted": accepted})
	return nil
}

// DeleteOrganization removes an organization with its users, roles,
// permissions and objects. The privileged organizations cannot be deleted.
func (s *Service) DeleteOrganization(ctx context.Context, orgID string) error {
	orgID, err := normalizeID("organization_id", orgID)
	if err != nil {
		return err
	}
	if s.IsPrivileged(orgID) {
		return fmt.Errorf("%w: privileged organization cannot be deleted", ErrPrecondition)
	}
	if err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return err
		}
		return tx.DeleteOrganization(ctx, orgID)
	}); err != nil {
		return err
	}
	s.audit(ctx, "organization.deleted", map[string]any{"organization_id": orgID})
	return nil
}
