package auth

import (
	"context"

	"solarforecast.org/internal/obs"
)

// Grant index maintenance. Each hook runs inside the transaction of the
// mutation that triggers it; deletions need no hook because the store
// cascades index rows with the object or permission.

const (
	triggerPermissionCreated = "permission_created"
	triggerObjectCreated     = "object_created"
	triggerObjectMoved       = "object_moved"
)

// registerObject inserts the registry row for a new object and indexes it
// under every applies-to-all permission of its type and organization.
// Typed rows (roles, permissions, users) are written by their own inserts,
// which also write the registry row; pass typed=true for those.
func (s *Service) registerObject(ctx context.Context, tx Tx, o Object, typed bool) error {
	if !typed {
		if err := tx.InsertObject(ctx, o); err != nil {
			return err
		}
	}
	return s.onObjectCreated(ctx, tx, o)
}

func (s *Service) onObjectCreated(ctx context.Context, tx Tx, o Object) error {
	if err := tx.LockGrantIndex(ctx); err != nil {
		return err
	}
	n, err := tx.IndexObject(ctx, o.ID, o.Type, o.OrganizationID)
	if err != nil {
		return err
	}
	obs.AddGrantIndexRows(triggerObjectCreated, n)
	return nil
}

// onPermissionCreated fills the index for an applies-to-all permission.
// Create permissions never get rows: there is no target object yet.
func (s *Service) onPermissionCreated(ctx context.Context, tx Tx, p Permission) error {
	if !p.indexed() {
		return nil
	}
	if err := tx.LockGrantIndex(ctx); err != nil {
		return err
	}
	n, err := tx.IndexPermission(ctx, p.ID, p.ObjectType, p.OrganizationID)
	if err != nil {
		return err
	}
	obs.AddGrantIndexRows(triggerPermissionCreated, n)
	return nil
}

// onObjectMoved re-derives the index rows of an object whose owning
// organization changed. Rows from the old organization's permissions,
// explicit ones included, no longer satisfy the same-organization rule.
func (s *Service) onObjectMoved(ctx context.Context, tx Tx, o Object) error {
	if err := tx.LockGrantIndex(ctx); err != nil {
		return err
	}
	if _, err := tx.UnindexObject(ctx, o.ID); err != nil {
		return err
	}
	n, err := tx.IndexObject(ctx, o.ID, o.Type, o.OrganizationID)
	if err != nil {
		return err
	}
	obs.AddGrantIndexRows(triggerObjectMoved, n)
	return nil
}
