package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solarforecast.org/internal/ids"
	"solarforecast.org/internal/obs"
)

// Decide answers whether subject may perform action on objectID and reports
// which permission granted it. An unknown subject, an unknown object, or an
// action that does not apply to the object's type are all plain denials;
// only infrastructure failures are returned as errors.
func (s *Service) Decide(ctx context.Context, subject, objectID string, action Action) (Decision, error) {
	start := time.Now()
	var d Decision
	err := s.store.View(ctx, func(r Reader) error {
		u, err := resolveSubject(ctx, r, subject)
		if errors.Is(err, ErrNotFound) {
			d = Decision{Reason: "unknown subject"}
			return nil
		}
		if err != nil {
			return err
		}
		d, err = decideForUser(ctx, r, u, objectID, action)
		return err
	})
	obs.ObserveDecision(string(action), d.Allowed && err == nil, time.Since(start))
	if err != nil {
		return Decision{Reason: "error"}, err
	}
	return d, nil
}

// CanPerform is Decide reduced to a boolean. Errors are logged and deny.
func (s *Service) CanPerform(ctx context.Context, subject, objectID string, action Action) bool {
	d, err := s.Decide(ctx, subject, objectID, action)
	if err != nil {
		s.log.WithFields(logrus.Fields{"object_id": objectID, "action": action, "error": err}).Warn("authorization check failed")
		return false
	}
	return d.Allowed
}

// DecideCreate answers whether subject may create objects of objectType
// owned by orgID.
func (s *Service) DecideCreate(ctx context.Context, subject string, objectType ObjectType, orgID string) (Decision, error) {
	start := time.Now()
	var d Decision
	err := s.store.View(ctx, func(r Reader) error {
		u, err := resolveSubject(ctx, r, subject)
		if errors.Is(err, ErrNotFound) {
			d = Decision{Reason: "unknown subject"}
			return nil
		}
		if err != nil {
			return err
		}
		d, err = decideCreate(ctx, r, u, objectType, ids.Normalize(orgID))
		return err
	})
	obs.ObserveDecision(string(ActionCreate), d.Allowed && err == nil, time.Since(start))
	if err != nil {
		return Decision{Reason: "error"}, err
	}
	return d, nil
}

// CanCreate is DecideCreate reduced to a boolean. Errors are logged and deny.
func (s *Service) CanCreate(ctx context.Context, subject string, objectType ObjectType, orgID string) bool {
	d, err := s.DecideCreate(ctx, subject, objectType, orgID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"object_type": objectType, "organization_id": orgID, "error": err}).Warn("create check failed")
		return false
	}
	return d.Allowed
}

// AllowedActions lists the actions subject holds on objectID through the
// grant index. An object with no granted action is reported as access denied.
func (s *Service) AllowedActions(ctx context.Context, subject, objectID string) ([]Action, error) {
	var out []Action
	err := s.store.View(ctx, func(r Reader) error {
		u, err := s.actor(ctx, r, subject)
		if err != nil {
			return err
		}
		id := ids.Normalize(objectID)
		if id == "" {
			return ErrAccessDenied
		}
		out, err = r.GrantedActions(ctx, u.ID, id)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return ErrAccessDenied
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortActions(out), nil
}

func decideForUser(ctx context.Context, r Reader, u User, objectID string, action Action) (Decision, error) {
	d := Decision{UserID: u.ID}
	id := ids.Normalize(objectID)
	if id == "" {
		d.Reason = "malformed object id"
		return d, nil
	}
	if action == ActionCreate {
		// The object already exists; judge it as if it were being created
		// in its owning organization. A missing object and a denied one
		// must read the same.
		d.Reason = "no create grant on object"
		obj, err := r.GetObject(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return d, nil
		}
		if err != nil {
			return Decision{}, err
		}
		created, err := decideCreate(ctx, r, u, obj.Type, obj.OrganizationID)
		if err != nil || created.Allowed {
			return created, err
		}
		return d, nil
	}

	pid, ok, err := r.FindGrant(ctx, u.ID, action, id)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		d.Reason = fmt.Sprintf("no %s grant on object", action)
		return d, nil
	}
	d.Allowed = true
	d.PermissionID = pid
	d.Reason = "granted"
	return d, nil
}

func decideCreate(ctx context.Context, r Reader, u User, objectType ObjectType, orgID string) (Decision, error) {
	d := Decision{UserID: u.ID}
	if orgID == "" {
		d.Reason = "malformed organization id"
		return d, nil
	}
	perms, err := r.UserPermissions(ctx, u.ID, ActionCreate)
	if err != nil {
		return Decision{}, err
	}
	for _, p := range perms {
		if p.ObjectType == objectType && p.OrganizationID == orgID {
			d.Allowed = true
			d.PermissionID = p.ID
			d.Reason = "granted"
			return d, nil
		}
	}
	d.Reason = fmt.Sprintf("no create permission for %s in organization", objectType)
	return d, nil
}

// require fails with ErrAccessDenied unless u holds action on objectID.
func require(ctx context.Context, r Reader, u User, objectID string, action Action) error {
	start := time.Now()
	d, err := decideForUser(ctx, r, u, objectID, action)
	obs.ObserveDecision(string(action), d.Allowed && err == nil, time.Since(start))
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s", ErrAccessDenied, action)
	}
	return nil
}

func requireCreate(ctx context.Context, r Reader, u User, objectType ObjectType, orgID string) error {
	start := time.Now()
	d, err := decideCreate(ctx, r, u, objectType, orgID)
	obs.ObserveDecision(string(ActionCreate), d.Allowed && err == nil, time.Since(start))
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: create %s", ErrAccessDenied, objectType)
	}
	return nil
}

func sortActions(in []Action) []Action {
	out := make([]Action, 0, len(in))
	for _, a := range Actions {
		for _, got := range in {
			if got == a {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
