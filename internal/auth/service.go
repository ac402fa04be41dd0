package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"solarforecast.org/internal/ids"
	"solarforecast.org/internal/obs"
)

const (
	DefaultUnaffiliatedOrganization = "Unaffiliated"
	DefaultReferenceOrganization    = "Reference"

	maxOrganizationNameLength = 32
)

// Auditor receives one event per committed grant-affecting mutation.
type Auditor interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, map[string]any) {}

// Service is the authorization engine: decisions, grant index maintenance,
// default-grant provisioning and the lifecycle operations that feed them.
type Service struct {
	store   Store
	now     func() time.Time
	newID   func() string
	auditor Auditor
	log     logrus.FieldLogger

	unaffiliatedName string
	referenceName    string
	extraPrivileged  []string

	mu             sync.RWMutex
	unaffiliatedID string
	privileged     mapset.Set[string]
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIDGenerator overrides how new entity ids are minted.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.newID = fn
		}
		return nil
	}
}

// WithAuditor sends mutation events to a.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

// WithLogger overrides the logger used for swallowed decision errors.
func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithReservedOrganizations names the organization that holds new users and
// the shared reference organization. Both are created by Bootstrap.
func WithReservedOrganizations(unaffiliated, reference string) ServiceOption {
	return func(s *Service) error {
		unaffiliated = strings.TrimSpace(unaffiliated)
		reference = strings.TrimSpace(reference)
		if unaffiliated == "" || reference == "" || unaffiliated == reference {
			return fmt.Errorf("%w: reserved organization names must be distinct and non-empty", ErrInvalidInput)
		}
		s.unaffiliatedName = unaffiliated
		s.referenceName = reference
		return nil
	}
}

// WithPrivilegedOrganizations adds organizations whose roles survive a
// member's re-affiliation, on top of the two reserved ones.
func WithPrivilegedOrganizations(orgIDs ...string) ServiceOption {
	return func(s *Service) error {
		for _, id := range orgIDs {
			norm := ids.Normalize(id)
			if norm == "" {
				return fmt.Errorf("%w: privileged organization id %q", ErrInvalidInput, id)
			}
			s.extraPrivileged = append(s.extraPrivileged, norm)
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:            store,
		now:              time.Now,
		newID:            ids.New,
		auditor:          nopAuditor{},
		log:              obs.Logger(),
		unaffiliatedName: DefaultUnaffiliatedOrganization,
		referenceName:    DefaultReferenceOrganization,
		privileged:       mapset.NewThreadUnsafeSet[string](),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Bootstrap makes sure the reserved organizations exist and loads the
// privileged organization set. It must run before user lifecycle operations.
func (s *Service) Bootstrap(ctx context.Context) error {
	var unaffiliated, reference Organization
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		if unaffiliated, err = s.ensureOrganization(ctx, tx, s.unaffiliatedName, false); err != nil {
			return err
		}
		reference, err = s.ensureOrganization(ctx, tx, s.referenceName, true)
		return err
	})
	if err != nil {
		return fmt.Errorf("auth: bootstrap: %w", err)
	}

	set := mapset.NewThreadUnsafeSet(unaffiliated.ID, reference.ID)
	set.Append(s.extraPrivileged...)

	s.mu.Lock()
	s.unaffiliatedID = unaffiliated.ID
	s.privileged = set
	s.mu.Unlock()
	return nil
}

func (s *Service) ensureOrganization(ctx context.Context, tx Tx, name string, provision bool) (Organization, error) {
	org, err := tx.GetOrganizationByName(ctx, name)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Organization{}, err
	}
	org = Organization{ID: s.newID(), Name: name, CreatedAt: s.now().UTC()}
	if err := tx.InsertOrganization(ctx, org); err != nil {
		return Organization{}, err
	}
	if provision {
		if err := s.provisionOrganization(ctx, tx, org); err != nil {
			return Organization{}, err
		}
	}
	return org, nil
}

// UnaffiliatedOrganizationID returns the id of the organization new users join.
func (s *Service) UnaffiliatedOrganizationID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unaffiliatedID == "" {
		return "", fmt.Errorf("%w: service not bootstrapped", ErrPrecondition)
	}
	return s.unaffiliatedID, nil
}

// IsPrivileged reports whether orgID is one of the privileged organizations.
func (s *Service) IsPrivileged(orgID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.privileged.Contains(orgID)
}

// PrivilegedOrganizations returns the privileged organization ids.
func (s *Service) PrivilegedOrganizations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.privileged.ToSlice()
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) audit(ctx context.Context, event string, fields map[string]any) {
	s.auditor.Record(ctx, event, fields)
}

// actor resolves the acting subject inside a transaction. Unknown subjects
// are reported as access denied.
func (s *Service) actor(ctx context.Context, r Reader, subject string) (User, error) {
	u, err := resolveSubject(ctx, r, subject)
	if errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("%w: unknown subject", ErrAccessDenied)
	}
	return u, err
}

func resolveSubject(ctx context.Context, r Reader, subject string) (User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return User{}, ErrNotFound
	}
	return r.GetUserByAuthID(ctx, subject)
}

// visibleObject loads an object for an acting user, masking absence as
// access denied so callers cannot test for existence.
func visibleObject(ctx context.Context, r Reader, id string) (Object, error) {
	id = ids.Normalize(id)
	if id == "" {
		return Object{}, ErrAccessDenied
	}
	obj, err := r.GetObject(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Object{}, ErrAccessDenied
	}
	return obj, err
}

func normalizeID(field, raw string) (string, error) {
	id := ids.Normalize(raw)
	if id == "" {
		return "", fmt.Errorf("%w: %s must be an id", ErrInvalidInput, field)
	}
	return id, nil
}
