package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/obs"
)

const serviceName = "sfa-access"

// Authorizer is the slice of auth.Service the HTTP surface calls.
type Authorizer interface {
	Decide(ctx context.Context, subject, objectID string, action auth.Action) (auth.Decision, error)
	DecideCreate(ctx context.Context, subject string, objectType auth.ObjectType, orgID string) (auth.Decision, error)
	AllowedActions(ctx context.Context, subject, objectID string) ([]auth.Action, error)
	CreateObject(ctx context.Context, subject string, spec auth.ObjectSpec) (auth.Object, error)
	GetObject(ctx context.Context, subject, objectID string) (auth.Object, error)
	ListObjects(ctx context.Context, subject string, objectType auth.ObjectType) ([]auth.Object, error)
	DeleteObject(ctx context.Context, subject, objectID string) error

	CreateRole(ctx context.Context, subject, name, description string) (auth.Role, error)
	GetRole(ctx context.Context, subject, roleID string) (auth.Role, error)
	DeleteRole(ctx context.Context, subject, roleID string) error
	AddPermissionToRole(ctx context.Context, subject, roleID, permissionID string) error
	RemovePermissionFromRole(ctx context.Context, subject, roleID, permissionID string) error

	CreatePermission(ctx context.Context, subject string, spec auth.PermissionSpec) (auth.Permission, error)
	GetPermission(ctx context.Context, subject, permissionID string) (auth.Permission, error)
	DeletePermission(ctx context.Context, subject, permissionID string) error
	PermissionObjects(ctx context.Context, subject, permissionID string) ([]string, error)
	AddObjectToPermission(ctx context.Context, subject, permissionID, objectID string) error
	RemoveObjectFromPermission(ctx context.Context, subject, permissionID, objectID string) error

	GetUser(ctx context.Context, subject, userID string) (auth.User, error)
	UserRoles(ctx context.Context, subject, userID string) ([]auth.Role, error)
	DeleteUser(ctx context.Context, subject, userID string) error
	AddRoleToUser(ctx context.Context, subject, userID, roleID string) error
	RemoveRoleFromUser(ctx context.Context, subject, userID, roleID string) error
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is anything whose reachability gates readiness, usually the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck checks that the backing store answers.
type ReadinessCheck struct {
	Store Pinger
}

func (rc ReadinessCheck) Check(ctx context.Context) error {
	if rc.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rc.Store.Ping(ctx)
}

// API is the HTTP layer.
type API struct {
	svc         Authorizer
	tokens      *auth.TokenVerifier
	readiness   readinessChecker
	version     string
	ratePerSec  float64
	rateBurst   int
	corsOrigins []string
}

// Option configures API.
type Option func(*API)

// WithRateLimit limits each client address to perSecond requests with the
// given burst. A zero rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithCORSOrigins enables CORS for the listed origins.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) {
		a.corsOrigins = append([]string(nil), origins...)
	}
}

// New builds the API. tokens may be nil only when no protected route is
// expected to succeed, as in health-only deployments.
func New(svc Authorizer, tokens *auth.TokenVerifier, ready readinessChecker, version string, opts ...Option) *API {
	a := &API{
		svc:        svc,
		tokens:     tokens,
		readiness:  ready,
		version:    version,
		ratePerSec: 50,
		rateBurst:  100,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed and instrumented handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(obs.Instrument)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	if len(a.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader, "Location"},
			MaxAge:         600,
		}))
	}
	if a.ratePerSec > 0 {
		r.Use(func(next http.Handler) http.Handler {
			return RateLimit(next, a.rateBurst, a.ratePerSec)
		})
	}

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Post("/v1/access/check", a.checkAccess)
		r.Post("/v1/access/check-create", a.checkCreate)
		r.Get("/v1/objects", a.listObjects)
		r.Post("/v1/objects", a.createObject)
		r.Get("/v1/objects/{id}", a.getObject)
		r.Delete("/v1/objects/{id}", a.deleteObject)
		r.Get("/v1/objects/{id}/actions", a.allowedActions)

		r.Route("/v1/roles", func(r chi.Router) {
			r.Post("/", a.createRole)
			r.Get("/{id}", a.getRole)
			r.Delete("/{id}", a.deleteRole)
			r.Put("/{id}/permissions/{permissionID}", a.addRolePermission)
			r.Delete("/{id}/permissions/{permissionID}", a.removeRolePermission)
		})
		r.Route("/v1/permissions", func(r chi.Router) {
			r.Post("/", a.createPermission)
			r.Get("/{id}", a.getPermission)
			r.Delete("/{id}", a.deletePermission)
			r.Get("/{id}/objects", a.permissionObjects)
			r.Put("/{id}/objects/{objectID}", a.addPermissionObject)
			r.Delete("/{id}/objects/{objectID}", a.removePermissionObject)
		})
		r.Route("/v1/users/{id}", func(r chi.Router) {
			r.Get("/", a.getUser)
			r.Delete("/", a.deleteUser)
			r.Get("/roles", a.userRoles)
			r.Put("/roles/{roleID}", a.addUserRole)
			r.Delete("/roles/{roleID}", a.removeUserRole)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readiness != nil {
		if err := a.readiness.Check(r.Context()); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
