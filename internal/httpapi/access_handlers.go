package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"solarforecast.org/internal/auth"
)

type checkAccessRequest struct {
	ObjectID string `json:"object_id"`
	Action   string `json:"action"`
}

type checkCreateRequest struct {
	ObjectType     string `json:"object_type"`
	OrganizationID string `json:"organization_id"`
}

type createObjectRequest struct {
	ObjectType string         `json:"object_type"`
	Name       string         `json:"name"`
	ParentID   string         `json:"parent_id"`
	Attributes map[string]any `json:"attributes"`
}

type actionsResponse struct {
	ObjectID string        `json:"object_id"`
	Actions  []auth.Action `json:"actions"`
}

type objectsResponse struct {
	Objects []auth.Object `json:"objects"`
}

func (a *API) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req checkAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	action, err := auth.ParseAction(req.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ObjectID) == "" {
		writeError(w, r, http.StatusBadRequest, "object_id is required")
		return
	}
	d, err := a.svc.Decide(r.Context(), subject(r), req.ObjectID, action)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) checkCreate(w http.ResponseWriter, r *http.Request) {
	var req checkCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	objectType, err := auth.ParseObjectType(req.ObjectType)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}
	d, err := a.svc.DecideCreate(r.Context(), subject(r), objectType, req.OrganizationID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) allowedActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actions, err := a.svc.AllowedActions(r.Context(), subject(r), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionsResponse{ObjectID: id, Actions: actions})
}

func (a *API) createObject(w http.ResponseWriter, r *http.Request) {
	var req createObjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	objectType, err := auth.ParseObjectType(req.ObjectType)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	obj, err := a.svc.CreateObject(r.Context(), subject(r), auth.ObjectSpec{
		Type:       objectType,
		Name:       req.Name,
		ParentID:   req.ParentID,
		Attributes: req.Attributes,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/objects/%s", obj.ID))
	writeJSON(w, http.StatusCreated, obj)
}

func (a *API) getObject(w http.ResponseWriter, r *http.Request) {
	obj, err := a.svc.GetObject(r.Context(), subject(r), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (a *API) listObjects(w http.ResponseWriter, r *http.Request) {
	objectType, err := auth.ParseObjectType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	objs, err := a.svc.ListObjects(r.Context(), subject(r), objectType)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if objs == nil {
		objs = []auth.Object{}
	}
	writeJSON(w, http.StatusOK, objectsResponse{Objects: objs})
}

func (a *API) deleteObject(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteObject(r.Context(), subject(r), chi.URLParam(r, "id")); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthError maps engine errors to statuses. Access denial is reported
// as 404 so callers cannot tell a hidden object from a missing one.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var restrict *auth.RestrictError
	switch {
	case errors.As(err, &restrict):
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error":      restrict.Error(),
			"dependency": restrict.Dependency(),
		})
	case errors.Is(err, auth.ErrAccessDenied), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict), errors.Is(err, auth.ErrRestrict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrPrecondition), errors.Is(err, auth.ErrCrossOrganization):
		writeError(w, r, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, auth.ErrReferentialIntegrity):
		writeError(w, r, http.StatusFailedDependency, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "authorization service failed")
	}
}
