package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"solarforecast.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Description  string `json:"description"`
	Action       string `json:"action"`
	ObjectType   string `json:"object_type"`
	AppliesToAll bool   `json:"applies_to_all"`
}

type permissionObjectsResponse struct {
	PermissionID string   `json:"permission_id"`
	Objects      []string `json:"objects"`
}

type userRolesResponse struct {
	UserID string      `json:"user_id"`
	Roles  []auth.Role `json:"roles"`
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.svc.CreateRole(r.Context(), subject(r), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.svc.GetRole(r.Context(), subject(r), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	a.noContent(w, r, a.svc.DeleteRole(r.Context(), subject(r), chi.URLParam(r, "id")))
}

func (a *API) addRolePermission(w http.ResponseWriter, r *http.Request) {
	err := a.svc.AddPermissionToRole(r.Context(), subject(r), chi.URLParam(r, "id"), chi.URLParam(r, "permissionID"))
	a.noContent(w, r, err)
}

func (a *API) removeRolePermission(w http.ResponseWriter, r *http.Request) {
	err := a.svc.RemovePermissionFromRole(r.Context(), subject(r), chi.URLParam(r, "id"), chi.URLParam(r, "permissionID"))
	a.noContent(w, r, err)
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.svc.CreatePermission(r.Context(), subject(r), auth.PermissionSpec{
		Description:  req.Description,
		Action:       auth.Action(req.Action),
		ObjectType:   auth.ObjectType(req.ObjectType),
		AppliesToAll: req.AppliesToAll,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) getPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := a.svc.GetPermission(r.Context(), subject(r), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	a.noContent(w, r, a.svc.DeletePermission(r.Context(), subject(r), chi.URLParam(r, "id")))
}

func (a *API) permissionObjects(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	objs, err := a.svc.PermissionObjects(r.Context(), subject(r), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if objs == nil {
		objs = []string{}
	}
	writeJSON(w, http.StatusOK, permissionObjectsResponse{PermissionID: id, Objects: objs})
}

func (a *API) addPermissionObject(w http.ResponseWriter, r *http.Request) {
	err := a.svc.AddObjectToPermission(r.Context(), subject(r), chi.URLParam(r, "id"), chi.URLParam(r, "objectID"))
	a.noContent(w, r, err)
}

func (a *API) removePermissionObject(w http.ResponseWriter, r *http.Request) {
	err := a.svc.RemoveObjectFromPermission(r.Context(), subject(r), chi.URLParam(r, "id"), chi.URLParam(r, "objectID"))
	a.noContent(w, r, err)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.GetUser(r.Context(), subject(r), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	a.noContent(w, r, a.svc.DeleteUser(r.Context(), subject(r), chi.URLParam(r, "id")))
}

func (a *API) userRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	roles, err := a.svc.UserRoles(r.Context(), subject(r), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, userRolesResponse{UserID: id, Roles: roles})
}

func (a *API) addUserRole(w http.ResponseWriter, r *http.Request) {
	err := a.svc.AddRoleToUser(r.Context(), subject(r), chi.URLParam(r, "id"), chi.URLParam(r, "roleID"))
	a.noContent(w, r, err)
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request) {
	err := a.svc.RemoveRoleFromUser(r.Context(), subject(r), chi.URLParam(r, "id"), chi.URLParam(r, "roleID"))
	a.noContent(w, r, err)
}

// noContent answers 204 for a successful mutation.
func (a *API) noContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
