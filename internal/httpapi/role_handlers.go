package httpapi

import (
	"net/http"
	"strings"

	"idport.org/internal/audit"
	"idport.org/internal/identity"
)

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "roles":
		a.handleUserRoles(w, r, userID)
	case "role":
		a.handleUserRoleUpdate(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	// Admins can read anyone; everyone else only their own assignment.
	if a.sessions != nil && !identity.HasRole(r.Context(), identity.RoleAdmin) {
		if current, ok := identity.UserIDFromContext(r.Context()); !ok || current != userID {
			writeError(w, r, http.StatusForbidden, "insufficient role")
			return
		}
	}
	roles, err := a.identity.GetUserRoles(r.Context(), userID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"roles":   roles,
	})
}

func (a *API) handleUserRoleUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin) {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	user, err := a.identity.UpdateUserRole(r.Context(), userID, req.Role)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.role.updated", map[string]any{
		"target_user_id": user.ID,
		"role":           req.Role,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"user": user,
		"role": req.Role,
	})
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "users" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleName := parts[0]
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin) {
		return
	}
	users, err := a.identity.GetUsersByRole(r.Context(), roleName)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":  roleName,
		"count": len(users),
		"users": users,
	})
}
