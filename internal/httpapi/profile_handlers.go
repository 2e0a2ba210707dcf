package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"doctrack.org/internal/audit"
	"doctrack.org/internal/auth"
	"doctrack.org/internal/profile"
)

type createProfileBody struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Company    string `json:"company"`
	Department string `json:"department"`
	Division   string `json:"division"`
	EmployeeID string `json:"employee_id"`
	AvatarURL  string `json:"avatar_url"`
}

type updateProfileBody struct {
	FullName   *string `json:"full_name"`
	Company    *string `json:"company"`
	Department *string `json:"department"`
	Division   *string `json:"division"`
	EmployeeID *string `json:"employee_id"`
	AvatarURL  *string `json:"avatar_url"`
	Role       *string `json:"role"`
	IsActive   *bool   `json:"is_active"`
	Password   *string `json:"password"`
}

func (a *API) handleProfilesCollection(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.listProfiles(w, r)
	case http.MethodPost:
		a.createProfile(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProfileResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/profiles/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		// Admins read anyone; everyone reads themselves.
		if !actor.IsAdmin() && actor.ID != id {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		a.getProfile(w, r, id)
	case http.MethodPatch:
		if !actor.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		a.updateProfile(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

// handleMe returns the caller's own profile.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getProfile(w, r, actor.ID)
}

func (a *API) listProfiles(w http.ResponseWriter, r *http.Request) {
	items, err := a.profiles.List(r.Context())
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	if items == nil {
		items = []*profile.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createProfile(w http.ResponseWriter, r *http.Request) {
	var body createProfileBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if body.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}
	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	p := &profile.Profile{
		FullName:     strings.TrimSpace(body.FullName),
		Email:        body.Email,
		Role:         strings.TrimSpace(body.Role),
		Company:      strings.TrimSpace(body.Company),
		Department:   strings.TrimSpace(body.Department),
		Division:     strings.TrimSpace(body.Division),
		EmployeeID:   strings.TrimSpace(body.EmployeeID),
		AvatarURL:    strings.TrimSpace(body.AvatarURL),
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := a.profiles.Create(r.Context(), p); err != nil {
		handleProfileError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "profile.create", map[string]any{
		"profile_id": p.ID,
		"role":       p.Role,
	})

	w.Header().Set("Location", "/v1/profiles/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.profiles.Find(r.Context(), id)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, id string) {
	var body updateProfileBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := profile.Update{
		FullName:   body.FullName,
		Company:    body.Company,
		Department: body.Department,
		Division:   body.Division,
		EmployeeID: body.EmployeeID,
		AvatarURL:  body.AvatarURL,
		Role:       body.Role,
		IsActive:   body.IsActive,
	}
	if body.Password != nil {
		if *body.Password == "" {
			writeError(w, r, http.StatusBadRequest, "password must not be empty")
			return
		}
		hash, err := auth.HashPassword(*body.Password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		upd.Password = &hash
	}

	p, err := a.profiles.Update(r.Context(), id, upd)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}

	fields := map[string]any{"profile_id": p.ID}
	if body.Role != nil {
		fields["role"] = *body.Role
	}
	if body.IsActive != nil {
		fields["is_active"] = *body.IsActive
	}
	_ = audit.LogEvent(r.Context(), "profile.update", fields)

	writeJSON(w, http.StatusOK, p)
}

func handleProfileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, profile.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, profile.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
