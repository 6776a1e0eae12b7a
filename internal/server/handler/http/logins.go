package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/passkeeper/internal/middleware"
	"github.com/atinyakov/passkeeper/internal/models"
	"github.com/atinyakov/passkeeper/internal/service"
)

// LoginService defines the login storage operations required by the
// LoginHandler.
type LoginService interface {
	AddLogin(ctx context.Context, login models.Login) error
	RemoveLogin(ctx context.Context, login models.Login) error
	ModifyLogin(ctx context.Context, old models.Login, change models.Change) error
	GetAllLogins(ctx context.Context) ([]models.Login, error)
	SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error)
	FindLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) ([]models.Login, error)
	CountLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) (int, error)
	RemoveAllLogins(ctx context.Context) error
	GetLoginSavingEnabled(hostname string) bool
	SetLoginSavingEnabled(hostname string, enabled bool) error
	GetAllDisabledHosts() ([]string, error)
	UIBusy() bool
	IsLoggedIn() bool
}

// LoginHandler serves the login storage contract as a JSON API.
type LoginHandler struct {
	LoginService LoginService
	Log          *zap.Logger
}

// ModifyRequest is the body of POST /api/logins/modify. Exactly one of
// Changes and Login must be set.
type ModifyRequest struct {
	Old     models.Login             `json:"old"`
	Changes map[models.Field]*string `json:"changes,omitempty"`
	Login   *models.Login            `json:"login,omitempty"`
}

// Change returns the modification the request describes.
func (m ModifyRequest) Change() (models.Change, bool) {
	switch {
	case m.Changes != nil && m.Login == nil:
		return models.Changes(m.Changes), true
	case m.Login != nil && m.Changes == nil:
		return models.Replace(*m.Login), true
	}
	return models.Change{}, false
}

// CountResponse is the body returned by GET /api/logins/count.
type CountResponse struct {
	Count int `json:"count"`
}

// SavingResponse is the body returned by GET /api/hosts/saving.
type SavingResponse struct {
	Enabled bool `json:"enabled"`
}

// StatusResponse is the body returned by GET /api/status.
type StatusResponse struct {
	Busy     bool `json:"busy"`
	LoggedIn bool `json:"loggedIn"`
}

func (h *LoginHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warn("failed to write response", zap.Error(err))
	}
}

func (h *LoginHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidLogin):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotImplemented):
		status = http.StatusNotImplemented
	default:
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("host", middleware.GetHostFromContext(r.Context())),
			zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func (h *LoginHandler) writeLogins(w http.ResponseWriter, logins []models.Login) {
	if logins == nil {
		logins = []models.Login{}
	}
	h.writeJSON(w, http.StatusOK, logins)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// optional returns the query parameter name, or nil when it is omitted.
func optional(r *http.Request, name string) *string {
	q := r.URL.Query()
	if !q.Has(name) {
		return nil
	}
	return models.String(q.Get(name))
}

// AddLogin handles POST /api/logins.
func (h *LoginHandler) AddLogin(w http.ResponseWriter, r *http.Request) {
	var login models.Login
	if err := decode(r, &login); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.LoginService.AddLogin(r.Context(), login); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// GetAllLogins handles GET /api/logins.
func (h *LoginHandler) GetAllLogins(w http.ResponseWriter, r *http.Request) {
	logins, err := h.LoginService.GetAllLogins(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLogins(w, logins)
}

// RemoveAllLogins handles DELETE /api/logins.
func (h *LoginHandler) RemoveAllLogins(w http.ResponseWriter, r *http.Request) {
	if err := h.LoginService.RemoveAllLogins(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveLogin handles POST /api/logins/remove.
func (h *LoginHandler) RemoveLogin(w http.ResponseWriter, r *http.Request) {
	var login models.Login
	if err := decode(r, &login); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.LoginService.RemoveLogin(r.Context(), login); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ModifyLogin handles POST /api/logins/modify.
func (h *LoginHandler) ModifyLogin(w http.ResponseWriter, r *http.Request) {
	var req ModifyRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	change, ok := req.Change()
	if !ok {
		http.Error(w, "exactly one of changes and login is required", http.StatusBadRequest)
		return
	}
	if err := h.LoginService.ModifyLogin(r.Context(), req.Old, change); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchLogins handles POST /api/logins/search. The body is an object of
// field names to values; null requires the field to be absent.
func (h *LoginHandler) SearchLogins(w http.ResponseWriter, r *http.Request) {
	var md models.MatchData
	if err := decode(r, &md); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	for f := range md {
		if !f.Valid() {
			http.Error(w, "unknown field "+string(f), http.StatusBadRequest)
			return
		}
	}
	logins, err := h.LoginService.SearchLogins(r.Context(), md)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLogins(w, logins)
}

// FindLogins handles GET /api/logins/find. An omitted formSubmitURL or
// httpRealm parameter requires the field to be absent; an empty one
// matches any value.
func (h *LoginHandler) FindLogins(w http.ResponseWriter, r *http.Request) {
	logins, err := h.LoginService.FindLogins(r.Context(),
		r.URL.Query().Get("hostname"), optional(r, "formSubmitURL"), optional(r, "httpRealm"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLogins(w, logins)
}

// CountLogins handles GET /api/logins/count.
func (h *LoginHandler) CountLogins(w http.ResponseWriter, r *http.Request) {
	n, err := h.LoginService.CountLogins(r.Context(),
		r.URL.Query().Get("hostname"), optional(r, "formSubmitURL"), optional(r, "httpRealm"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// GetLoginSavingEnabled handles GET /api/hosts/saving.
func (h *LoginHandler) GetLoginSavingEnabled(w http.ResponseWriter, r *http.Request) {
	enabled := h.LoginService.GetLoginSavingEnabled(r.URL.Query().Get("hostname"))
	h.writeJSON(w, http.StatusOK, SavingResponse{Enabled: enabled})
}

// SetLoginSavingEnabled handles PUT /api/hosts/saving.
func (h *LoginHandler) SetLoginSavingEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
		Enabled  bool   `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.LoginService.SetLoginSavingEnabled(req.Hostname, req.Enabled); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAllDisabledHosts handles GET /api/hosts/disabled.
func (h *LoginHandler) GetAllDisabledHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.LoginService.GetAllDisabledHosts()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, hosts)
}

// Status handles GET /api/status.
func (h *LoginHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Busy:     h.LoginService.UIBusy(),
		LoggedIn: h.LoginService.IsLoggedIn(),
	})
}
