package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
)

// Audit page sizing for the admin API.
const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 200
)

// AdminHandler serves the operator API: session login and managed key
// administration with usage and audit views.
type AdminHandler struct {
	keys   *service.KeyRegistry
	usage  *service.QuotaLedger
	audit  *service.AuditLog
	signer *service.SessionSigner
	logger *slog.Logger
	now    func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(keys *service.KeyRegistry, usage *service.QuotaLedger, audit *service.AuditLog, signer *service.SessionSigner, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		keys:   keys,
		usage:  usage,
		audit:  audit,
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readLogin accepts a JSON body or a urlencoded/multipart form.
func readLogin(r *http.Request) (loginRequest, error) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := readJSON(r, &req); err != nil {
			return req, err
		}
	} else {
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return req, err
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}
	req.Username = strings.TrimSpace(req.Username)
	return req, nil
}

// Login checks admin credentials and sets the session cookie. When no admin
// credentials are configured it succeeds without setting a cookie.
// POST /admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.signer.Configured() {
		writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
		return
	}

	req, err := readLogin(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !h.signer.Login(req.Username, req.Password) {
		h.logger.Warn("admin login failed", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    h.signer.Issue(req.Username),
		Path:     "/",
		MaxAge:   int(service.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// Logout clears the session cookie.
// POST /admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

type sessionResponse struct {
	Configured    bool `json:"configured"`
	Authenticated bool `json:"authenticated"`
}

// Session reports whether admin login is configured and whether the caller
// holds a valid session.
// GET /admin/session
func (h *AdminHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		Configured:    h.signer.Configured(),
		Authenticated: h.signer.Authenticated(middleware.SessionToken(r)),
	})
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

type keyListItem struct {
	model.ManagedAPIKeyListItem
	TotalUsage int `json:"totalUsage"`
}

// ListKeys returns every key with a masked secret and its lifetime usage.
// GET /admin/api-keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	items, err := h.keys.List(r.Context())
	if err != nil {
		h.logger.Error("list api keys", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	totals, err := h.usage.Totals(r.Context())
	if err != nil {
		h.logger.Error("read usage totals", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}

	out := make([]keyListItem, 0, len(items))
	for _, item := range items {
		out = append(out, keyListItem{ManagedAPIKeyListItem: item, TotalUsage: totals[item.ID]})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

// GetKey returns the id and full secret of one key for the copy action.
// GET /admin/api-keys/{id}
func (h *AdminHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "Failed to get API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": key.ID, "key": key.Key})
}

// settingsRequest is the policy part of create and update payloads. Limits
// stay raw so non-integer values are reported as validation errors.
type settingsRequest struct {
	TotalLimit json.RawMessage `json:"totalLimit"`
	DailyLimit json.RawMessage `json:"dailyLimit"`
	ExpiresAt  *string         `json:"expiresAt"`
}

func (s settingsRequest) settings() (service.KeySettings, error) {
	var out service.KeySettings
	var err error
	if out.TotalLimit, err = service.ParseLimit(s.TotalLimit); err != nil {
		return out, err
	}
	if out.DailyLimit, err = service.ParseLimit(s.DailyLimit); err != nil {
		return out, err
	}
	if s.ExpiresAt != nil {
		out.ExpiresAt = *s.ExpiresAt
	}
	return out, nil
}

type createKeyRequest struct {
	ID string `json:"id"`
	settingsRequest
}

// CreateKey registers a key and returns the full record, secret included.
// POST /admin/api-keys
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	settings, err := req.settings()
	if err != nil {
		// Name errors are reported ahead of malformed limits.
		id := service.NormalizeKeyID(req.ID)
		if idErr := service.ValidateKeyID(id); idErr != nil {
			writeServiceError(w, idErr, "Failed to create API key")
			return
		}
		if _, getErr := h.keys.GetByID(r.Context(), id); getErr == nil {
			writeServiceError(w, service.ErrDuplicateID, "Failed to create API key")
			return
		}
		writeServiceError(w, err, "Failed to create API key")
		return
	}

	key, err := h.keys.Create(r.Context(), req.ID, settings)
	if err != nil {
		if serviceErrorStatus(err) == http.StatusInternalServerError {
			h.logger.Error("create api key", "error", err)
		}
		writeServiceError(w, err, "Failed to create API key")
		return
	}
	h.logger.Info("api key created", "key_id", key.ID)
	writeJSON(w, http.StatusOK, key)
}

type settingsResponse struct {
	ID         string           `json:"id"`
	TotalLimit *int             `json:"totalLimit"`
	DailyLimit *int             `json:"dailyLimit"`
	ExpiresAt  *model.Timestamp `json:"expiresAt"`
}

// UpdateSettings replaces the limits and expiry of a key. Absent or null
// fields clear the corresponding setting.
// PATCH /admin/api-keys/{id}/settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	settings, err := req.settings()
	if err != nil {
		writeServiceError(w, err, "Failed to update settings")
		return
	}

	key, err := h.keys.UpdateSettings(r.Context(), chi.URLParam(r, "id"), settings)
	if err != nil {
		if serviceErrorStatus(err) == http.StatusInternalServerError {
			h.logger.Error("update api key settings", "error", err)
		}
		writeServiceError(w, err, "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		ID:         key.ID,
		TotalLimit: key.TotalLimit,
		DailyLimit: key.DailyLimit,
		ExpiresAt:  key.ExpiresAt,
	})
}

// DeleteKey removes a key. Its usage and audit history are kept.
// DELETE /admin/api-keys/{id}
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.keys.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("delete api key", "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete API key")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, service.ErrKeyNotFound.Error())
		return
	}
	h.logger.Info("api key deleted", "key_id", id)
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

type usageResponse struct {
	KeyID      string             `json:"keyId"`
	From       model.Timestamp    `json:"from"`
	To         model.Timestamp    `json:"to"`
	Count      int                `json:"count"`
	TotalUsage int                `json:"totalUsage"`
	DailyUsage int                `json:"dailyUsage"`
	Records    []model.UsageEvent `json:"records"`
}

// Usage returns the usage events of a key within [from, to] together with
// its current counters.
// GET /admin/api-keys/{id}/usage?from=&to=
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "Failed to read usage")
		return
	}

	q := r.URL.Query()
	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if fromRaw == "" || toRaw == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	from, errFrom := model.ParseTimestamp(fromRaw)
	to, errTo := model.ParseTimestamp(toRaw)
	if errFrom != nil || errTo != nil || from.After(to.Time) {
		writeError(w, http.StatusBadRequest, "invalid time range")
		return
	}

	records, err := h.usage.ByRange(r.Context(), key.ID, from.Time, to.Time)
	if err != nil {
		h.logger.Error("read usage range", "key_id", key.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}
	summary, err := h.usage.Summary(r.Context(), key.ID, h.now())
	if err != nil {
		h.logger.Error("read usage summary", "key_id", key.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{
		KeyID:      key.ID,
		From:       from,
		To:         to,
		Count:      len(records),
		TotalUsage: summary.Total,
		DailyUsage: summary.Daily,
		Records:    records,
	})
}

// Audit returns one page of audit events for a key, newest first.
// GET /admin/api-keys/{id}/audit?from=&to=&query=&page=&pageSize=
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "Failed to read audit log")
		return
	}

	q := service.AuditQuery{
		Query:    r.URL.Query().Get("query"),
		Page:     max(1, queryInt(r, "page", 1)),
		PageSize: clampInt(queryInt(r, "pageSize", defaultAuditPageSize), 1, maxAuditPageSize),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		ts, err := model.ParseTimestamp(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		q.From = &ts.Time
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		ts, err := model.ParseTimestamp(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		q.To = &ts.Time
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		writeError(w, http.StatusBadRequest, "invalid time range")
		return
	}

	page, err := h.audit.Page(r.Context(), key.ID, q)
	if err != nil {
		h.logger.Error("read audit page", "key_id", key.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
