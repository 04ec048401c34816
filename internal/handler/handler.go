package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/model"
	"github.com/angeloszaimis/pinger/internal/service"
)

const (
	maxBodyBytes = 1 << 20

	defaultCookieName   = "pinger_session"
	defaultProbeTimeout = 10 * time.Second
)

// Options configures an APIHandler. Zero values fall back to defaults.
type Options struct {
	CookieName string
	CookieTTL  time.Duration
	// SecureCookie marks the session cookie HTTPS-only.
	SecureCookie bool
	// ProbeTimeout is the per-target probe bound. A manual ping extends its
	// write deadline by it for every target it may have to wait on.
	ProbeTimeout time.Duration
}

type APIHandler struct {
	logger       *slog.Logger
	service      *service.Service
	cookieName   string
	cookieTTL    time.Duration
	secure       bool
	probeTimeout time.Duration
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type targetRequest struct {
	URL string `json:"url"`
}

type accountResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type targetResponse struct {
	URL         string     `json:"url"`
	LastResult  string     `json:"last_result,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	Up          bool       `json:"up"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAPIHandler(logger *slog.Logger, svc *service.Service, opts Options) *APIHandler {
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}

	return &APIHandler{
		logger:       logger.With(slog.String("component", "api")),
		service:      svc,
		cookieName:   opts.CookieName,
		cookieTTL:    opts.CookieTTL,
		secure:       opts.SecureCookie,
		probeTimeout: opts.ProbeTimeout,
	}
}

// Routes registers the API endpoints on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", h.register)
	mux.HandleFunc("POST /api/login", h.login)
	mux.HandleFunc("POST /api/logout", h.logout)
	mux.HandleFunc("GET /api/targets", h.authenticated(h.listTargets))
	mux.HandleFunc("POST /api/targets", h.authenticated(h.addTarget))
	mux.HandleFunc("DELETE /api/targets", h.authenticated(h.removeTarget))
	mux.HandleFunc("POST /api/ping", h.authenticated(h.pingNow))
	mux.HandleFunc("GET /api/stats", h.authenticated(h.targetStats))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Logging wraps next with per-request access logging.
func (h *APIHandler) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("Handled request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("took", time.Since(start)),
			slog.String("user_agent", r.UserAgent()))
	})
}

func (h *APIHandler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	account, token, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setSession(w, token)
	writeJSON(w, http.StatusCreated, accountResponse{ID: account.ID, Name: account.Name})
}

func (h *APIHandler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setSession(w, token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) logout(w http.ResponseWriter, r *http.Request) {
	if token := h.token(r); token != "" {
		h.service.Logout(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) listTargets(w http.ResponseWriter, r *http.Request, accountID string) {
	h.writeTargets(w, accountID)
}

func (h *APIHandler) addTarget(w http.ResponseWriter, r *http.Request, accountID string) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.AddTarget(r.Context(), accountID, req.URL); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeTargets(w, accountID)
}

func (h *APIHandler) removeTarget(w http.ResponseWriter, r *http.Request, accountID string) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url query parameter is required"})
		return
	}

	if err := h.service.RemoveTarget(r.Context(), accountID, url); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeTargets(w, accountID)
}

func (h *APIHandler) pingNow(w http.ResponseWriter, r *http.Request, accountID string) {
	targets, err := h.service.Targets(accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Targets are probed one after another, possibly after a scheduled sweep
	// of the same account releases it, so the server-wide write timeout is
	// not enough.
	budget := time.Duration(2*len(targets)+1) * h.probeTimeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(budget)); err != nil &&
		!errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("Could not extend write deadline", slog.Any("err", err))
	}

	if err := h.service.PingNow(r.Context(), accountID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeTargets(w, accountID)
}

func (h *APIHandler) targetStats(w http.ResponseWriter, r *http.Request, accountID string) {
	stats, err := h.service.TargetStats(accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) authenticated(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := h.service.ResolveSession(h.token(r))
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
			return
		}
		next(w, r, accountID)
	}
}

func (h *APIHandler) token(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(h.cookieName); err == nil {
		return c.Value
	}
	return ""
}

func (h *APIHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *APIHandler) writeTargets(w http.ResponseWriter, accountID string) {
	targets, err := h.service.Targets(accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTargetResponses(targets))
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidURL):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, accounts.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, accounts.ErrNotFound):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("Request failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func toTargetResponses(targets []model.Target) []targetResponse {
	out := make([]targetResponse, 0, len(targets))
	for _, t := range targets {
		tr := targetResponse{URL: t.URL, LastChecked: t.LastChecked, Up: t.LastOK}
		if t.LastResult != nil {
			tr.LastResult = *t.LastResult
		}
		out = append(out, tr)
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
