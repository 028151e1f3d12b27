package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/course-checkout/internal/export"
	"github.com/wolfman30/course-checkout/internal/format"
	"github.com/wolfman30/course-checkout/internal/http/middleware"
	"github.com/wolfman30/course-checkout/internal/icons"
	"github.com/wolfman30/course-checkout/internal/observability/metrics"
	"github.com/wolfman30/course-checkout/pkg/logging"
)

const defaultExportLimit = 50

// SessionTokenHeader carries the renewed session token on every authenticated
// API response.
const SessionTokenHeader = "X-Session-Token"

// Handler serves the checkout page and its JSON API.
type Handler struct {
	registry      *Registry
	tokens        *Tokens
	limiter       OpenLimiter
	exports       *export.MemorySink
	icons         icons.Replacer
	metrics       *metrics.CheckoutMetrics
	logger        *logging.Logger
	secureCookies bool
	now           func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOpenLimiter throttles session creation.
func WithOpenLimiter(l OpenLimiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithExports exposes recent export events on the API.
func WithExports(m *export.MemorySink) HandlerOption {
	return func(h *Handler) { h.exports = m }
}

// WithIcons sets the icon replacer applied to rendered pages.
func WithIcons(r icons.Replacer) HandlerOption {
	return func(h *Handler) {
		if r != nil {
			h.icons = r
		}
	}
}

func WithMetrics(m *metrics.CheckoutMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(secure bool) HandlerOption {
	return func(h *Handler) { h.secureCookies = secure }
}

func NewHandler(registry *Registry, tokens *Tokens, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		registry: registry,
		tokens:   tokens,
		icons:    icons.Nop,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// APIRoutes returns the JSON API, meant to be mounted under /api. open wraps
// session creation. Routes under /sessions/{sessionID} require the session token.
func (h *Handler) APIRoutes(open ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.With(open...).Post("/sessions", h.CreateSession)
	r.Get("/pricing", h.Pricing)
	r.Get("/format/currency", h.FormatCurrency)
	r.Get("/format/date", h.FormatDate)
	r.Get("/exports", h.ListExports)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Use(middleware.SessionToken(h.tokens))
		r.Get("/", h.GetSession)
		r.Patch("/fields", h.UpdateFields)
		r.Post("/advance", h.Advance)
		r.Post("/confirm", h.Confirm)
		r.Post("/visibility", h.Visibility)
		r.Post("/unload", h.Unload)
		r.Get("/timer", h.TimerStream)
	})
	return r
}

// CreateSessionResponse is returned by POST /api/sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	State     State  `json:"state"`
}

// FieldUpdateRequest is one input-change event. Either Field (with Value) or
// EnrollingFor must be set.
type FieldUpdateRequest struct {
	Field        string  `json:"field,omitempty"`
	Value        *string `json:"value,omitempty"`
	EnrollingFor *string `json:"enrollingFor,omitempty"`
}

// ValidationResponse is the 422 body of an advance attempt.
type ValidationResponse struct {
	Errors []FieldError `json:"errors"`
	Focus  string       `json:"focus"`
}

// VisibilityRequest reports whether the page is hidden.
type VisibilityRequest struct {
	Hidden bool `json:"hidden"`
}

// CreateSession handles POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	defer h.observe("create_session", time.Now())

	s, token, status, err := h.openSession(r.Context(), middleware.ClientIP(r))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: s.ID(),
		Token:     token,
		State:     s.Snapshot(),
	})
}

// GetSession handles GET /api/sessions/{sessionID}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// UpdateFields handles PATCH /api/sessions/{sessionID}/fields
func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req FieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Field == "" && req.EnrollingFor == nil {
		http.Error(w, "field or enrollingFor is required", http.StatusBadRequest)
		return
	}
	var enrollment Enrollment
	if req.EnrollingFor != nil {
		e, err := ParseEnrollment(*req.EnrollingFor)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		enrollment = e
	}
	if req.Field != "" {
		value := ""
		if req.Value != nil {
			value = *req.Value
		}
		if err := s.SetField(req.Field, value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.EnrollingFor != nil {
		if err := s.SelectEnrollment(string(enrollment)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Advance handles POST /api/sessions/{sessionID}/advance
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	defer h.observe("advance", time.Now())

	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var in DetailsInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.Advance(r.Context(), in)
	var verr *ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.Snapshot())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: verr.Errors, Focus: verr.Focus()})
	case errors.Is(err, ErrStepOutOfOrder):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrUnknownEnrollment):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("advance failed", "error", err, "session_id", s.ID())
		http.Error(w, "failed to advance", http.StatusInternalServerError)
	}
}

// Confirm handles POST /api/sessions/{sessionID}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	defer h.observe("confirm", time.Now())

	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	record, err := s.ConfirmAwaitingPayment(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Visibility handles POST /api/sessions/{sessionID}/visibility
func (h *Handler) Visibility(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.VisibilityChanged(req.Hidden)
	w.WriteHeader(http.StatusNoContent)
}

// Unload handles POST /api/sessions/{sessionID}/unload
func (h *Handler) Unload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.Unload()
	w.WriteHeader(http.StatusNoContent)
}

// Pricing handles GET /api/pricing
func (h *Handler) Pricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"course":    Course,
		"currency":  format.CurrencyCode(),
		"pricing":   PricingSnapshot,
		"formatted": PricingSnapshot.Formatted(),
	})
}

// FormatCurrency handles GET /api/format/currency?amount=
func (h *Handler) FormatCurrency(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("amount")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		http.Error(w, "amount must be a number", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":    amount,
		"formatted": format.Currency(amount),
		"words":     format.AmountInWords(amount),
	})
}

// FormatDate handles GET /api/format/date?date=YYYY-MM-DD. Without a date it
// formats today.
func (h *Handler) FormatDate(w http.ResponseWriter, r *http.Request) {
	t := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		t = parsed
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"date":      t.Format(time.DateOnly),
		"formatted": format.Date(t),
	})
}

// ListExports handles GET /api/exports?limit=
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	limit := defaultExportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events := []export.Event{}
	if h.exports != nil {
		events = h.exports.Recent(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.registry.Len(),
	})
}

// openSession applies the open limiter, creates a session and signs its token.
// On failure it returns the HTTP status to answer with.
func (h *Handler) openSession(ctx context.Context, clientIP string) (*Session, string, int, error) {
	if h.limiter != nil {
		res, err := h.limiter.AllowOpen(ctx, clientIP)
		if err == nil && res != nil && !res.Allowed {
			h.metrics.ObserveSessionOpened("throttled")
			return nil, "", http.StatusTooManyRequests, errors.New("too many checkout sessions")
		}
	}
	s, err := h.registry.Create(ctx)
	if err != nil {
		return nil, "", http.StatusServiceUnavailable, err
	}
	token, err := h.tokens.Issue(s.ID())
	if err != nil {
		h.registry.Remove(s.ID())
		h.logger.Error("failed to issue session token", "error", err)
		return nil, "", http.StatusInternalServerError, errors.New("failed to open session")
	}
	h.metrics.ObserveSessionOpened("created")
	return s, token, http.StatusCreated, nil
}

// sessionFromRequest resolves the {sessionID} path param against the verified
// token on the request context.
func (h *Handler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	pathID := chi.URLParam(r, "sessionID")
	tokenID, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing session token", http.StatusUnauthorized)
		return nil, false
	}
	if pathID == "" || pathID != tokenID {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	s, err := h.registry.Get(pathID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	h.renewSession(w, s)
	return s, true
}

// renewSession marks s as in use and re-issues its token, so the token and the
// session both expire a full TTL after the last request.
func (h *Handler) renewSession(w http.ResponseWriter, s *Session) {
	s.Touch()
	token, err := h.tokens.Issue(s.ID())
	if err != nil {
		h.logger.Warn("failed to renew session token", "error", err, "session_id", s.ID())
		return
	}
	h.setSessionCookie(w, token)
	w.Header().Set(SessionTokenHeader, token)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.registry.ttl.Seconds()),
	})
}

func (h *Handler) observe(route string, start time.Time) {
	h.metrics.ObserveHandlerLatency(route, time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
