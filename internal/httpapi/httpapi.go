package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/logger"
	"localsim/backend/internal/report"
	"localsim/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	metrics       http.Handler
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		log:           logger.WithComponent("http"),
	}
}

// WithMetrics exposes h on GET /metrics.
func (a *API) WithMetrics(h http.Handler) *API {
	a.metrics = h
	return a
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens of the current and the previous hour.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(a.secure)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeStatusError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Route("/shifts", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleShiftOpen, domain.RoleCashier, domain.RoleAdmin))
			r.Get("/open", a.requireAuth(a.handleShiftOpenLookup, domain.RoleCashier, domain.RoleAdmin))
			r.Get("/{id}", a.requireAuth(a.handleShiftGet, domain.RoleCashier, domain.RoleAdmin))
			r.Get("/{id}/closing-sheet", a.requireAuth(a.handleClosingSheet, domain.RoleCashier, domain.RoleAdmin))
			r.Post("/{id}/close", a.requireAuth(a.handleShiftClose, domain.RoleCashier, domain.RoleAdmin))
			r.Post("/{id}/inventory/opening", a.requireAuth(a.handleDeclareOpening, domain.RoleCashier, domain.RoleAdmin))
			r.Post("/{id}/inventory/closing", a.requireAuth(a.handleDeclareClosing, domain.RoleCashier, domain.RoleAdmin))
			r.Post("/{id}/inventory/units-sold", a.requireAuth(a.handleUnitsSold, domain.RoleCashier, domain.RoleAdmin))
			r.Get("/{id}/inventory", a.requireAuth(a.handleInventoryStatus, domain.RoleAdmin))
			r.Get("/{id}/movements", a.requireAuth(a.handleMovements, domain.RoleCashier, domain.RoleAdmin))
			r.Get("/{id}/totals", a.requireAuth(a.handleTotals, domain.RoleAdmin))
			r.Get("/{id}/report", a.requireAuth(a.handleClosureReport, domain.RoleCashier, domain.RoleAdmin))
			r.Get("/{id}/report.pdf", a.requireAuth(a.handleClosureReportPDF, domain.RoleCashier, domain.RoleAdmin))
		})

		r.Post("/sales", a.requireAuth(a.handleRecordSale, domain.RoleCashier, domain.RoleAdmin))
		r.Post("/sales/{id}/void", a.requireAuth(a.handleVoidSale, domain.RoleAdmin))
		r.Post("/checkout", a.requireAuth(a.handleCheckout, domain.RoleCashier, domain.RoleAdmin))

		r.Get("/discrepancies", a.requireAuth(a.handleDiscrepancies, domain.RoleAdmin))
		r.Get("/alerts/discrepancies", a.requireAuth(a.handleDiscrepancyAlerts, domain.RoleAdmin))
		r.Get("/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
		r.Get("/users/cashiers", a.requireAuth(a.handleListCashiers, domain.RoleAdmin))
		r.Post("/users/cashiers", a.requireAuth(a.handleCreateCashier, domain.RoleAdmin))
	})

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeStatusError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeStatusError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeStatusError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeStatusError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeStatusError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour. Clients
// send it back in X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeStatusError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleShiftOpenLookup(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetOpenShift(r.Context(), r.URL.Query().Get("operator_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClosingSheet(w http.ResponseWriter, r *http.Request) {
	sheet, err := a.service.ClosingSheet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	req.ShiftID = chi.URLParam(r, "id")

	resp, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeclareOpening(w http.ResponseWriter, r *http.Request) {
	var req domain.DeclarationInput
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	row, err := a.service.DeclareOpening(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (a *API) handleDeclareClosing(w http.ResponseWriter, r *http.Request) {
	var req domain.DeclarationInput
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := a.service.DeclareClosing(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		writeError(w, err)
		return
	}
	// The stored row carries opening counts, which the closing workflow must not see.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleUnitsSold(w http.ResponseWriter, r *http.Request) {
	var req domain.UnitsSoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	row, err := a.service.RecordUnitsSold(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":          row.Plan,
		"units_sold":    row.UnitsSold,
		"informational": row.Informational,
	})
}

func (a *API) handleInventoryStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.InventoryStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := a.service.ListMovements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := a.service.SumByCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"totals": totals})
}

func (a *API) handleClosureReport(w http.ResponseWriter, r *http.Request) {
	closure, err := a.service.GetClosureReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closure)
}

func (a *API) handleClosureReportPDF(w http.ResponseWriter, r *http.Request) {
	closure, err := a.service.GetClosureReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	pdf, err := report.ClosureReportPDF(closure)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"closure-%s.pdf\"", closure.ShiftID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:void:" + clientKey(r)) {
		writeStatusError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeStatusError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	movement, err := a.service.VoidSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movement": movement})
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDiscrepancyFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	listing, err := a.service.ListDiscrepancies(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"discrepancies-%s.csv\"", listing.To.Format("2006-01-02")))
		w.WriteHeader(http.StatusOK)
		if err := report.WriteDiscrepanciesCSV(w, listing); err != nil {
			a.log.Error().Err(err).Msg("write discrepancies csv")
		}
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (a *API) handleDiscrepancyAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDiscrepancyFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := a.service.DiscrepancyAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// parseDiscrepancyFilter reads from/to (RFC 3339 or YYYY-MM-DD, to inclusive of
// the whole day), last_n_days, operator_id, only_with_discrepancies and limit.
func parseDiscrepancyFilter(r *http.Request) (domain.DiscrepancyFilter, error) {
	query := r.URL.Query()
	filter := domain.DiscrepancyFilter{
		OperatorID: strings.TrimSpace(query.Get("operator_id")),
		Limit:      parsePositiveLimit(query.Get("limit"), 0, 2000),
	}

	from, err := parseTimeParam("from", query.Get("from"), false)
	if err != nil {
		return domain.DiscrepancyFilter{}, err
	}
	to, err := parseTimeParam("to", query.Get("to"), true)
	if err != nil {
		return domain.DiscrepancyFilter{}, err
	}
	filter.From, filter.To = from, to

	if raw := strings.TrimSpace(query.Get("last_n_days")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return domain.DiscrepancyFilter{}, domain.NewValidationError("last_n_days", "must be an integer")
		}
		filter.LastNDays = &days
	}
	if raw := strings.TrimSpace(query.Get("only_with_discrepancies")); raw != "" {
		only, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.DiscrepancyFilter{}, domain.NewValidationError("only_with_discrepancies", "must be a boolean")
		}
		filter.OnlyWithDiscrepancies = only
	}
	return filter, nil
}

func parseTimeParam(field string, raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, domain.NewValidationError(field, "must be RFC 3339 or YYYY-MM-DD")
	}
	if endOfDay {
		parsed = parsed.Add(24 * time.Hour)
	}
	return &parsed, nil
}

// secure sets the security headers, bounds JSON bodies, answers preflight
// requests and enforces CSRF on state-changing requests.
func (a *API) secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := a.log.Info()
		if status >= http.StatusInternalServerError {
			event = a.log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeStatusError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch domain.ErrorKind(err) {
	case "validation":
		return http.StatusBadRequest
	case "conflict", "invalid_state":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeStatusError(w, statusFor(err), err)
}

func writeStatusError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log := logger.WithComponent("http")
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "request timed out, retry"
		}
	}

	body := map[string]any{"error": msg}
	if kind := domain.ErrorKind(err); kind != "" {
		body["kind"] = kind
	}
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		body["field"] = validationErr.Field
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
