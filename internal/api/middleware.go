package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/auth"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/payments"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

// ─── AUTH ─────────────────────────────────────────────────────────────────────

// authenticate is chi middleware that validates the bearer token and stores
// its claims in the request context. Missing or invalid tokens get a 401
// before the handler runs.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			respondErr(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.auth.Parse(strings.TrimSpace(token))
		if err != nil {
			s.logger.Debug("auth: rejected token", "error", err, logField(r))
			respondErr(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// requireService rejects callers whose token does not carry the service role.
// Must run after authenticate.
func (s *Server) requireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok || !claims.IsService() {
			respondErr(w, http.StatusForbidden, "service role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerID returns the authenticated user's id. It writes a 401 and returns
// false when the token has no usable subject; callers return immediately.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		respondErr(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	id, err := claims.UserID()
	if err != nil {
		respondErr(w, http.StatusUnauthorized, "token has no user")
		return uuid.Nil, false
	}
	return id, true
}

func isService(r *http.Request) bool {
	claims, ok := auth.FromContext(r.Context())
	return ok && claims.IsService()
}

// requestActor returns the calling user, or uuid.Nil for a backend caller.
func requestActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if isService(r) {
		return uuid.Nil, true
	}
	return callerID(w, r)
}

// ─── CORS ─────────────────────────────────────────────────────────────────────

// corsMiddleware handles preflight OPTIONS requests and sets CORS headers.
// Outside production any origin is echoed back so local app builds work.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := "*"
		if s.cfg.Env != "production" {
			allowed = origin
		}

		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ─── LOGGER & METRICS MIDDLEWARE ──────────────────────────────────────────────

// loggerMiddleware logs each request with method, path, status, and duration.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// metricsMiddleware counts requests by chi route pattern so path parameters
// do not explode label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ─── RESPONSE HELPERS ─────────────────────────────────────────────────────────

// respond writes a JSON body with the given status code.
func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondErr writes a standard JSON error envelope.
func respondErr(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

// respondInternalErr logs an unexpected error and returns a 500 to the client
// without leaking internal details.
func (s *Server) respondInternalErr(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("internal error",
		"error", err,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)
	respondErr(w, http.StatusInternalServerError, "internal server error")
}

// respondServiceErr maps errors from the payments and notify services onto
// HTTP statuses. Stripe errors keep the processor's status and message;
// anything unrecognised is a 500.
func (s *Server) respondServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *stripeinternal.APIError
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if apiErr.Retryable {
			status = http.StatusServiceUnavailable
		} else if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		s.logger.Warn("stripe error", "op", apiErr.Op, "code", apiErr.Code, "status", apiErr.Status, "error", err, logField(r))
		respondErr(w, status, apiErr.Message)

	case errors.Is(err, payments.ErrNotFound),
		errors.Is(err, payments.ErrNoPayment),
		errors.Is(err, notify.ErrNotFound):
		respondErr(w, http.StatusNotFound, errMessage(err))

	case errors.Is(err, payments.ErrNotOwner),
		errors.Is(err, payments.ErrForbidden),
		errors.Is(err, notify.ErrNotBookingOwner):
		respondErr(w, http.StatusForbidden, errMessage(err))

	case errors.Is(err, payments.ErrAlreadyCancelled),
		errors.Is(err, payments.ErrNotCapturable):
		respondErr(w, http.StatusConflict, errMessage(err))

	case errors.Is(err, notify.ErrReceiptLimit):
		respondErr(w, http.StatusTooManyRequests, errMessage(err))

	case errors.Is(err, payments.ErrChefNotOnboarded),
		errors.Is(err, payments.ErrAccountNotReady),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrRefundExceedsRecorded),
		errors.Is(err, payments.ErrSetupIntentNotSucceeded),
		errors.Is(err, payments.ErrNoCustomer),
		errors.Is(err, notify.ErrUnknownType),
		errors.Is(err, notify.ErrNoRecipient),
		errors.Is(err, notify.ErrMissingContent),
		errors.Is(err, notify.ErrNoTargetUsers):
		respondErr(w, http.StatusBadRequest, errMessage(err))

	default:
		s.respondInternalErr(w, r, err)
	}
}

// errMessage strips the "pkg: " prefix sentinel errors carry.
func errMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"payments: ", "notify: ", "policy: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}

// ─── REQUEST PARSING HELPERS ─────────────────────────────────────────────────

// decode JSON-decodes r.Body into dst and validates its struct tags. Returns
// false and writes 400 if the body is missing, malformed, too large or
// invalid. Callers should return immediately on false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondErr(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}

// jsonName converts a Go field name to the snake_case JSON key.
func jsonName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(field[i-1] >= 'A' && field[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// urlUUID parses a uuid path parameter. It writes a 400 and returns false
// when the value is not a uuid.
func urlUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid "+jsonName(key))
		return uuid.Nil, false
	}
	return id, true
}

// parseCancelledBy rejects admin cancellations from anything but a backend
// caller. An empty value is left for the payments service to resolve from
// the caller.
func parseCancelledBy(w http.ResponseWriter, r *http.Request, raw string) (policy.CancelledBy, bool) {
	if raw == "" {
		return "", true
	}
	by, err := policy.ParseCancelledBy(raw)
	if err != nil {
		respondErr(w, http.StatusBadRequest, errMessage(err))
		return "", false
	}
	if by == policy.ByAdmin && !isService(r) {
		respondErr(w, http.StatusForbidden, "admin cancellations require the service role")
		return "", false
	}
	return by, true
}

// logField returns a slog.Attr using the request ID for correlation.
func logField(r *http.Request) slog.Attr {
	return slog.String("request_id", middleware.GetReqID(r.Context()))
}
