package trustkit

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// MaxGuardedBodyBytes bounds the request body GuardContent will buffer.
const MaxGuardedBodyBytes = 1 << 20

// Middleware provides HTTP middleware for permission checks and the content gate.
type Middleware struct {
	service      *Service
	getUserID    func(*http.Request) string
	getEmail     func(*http.Request) string
	errorHandler func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := trustkit.NewMiddleware(service,
//	    trustkit.WithUserIDExtractor(func(r *http.Request) string {
//	        return r.Header.Get("X-User-ID")
//	    }),
//	)
func NewMiddleware(service *Service, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		service:      service,
		getUserID:    defaultGetUserID,
		getEmail:     defaultGetEmail,
		errorHandler: WriteError,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithUserIDExtractor sets a custom function to extract user ID from request.
func WithUserIDExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.getUserID = fn
	}
}

// WithEmailExtractor sets the function returning the principal's verified
// email. It must read a value set by the authenticating layer, never the
// request body.
func WithEmailExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.getEmail = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

func defaultGetUserID(r *http.Request) string {
	return GetUserID(r.Context())
}

func defaultGetEmail(r *http.Request) string {
	return GetUserEmail(r.Context())
}

// StatusCode maps an error to the HTTP status the admin API answers with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoActorID):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrInviteEmailMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrInviteExhausted), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidPermission):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes err as a JSON error body. Blocked content always gets the
// generic reason; internal errors never expose their message.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	status := StatusCode(err)
	msg := http.StatusText(status)
	switch status {
	case http.StatusUnprocessableEntity:
		msg = BlockedReason
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		var e *Error
		if errors.As(err, &e) && e.Message != "" {
			msg = e.Message
		}
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RequirePermission creates middleware that requires a specific permission.
// The resolved Checker is added to the request context.
//
// Example:
//
//	router.Handle("/roles", mw.RequirePermission(trustkit.ResourceRoles, trustkit.ActionManage)(createRoleHandler)).
//	    Methods(http.MethodPost)
func (m *Middleware) RequirePermission(resource Resource, action Action) func(http.Handler) http.Handler {
	return m.requireAny(Perm(resource, action))
}

// RequireAnyPermission creates middleware that requires any of the permissions.
func (m *Middleware) RequireAnyPermission(perms ...Permission) func(http.Handler) http.Handler {
	return m.requireAny(perms...)
}

func (m *Middleware) requireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := m.getUserID(r)
			if userID == "" {
				m.errorHandler(w, r, ErrNoActorID)
				return
			}

			checker, err := m.service.GetChecker(ctx, userID)
			if err != nil {
				// Resolution failures deny.
				m.service.log.WithError(err).WithField("user_id", userID).Error("permission resolution failed")
				m.errorHandler(w, r, NewError(ErrPermissionDenied, "permission resolution failed").WithUser(userID))
				return
			}
			if !checker.CanAny(perms...) {
				m.service.metrics.permissionCheck(false)
				m.errorHandler(w, r, NewError(ErrPermissionDenied, "missing required permission").WithUser(userID))
				return
			}
			m.service.metrics.permissionCheck(true)

			next.ServeHTTP(w, r.WithContext(WithChecker(ctx, checker)))
		})
	}
}

// LoadChecker creates middleware that loads the user's Checker into context.
// Use this when you want to do permission checks in the handler rather than middleware.
//
// Example:
//
//	router.Handle("/dashboard", mw.LoadChecker()(dashboardHandler))
//
//	func dashboardHandler(w http.ResponseWriter, r *http.Request) {
//	    checker := trustkit.GetChecker(r.Context())
//	    if checker != nil && checker.Can(trustkit.ResourceShadowLog, trustkit.ActionView) {
//	        // Show moderation queue
//	    }
//	}
func (m *Middleware) LoadChecker() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := m.getUserID(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			checker, err := m.service.GetChecker(ctx, userID)
			if err != nil {
				m.service.log.WithError(err).WithField("user_id", userID).Warn("checker not loaded")
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithChecker(ctx, checker)))
		})
	}
}

// InjectAuditContext creates middleware that extracts audit information from the request
// and adds it to the context for use by mutating service calls and the gate.
//
// Example:
//
//	router.Use(mw.InjectAuditContext)
func (m *Middleware) InjectAuditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctx = WithIPAddress(ctx, clientIP(r))
		ctx = WithUserAgent(ctx, r.UserAgent())

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = newRecordID()
		}
		ctx = WithRequestID(ctx, requestID)
		w.Header().Set("X-Request-ID", requestID)

		if userID := m.getUserID(r); userID != "" {
			ctx = WithActorID(ctx, userID)
			ctx = WithUserID(ctx, userID)
		}
		if email := m.getEmail(r); email != "" {
			ctx = WithUserEmail(ctx, email)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// GuardContent creates middleware that runs the JSON body field named field
// through Service.Guard before the wrapped handler sees the request. label
// is recorded as the shadow log context. The field is matched ignoring case
// and every matching key is screened; a non-string value is rejected with
// ErrInvalidInput. A blocked request never reaches the handler; the body is
// restored for handlers that read it.
//
// Example:
//
//	router.Handle("/chat", mw.GuardContent("message", "chat.message")(postChatHandler))
func (m *Middleware) GuardContent(field, label string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := m.getUserID(r)
			if userID == "" {
				m.errorHandler(w, r, ErrNoActorID)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxGuardedBodyBytes+1))
			if err != nil {
				m.errorHandler(w, r, NewError(ErrInvalidInput, "unreadable request body"))
				return
			}
			if len(body) > MaxGuardedBodyBytes {
				m.errorHandler(w, r, NewError(ErrInvalidInput, "request body too large"))
				return
			}

			var fields map[string]any
			if err := json.Unmarshal(body, &fields); err != nil {
				m.errorHandler(w, r, NewError(ErrInvalidInput, "request body must be a JSON object"))
				return
			}
			contents, err := guardedValues(fields, field)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}

			for _, content := range contents {
				res := m.service.Guard(ctx, userID, content, label, RequestMetaFromContext(ctx))
				if res.Blocked {
					m.errorHandler(w, r, res.Err())
					return
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// guardedValues returns every value whose key matches field ignoring case,
// the way encoding/json matches struct fields. A missing or null field yields
// a single empty value so containment is still checked. Any other non-string
// value is rejected.
func guardedValues(fields map[string]any, field string) ([]string, error) {
	keys := make([]string, 0, 1)
	for k := range fields {
		if strings.EqualFold(k, field) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var contents []string
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			contents = append(contents, v)
		case nil:
		default:
			return nil, NewError(ErrInvalidInput, "field "+k+" must be a string")
		}
	}
	if len(contents) == 0 {
		contents = append(contents, "")
	}
	return contents, nil
}

// logFields returns the request fields logged alongside handler errors.
func logFields(r *http.Request) logrus.Fields {
	return logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": GetRequestID(r.Context()),
	}
}
