package trustkit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Default invite redemption throttle per user.
const (
	DefaultRedeemRate  = 0.2
	DefaultRedeemBurst = 5
)

// Handlers exposes the service as a JSON admin API.
type Handlers struct {
	service  *Service
	mw       *Middleware
	limiters *redeemLimiters
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithRedeemLimit throttles invite redemption to perSecond per user with
// the given burst. A non-positive rate disables throttling.
func WithRedeemLimit(perSecond float64, burst int) HandlersOption {
	return func(h *Handlers) {
		if perSecond <= 0 {
			h.limiters = nil
			return
		}
		h.limiters = newRedeemLimiters(rate.Limit(perSecond), burst)
	}
}

// NewHandlers creates the admin API handlers.
func NewHandlers(service *Service, mw *Middleware, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		service:  service,
		mw:       mw,
		limiters: newRedeemLimiters(rate.Limit(DefaultRedeemRate), DefaultRedeemBurst),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the admin API routes. The router is expected to
// run Middleware.InjectAuditContext first.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	perm := h.mw.RequirePermission
	either := h.mw.RequireAnyPermission

	router.Handle("/roles", perm(ResourceRoles, ActionView)(http.HandlerFunc(h.listRoles))).Methods("GET")
	router.Handle("/roles", perm(ResourceRoles, ActionManage)(http.HandlerFunc(h.createRole))).Methods("POST")
	router.Handle("/roles/{id}", perm(ResourceRoles, ActionView)(http.HandlerFunc(h.getRole))).Methods("GET")
	router.Handle("/roles/{id}", perm(ResourceRoles, ActionManage)(http.HandlerFunc(h.updateRole))).Methods("PUT")
	router.Handle("/roles/{id}", perm(ResourceRoles, ActionManage)(http.HandlerFunc(h.deleteRole))).Methods("DELETE")
	router.Handle("/roles/{id}/bulk-assign", perm(ResourceRoles, ActionAssign)(http.HandlerFunc(h.bulkAssign))).Methods("POST")

	router.Handle("/users/{id}/roles", either(Perm(ResourceRoles, ActionView), Perm(ResourceUsers, ActionView))(http.HandlerFunc(h.listUserRoles))).Methods("GET")
	router.Handle("/users/{id}/roles", perm(ResourceRoles, ActionAssign)(http.HandlerFunc(h.assignRole))).Methods("POST")
	router.Handle("/users/{id}/roles/{role_id}", perm(ResourceRoles, ActionAssign)(http.HandlerFunc(h.revokeRole))).Methods("DELETE")
	router.Handle("/users/{id}/permissions", h.mw.LoadChecker()(http.HandlerFunc(h.userPermissions))).Methods("GET")

	router.Handle("/invites", perm(ResourceInvites, ActionManage)(http.HandlerFunc(h.listInvites))).Methods("GET")
	router.Handle("/invites", either(Perm(ResourceInvites, ActionCreate), Perm(ResourceInvites, ActionManage))(http.HandlerFunc(h.createInvite))).Methods("POST")
	router.Handle("/invites/{code}", perm(ResourceInvites, ActionManage)(http.HandlerFunc(h.deactivateInvite))).Methods("DELETE")
	router.HandleFunc("/invites/{code}/redeem", h.redeemInvite).Methods("POST")

	router.Handle("/audit", perm(ResourceAudit, ActionView)(http.HandlerFunc(h.auditLog))).Methods("GET")
	router.Handle("/shadow-log", perm(ResourceShadowLog, ActionView)(http.HandlerFunc(h.shadowLog))).Methods("GET")

	router.Handle("/users/{id}/trust", perm(ResourceTrust, ActionView)(http.HandlerFunc(h.getTrust))).Methods("GET")
	router.Handle("/users/{id}/trust/reset", perm(ResourceTrust, ActionManage)(http.HandlerFunc(h.resetTrust))).Methods("POST")

	router.HandleFunc("/guard", h.guard).Methods("POST")
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if StatusCode(err) == http.StatusInternalServerError {
		h.service.log.WithError(err).WithFields(logFields(r)).Error("request failed")
	}
	h.mw.errorHandler(w, r, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxGuardedBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, ErrInvalidPermission) {
			return NewError(ErrInvalidPermission, err.Error())
		}
		return NewError(ErrInvalidInput, "invalid JSON body")
	}
	return nil
}

// ============================================================================
// ROLES
// ============================================================================

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var spec RoleSpec
	if err := decodeJSON(r, &spec); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	var update RoleUpdate
	if err := decodeJSON(r, &update); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), mux.Vars(r)["id"], update)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkAssignRequest struct {
	UserIDs []string `json:"user_ids"`
	Context string   `json:"context"`
}

func (h *Handlers) bulkAssign(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(req.UserIDs) == 0 {
		h.fail(w, r, NewError(ErrInvalidInput, "user_ids is required"))
		return
	}
	result, err := h.service.BulkAssign(r.Context(), req.UserIDs, mux.Vars(r)["id"], req.Context)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ============================================================================
// GRANTS
// ============================================================================

func (h *Handlers) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if r.URL.Query().Get("history") == "true" {
		grants, err := h.service.ListUserGrants(r.Context(), userID, false)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "grants": grants})
		return
	}
	roles, err := h.service.GetUserRoles(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": roles})
}

type assignRequest struct {
	RoleID  string `json:"role_id"`
	Context string `json:"context"`
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	grant, err := h.service.AssignRole(r.Context(), mux.Vars(r)["id"], req.RoleID, req.Context)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (h *Handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.RevokeRole(r.Context(), vars["id"], vars["role_id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userPermissions returns the effective matrix for UI rendering. Users may
// read their own; anyone else needs users.view.
func (h *Handlers) userPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := mux.Vars(r)["id"]
	caller := h.mw.getUserID(r)
	if caller == "" {
		h.fail(w, r, ErrNoActorID)
		return
	}
	if caller != target {
		checker := GetChecker(ctx)
		if checker == nil || !checker.Can(ResourceUsers, ActionView) {
			h.fail(w, r, NewError(ErrPermissionDenied, "missing required permission").WithUser(caller))
			return
		}
	}
	m, err := h.service.GetUserPermissions(ctx, target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": target, "permissions": m})
}

// ============================================================================
// INVITES
// ============================================================================

func (h *Handlers) listInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.service.ListInvites(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites, "count": len(invites)})
}

func (h *Handlers) createInvite(w http.ResponseWriter, r *http.Request) {
	var spec InviteSpec
	if err := decodeJSON(r, &spec); err != nil {
		h.fail(w, r, err)
		return
	}
	invite, err := h.service.CreateInvite(r.Context(), spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (h *Handlers) deactivateInvite(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateInvite(r.Context(), mux.Vars(r)["code"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) redeemInvite(w http.ResponseWriter, r *http.Request) {
	userID := h.mw.getUserID(r)
	if userID == "" {
		h.fail(w, r, ErrNoActorID)
		return
	}
	if h.limiters != nil && !h.limiters.allow(userID) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
		return
	}

	// Email binding is checked against the verified address only.
	result, err := h.service.RedeemInvite(r.Context(), mux.Vars(r)["code"], userID, h.mw.getEmail(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role_id":         result.Invite.RoleID,
		"welcome_message": result.Invite.WelcomeMessage,
		"grant":           result.Grant,
	})
}

// redeemLimiters holds one token bucket per user. Idle buckets age out.
type redeemLimiters struct {
	limit   rate.Limit
	burst   int
	buckets *lru.LRU[string, *rate.Limiter]
}

func newRedeemLimiters(limit rate.Limit, burst int) *redeemLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &redeemLimiters{
		limit:   limit,
		burst:   burst,
		buckets: lru.NewLRU[string, *rate.Limiter](10000, nil, 10*time.Minute),
	}
}

func (l *redeemLimiters) allow(userID string) bool {
	lim, ok := l.buckets.Get(userID)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(userID, lim)
	}
	return lim.Allow()
}

// ============================================================================
// LOGS
// ============================================================================

func (h *Handlers) auditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, until, err := timeRange(q.Get("since"), q.Get("until"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := AuditLogFilter{
		PerformedBy:  q.Get("performed_by"),
		TargetUserID: q.Get("target_user_id"),
		TargetRoleID: q.Get("target_role_id"),
		EntityType:   q.Get("entity_type"),
		EntityID:     q.Get("entity_id"),
		Action:       q.Get("action"),
		Since:        since,
		Until:        until,
		Limit:        limit,
		Offset:       offset,
	}
	entries, err := h.service.GetAuditLog(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handlers) shadowLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, until, err := timeRange(q.Get("since"), q.Get("until"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := ShadowLogFilter{
		UserID:   q.Get("user_id"),
		Category: q.Get("category"),
		Since:    since,
		Until:    until,
		Limit:    limit,
		Offset:   offset,
	}
	if s := q.Get("min_severity"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.fail(w, r, NewError(ErrInvalidInput, "min_severity must be an integer"))
			return
		}
		filter.MinSeverity = n
	}
	entries, err := h.service.ListShadowLog(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func timeRange(since, until string) (time.Time, time.Time, error) {
	var s, u time.Time
	var err error
	if since != "" {
		if s, err = time.Parse(time.RFC3339, since); err != nil {
			return s, u, NewError(ErrInvalidInput, "since must be RFC3339")
		}
	}
	if until != "" {
		if u, err = time.Parse(time.RFC3339, until); err != nil {
			return s, u, NewError(ErrInvalidInput, "until must be RFC3339")
		}
	}
	return s, u, nil
}

func pagination(limit, offset string) (int, int, error) {
	var l, o int
	var err error
	if limit != "" {
		if l, err = strconv.Atoi(limit); err != nil || l < 0 {
			return 0, 0, NewError(ErrInvalidInput, "limit must be a non-negative integer")
		}
	}
	if offset != "" {
		if o, err = strconv.Atoi(offset); err != nil || o < 0 {
			return 0, 0, NewError(ErrInvalidInput, "offset must be a non-negative integer")
		}
	}
	return l, o, nil
}

// ============================================================================
// TRUST & GATE
// ============================================================================

func (h *Handlers) getTrust(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetTrust(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type resetTrustRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) resetTrust(w http.ResponseWriter, r *http.Request) {
	var req resetTrustRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.service.ResetTrust(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type guardRequest struct {
	Content string `json:"content"`
	Context string `json:"context"`
}

// guard screens content on behalf of the authenticated user. The response
// carries only the decision and the generic reason.
func (h *Handlers) guard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := h.mw.getUserID(r)
	if userID == "" {
		h.fail(w, r, ErrNoActorID)
		return
	}
	var req guardRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Guard(ctx, userID, req.Content, req.Context, RequestMetaFromContext(ctx)))
}
