package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"integram/pkg/audit"
	"integram/pkg/auth"
	"integram/pkg/grants"
	"integram/pkg/httpx"
	"integram/pkg/metrics"
	"integram/pkg/models"
	"integram/pkg/ratelimit"
	"integram/pkg/reqs"
	"integram/pkg/store"
	"integram/pkg/stream"

	"github.com/go-chi/chi/v5"
)

// serverStore is the accessor slice the handlers depend on. Production
// passes *store.Accessor; tests an in-memory table.
type serverStore interface {
	Insert(ctx context.Context, table string, up, ord, t int64, val string) (int64, error)
	InsertWithID(ctx context.Context, table string, r store.Row) error
	UpdateValue(ctx context.Context, table string, id int64, val string) (bool, error)
	UpdateType(ctx context.Context, table string, id, t int64) (bool, error)
	UpdateUp(ctx context.Context, table string, id, up int64) (bool, error)
	UpdateOrd(ctx context.Context, table string, id, ord int64) (bool, error)
	Delete(ctx context.Context, table string, id int64) (bool, error)
	DeleteChildren(ctx context.Context, table string, up int64) (int64, error)
	GetByID(ctx context.Context, table string, id int64) (*store.Row, error)
	GetRequisiteByType(ctx context.Context, table string, up, t int64) (*store.Row, error)
	FindByTypeValue(ctx context.Context, table string, t int64, val string) (*store.Row, error)
	NextOrder(ctx context.Context, table string, up int64) (int64, error)
	NextOrderOfType(ctx context.Context, table string, up, t int64) (int64, error)
	ListChildren(ctx context.Context, table string, up int64, f store.Filter) ([]store.Row, error)
	CountChildren(ctx context.Context, table string, up int64, f store.Filter) (int64, error)
	ListTypeDefs(ctx context.Context, table string, t int64) ([]store.Row, error)
	ListByValue(ctx context.Context, table, val string, limit int64) ([]store.Row, error)
	ListByType(ctx context.Context, table string, t, afterID, limit int64) ([]store.Row, error)
	PageRows(ctx context.Context, table string, afterID, limit int64) ([]store.Row, error)
	ResolveContext(ctx context.Context, table string, id int64) (*store.ObjectContext, error)
	CreateTable(ctx context.Context, table string) error
	Truncate(ctx context.Context, table string) error
}

type auditStore interface {
	Append(ctx context.Context, rec audit.Record) error
	Tail(ctx context.Context, db string, limit int) ([]audit.Record, error)
}

type Server struct {
	Store               serverStore
	Cache               store.Cache
	Auth                *auth.Engine
	Audit               auditStore
	Metrics             *metrics.Registry
	Events              *stream.Hub
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	MaxRequestBodyBytes int64
	CSVPageSize         int64
	DumpFetchMaxBytes   int64
	HTTPClient          *http.Client
	Version             string
}

// request carries everything a handler needs for one dispatched action.
type request struct {
	db      string
	action  string
	id      int64
	form    url.Values
	shape   models.Shape
	session *auth.Session
	grants  *grants.Map
	tz      int64
	remote  string
	w       http.ResponseWriter
	r       *http.Request
}

func (rq *request) param(name string) string {
	return strings.TrimSpace(rq.form.Get(name))
}

func (rq *request) paramInt(name string) int64 {
	v, _ := strconv.ParseInt(rq.param(name), 10, 64)
	return v
}

type handlerFunc func(s *Server, ctx context.Context, rq *request) (any, error)

type actionDef struct {
	handler  handlerFunc
	public   bool // runs without a token
	mutating bool // XSRF checked, audit written
}

// aliases maps the legacy action spellings onto the canonical ones. The
// rewrite happens before dispatch, so both sides share one handler and one
// metrics bucket.
var aliases = map[string]string{
	"_terms":      "_d_new",
	"_setalias":   "_d_alias",
	"_setnotnull": "_d_notnull",
	"_setmulti":   "_d_multi",
	"_del":        "_d_del",
	"_edit":       "_d_edit",
	"_copy":       "_d_copy",
	"_up":         "_d_up",
	"_setorder":   "_d_order",
	"_settype":    "_d_type",
	"_get":        "_d_get",
	"_backup":     "_dump",
}

var actions = map[string]actionDef{
	// auth
	"_login":  {handler: (*Server).handleLogin, public: true},
	"_logout": {handler: (*Server).handleLogout, mutating: true},
	"_whoami": {handler: (*Server).handleWhoAmI},
	"_passwd": {handler: (*Server).handlePasswd, mutating: true},

	// data objects
	"_d_new":   {handler: (*Server).handleDNew, mutating: true},
	"_d_del":   {handler: (*Server).handleDDel, mutating: true},
	"_d_edit":  {handler: (*Server).handleDEdit, mutating: true},
	"_d_copy":  {handler: (*Server).handleDCopy, mutating: true},
	"_d_up":    {handler: (*Server).handleDUp, mutating: true},
	"_d_order": {handler: (*Server).handleDOrder, mutating: true},
	"_d_move":  {handler: (*Server).handleDMove, mutating: true},
	"_d_type":  {handler: (*Server).handleDType, mutating: true},
	"_d_get":   {handler: (*Server).handleDGet},
	"_d_list":  {handler: (*Server).handleDList},
	"_d_find":  {handler: (*Server).handleDFind},
	"_d_count": {handler: (*Server).handleDCount},
	"_d_clear": {handler: (*Server).handleDClear, mutating: true},
	"_d_vals":  {handler: (*Server).handleDVals},

	// schema
	"_t_new":     {handler: (*Server).handleTNew, mutating: true},
	"_t_del":     {handler: (*Server).handleTDel, mutating: true},
	"_t_req_new": {handler: (*Server).handleTReqNew, mutating: true},
	"_t_req_del": {handler: (*Server).handleTReqDel, mutating: true},
	"_t_list":    {handler: (*Server).handleTList},
	"_t_reqs":    {handler: (*Server).handleTReqs},
	"_d_alias":   {handler: (*Server).handleDAlias, mutating: true},
	"_d_notnull": {handler: (*Server).handleDNotNull, mutating: true},
	"_d_multi":   {handler: (*Server).handleDMulti, mutating: true},

	// references
	"_ref_reqs": {handler: (*Server).handleRefReqs},
	"_ref_uses": {handler: (*Server).handleRefUses},

	// reports
	"_report":   {handler: (*Server).handleReport},
	"_rep_cols": {handler: (*Server).handleRepCols},
	"_rep_set":  {handler: (*Server).handleRepSet, mutating: true},

	// roles
	"_role_new":       {handler: (*Server).handleRoleNew, mutating: true},
	"_role_del":       {handler: (*Server).handleRoleDel, mutating: true},
	"_role_grant":     {handler: (*Server).handleRoleGrant, mutating: true},
	"_role_ungrant":   {handler: (*Server).handleRoleUngrant, mutating: true},
	"_role_grants":    {handler: (*Server).handleRoleGrants},
	"_role_mask":      {handler: (*Server).handleRoleMask, mutating: true},
	"_role_export":    {handler: (*Server).handleRoleExport, mutating: true},
	"_role_deletable": {handler: (*Server).handleRoleDeletable, mutating: true},

	// dump / restore / export
	"_dump":    {handler: (*Server).handleDump},
	"_restore": {handler: (*Server).handleRestore, mutating: true},
	"_csv":     {handler: (*Server).handleCSV},

	// misc
	"_tzone":   {handler: (*Server).handleTZone, public: true},
	"_alive":   {handler: (*Server).handleAlive, public: true},
	"_version": {handler: (*Server).handleVersion, public: true},
	"_log":     {handler: (*Server).handleLog},
	"_events":  {handler: (*Server).handleEvents},
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets the websocket upgrade reach the hijackable writer underneath.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	db := strings.ToLower(chi.URLParam(r, "db"))
	_ = r.ParseMultipartForm(s.MaxRequestBodyBytes)
	_ = r.ParseForm()
	action := chi.URLParam(r, "action")
	if action == "" {
		action = strings.TrimSpace(r.Form.Get("action"))
	}
	if canonical, ok := aliases[action]; ok {
		action = canonical
	}

	rq := &request{
		db:     db,
		action: action,
		form:   r.Form,
		shape:  models.ShapeFromQuery(r.URL.Query()),
		tz:     auth.TZOffset(r),
		remote: clientIP(r),
		w:      rec,
		r:      r,
	}
	if raw := chi.URLParam(r, "id"); raw != "" {
		rq.id, _ = strconv.ParseInt(raw, 10, 64)
	} else {
		rq.id = rq.paramInt("id")
	}

	err := s.serve(r.Context(), rq)
	if err != nil {
		s.failRequest(rec, rq, err)
	}
	s.Metrics.IncDatabase(db)
	s.Metrics.Observe(action, rec.status, time.Since(start))
	s.Metrics.ObserveLatency(action, time.Since(start))
}

func (s *Server) serve(ctx context.Context, rq *request) error {
	if !models.ValidDBName(rq.db) {
		return httpx.Validation("invalid database name")
	}
	def, ok := actions[rq.action]
	if !ok {
		return httpx.NotFound("unknown action")
	}
	if s.RateLimitEnabled && s.RateLimiter != nil {
		decision := s.RateLimiter.Allow(rq.db+":"+rq.remote, s.RateLimitPerMinute)
		if !decision.Allowed {
			rq.w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(decision.ResetAt).Seconds())+1, 10))
			httpx.WriteJSONError(rq.w, http.StatusTooManyRequests, "rate limit exceeded")
			return nil
		}
	}
	if !def.public {
		token := auth.TokenFromRequest(rq.r, rq.db)
		session, err := s.Auth.UserByToken(ctx, rq.db, token)
		if err != nil {
			s.Metrics.IncAuthFailure()
			return httpx.AuthFailed()
		}
		rq.session = session
		g, err := grants.Load(ctx, s.Store, rq.db, session.RoleID)
		if err != nil {
			return httpx.StoreFailed(err)
		}
		rq.grants = g
		if def.mutating {
			if rq.param("_xsrf") != session.XSRF {
				s.Metrics.IncAuthFailure()
				return httpx.AuthFailed()
			}
		}
	}

	result, err := def.handler(s, ctx, rq)
	if err != nil {
		return err
	}
	if def.mutating {
		s.appendAudit(ctx, rq)
	}
	if result == nil {
		// Handler wrote the response itself (dump, csv, websocket).
		return nil
	}
	if rep, ok := result.(*models.Report); ok {
		httpx.WriteReport(rq.w, rq.shape, rep, func(t int64, v string) string {
			return reqs.Encode(t, v, rq.tz)
		})
		return nil
	}
	httpx.WriteJSON(rq.w, http.StatusOK, result)
	return nil
}

func (s *Server) failRequest(w http.ResponseWriter, rq *request, err error) {
	kind := "store"
	var le *httpx.Error
	if errors.As(err, &le) {
		switch le.Kind {
		case httpx.KindValidation:
			kind = "validation"
		case httpx.KindAuth:
			kind = "auth"
		case httpx.KindNotFound:
			kind = "not_found"
		case httpx.KindDenied:
			kind = "denied"
		}
	}
	s.Metrics.IncErrorKind(kind)
	httpx.WriteError(w, rq.shape, err)
}

func (s *Server) appendAudit(ctx context.Context, rq *request) {
	if s.Audit == nil || rq.session == nil {
		return
	}
	rec := audit.Record{
		Database:   rq.db,
		Action:     rq.action,
		ObjectID:   rq.id,
		UserID:     rq.session.UserID,
		Username:   rq.session.Username,
		RemoteAddr: rq.remote,
		Detail:     auditDetail(rq.form),
	}
	if err := s.Audit.Append(ctx, rec); err != nil {
		// Audit is best effort; the action already committed.
		s.Metrics.IncErrorKind("audit")
	}
}

// auditDetail keeps the interesting parameters and drops credentials.
func auditDetail(form url.Values) string {
	var parts []string
	for _, k := range []string{"t", "up", "ord", "val", "alias", "level", "mask", "cols", "role"} {
		if v := strings.TrimSpace(form.Get(k)); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// requireLevel enforces the grant resolver for one object or type. Users
// without a role keep the historical full access; named roles go through
// the resolver.
func (s *Server) requireLevel(ctx context.Context, rq *request, objectID, typeID int64, want grants.Level) error {
	if rq.session == nil {
		return httpx.AuthFailed()
	}
	if rq.session.RoleID == 0 {
		return nil
	}
	ok, err := grants.Check(ctx, s.Store, rq.db, rq.grants, objectID, typeID, want, rq.session.Username)
	if err != nil {
		return httpx.StoreFailed(err)
	}
	if !ok {
		return httpx.Denied(fmt.Sprintf("no %s grant", strings.ToLower(string(want))))
	}
	return nil
}

// publishRow mirrors one mutation to the live event stream.
func (s *Server) publishRow(eventType string, rq *request, id, up, t int64, val string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(stream.NewRowEvent(eventType, rq.db, rq.action, id, up, t, val))
}
