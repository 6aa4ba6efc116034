package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"integram/pkg/auth"
	"integram/pkg/metrics"
	"integram/pkg/reqs"
	"integram/pkg/store"
	"integram/pkg/stream"
)

const testDB = "mydb"

type testEnv struct {
	srv    *Server
	router http.Handler
	mem    *memStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := newMemStore()
	srv := &Server{
		Store: mem,
		Cache: store.NewMemoryCache(),
		Auth: &auth.Engine{
			Store:      mem,
			Salt:       "testsalt",
			ServerName: "integram",
		},
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		MaxRequestBodyBytes: 1 << 20,
		CSVPageSize:         1000,
		DumpFetchMaxBytes:   1 << 20,
		Version:             "test",
	}
	mem.seed(testDB, store.Row{ID: 1, Up: 0, Ord: 1, T: reqs.TypeRoot, Val: testDB})
	return &testEnv{srv: srv, router: buildRouter(srv), mem: mem}
}

// seedUser stores a user with the legacy password hash and returns its id.
func (e *testEnv) seedUser(username, password string) int64 {
	user := e.mem.seed(testDB, store.Row{Up: 1, T: reqs.TypeUser, Val: username})
	hash := e.srv.Auth.PasswordHash(username, testDB, password)
	e.mem.seed(testDB, store.Row{Up: user.ID, T: reqs.TypePassword, Val: hash})
	return user.ID
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// login authenticates and returns (token, xsrf).
func (e *testEnv) login(t *testing.T, username, password string) (string, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/"+testDB+"/_login?JSON", url.Values{
		"login": {username},
		"pwd":   {password},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		XSRF  string `json:"_xsrf"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("login body: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("login returned no token: %s", w.Body.String())
	}
	return resp.Token, resp.XSRF
}

func TestLoginScenario(t *testing.T) {
	env := newTestEnv(t)
	uid := env.seedUser("d", "d")

	w := env.do(t, http.MethodPost, "/"+testDB+"/_login?JSON", url.Values{
		"login": {"d"},
		"pwd":   {"d"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		XSRF  string `json:"_xsrf"`
		Token string `json:"token"`
		ID    int64  `json:"id"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.XSRF) != 22 {
		t.Errorf("xsrf length = %d, want 22", len(resp.XSRF))
	}
	if resp.ID != uid {
		t.Errorf("id = %d, want %d", resp.ID, uid)
	}
	if resp.Msg != "" {
		t.Errorf("msg = %q, want empty", resp.Msg)
	}
	var sawCookie bool
	for _, c := range w.Result().Cookies() {
		if c.Name == testDB && c.Value == resp.Token {
			sawCookie = true
		}
	}
	if !sawCookie {
		t.Errorf("no %s cookie carrying the token", testDB)
	}
}

func TestLoginBadPasswordWrappedIn200(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")

	w := env.do(t, http.MethodPost, "/"+testDB+"/_login?JSON", url.Values{
		"login": {"d"},
		"pwd":   {"wrong"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `[{"error":"invalid credentials"}]` {
		t.Errorf("body = %s", got)
	}
}

func TestInvalidDBName(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/1bad/_alive?JSON", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid database name") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/"+testDB+"/_nosuch?JSON", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestVersionIsPublic(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/"+testDB+"/_version?JSON", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"version":"test"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestProtectedActionWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/"+testDB+"/_whoami?JSON", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `[{"error":"invalid credentials"}]` {
		t.Errorf("body = %s", got)
	}
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	uid := env.seedUser("d", "d")
	token, _ := env.login(t, "d", "d")

	w := env.do(t, http.MethodGet, "/"+testDB+"/_whoami?JSON&token="+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		ID   int64  `json:"id"`
		User string `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != uid || resp.User != "d" {
		t.Errorf("whoami = %+v", resp)
	}
}

func TestMutationRequiresXSRF(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, xsrf := env.login(t, "d", "d")
	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Note"}).ID
	obj := env.mem.seed(testDB, store.Row{Up: 1, T: typeID, Val: "old"})

	w := env.do(t, http.MethodPost, "/"+testDB+"/_d_edit/"+strconv.FormatInt(obj.ID, 10)+"?JSON", url.Values{
		"token": {token},
		"val":   {"new"},
	})
	if got := strings.TrimSpace(w.Body.String()); got != `[{"error":"invalid credentials"}]` {
		t.Fatalf("missing xsrf: body = %s", got)
	}

	w = env.do(t, http.MethodPost, "/"+testDB+"/_d_edit/"+strconv.FormatInt(obj.ID, 10)+"?JSON", url.Values{
		"token": {token},
		"_xsrf": {xsrf},
		"val":   {"new"},
	})
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "error") {
		t.Fatalf("with xsrf: status %d body %s", w.Code, w.Body.String())
	}
	row, _ := env.mem.GetByID(context.Background(), testDB, obj.ID)
	if row.Val != "new" {
		t.Errorf("val = %q, want new", row.Val)
	}
}

func TestAliasDispatchByteIdentical(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, _ := env.login(t, "d", "d")
	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Company"}).ID
	obj := env.mem.seed(testDB, store.Row{Up: 1, T: typeID, Val: "Acme"})

	canonical := env.do(t, http.MethodGet,
		"/"+testDB+"/_d_get/"+strconv.FormatInt(obj.ID, 10)+"?JSON&token="+token, nil)
	aliased := env.do(t, http.MethodGet,
		"/"+testDB+"/_get/"+strconv.FormatInt(obj.ID, 10)+"?JSON&token="+token, nil)
	if canonical.Code != http.StatusOK {
		t.Fatalf("canonical status = %d body %s", canonical.Code, canonical.Body.String())
	}
	if canonical.Body.String() != aliased.Body.String() {
		t.Errorf("alias body differs:\n%s\n%s", canonical.Body.String(), aliased.Body.String())
	}
}

func TestRefReqsFormatting(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, _ := env.login(t, "d", "d")

	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Company"}).ID
	city := env.mem.seed(testDB, store.Row{Up: typeID, Ord: 1, T: reqs.TypeChars, Val: "City"})
	env.mem.seed(testDB, store.Row{Up: typeID, Ord: 2, T: reqs.TypeChars, Val: "Phone"})
	obj := env.mem.seed(testDB, store.Row{Up: 1, T: typeID, Val: "Acme"})
	env.mem.seed(testDB, store.Row{Up: obj.ID, T: city.ID, Val: "NYC"})

	w := env.do(t, http.MethodGet,
		"/"+testDB+"/_ref_reqs?JSON&t="+strconv.FormatInt(typeID, 10)+"&token="+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := out[strconv.FormatInt(obj.ID, 10)]
	if got != "Acme / NYC / --" {
		t.Errorf("label = %q, want %q", got, "Acme / NYC / --")
	}
}

func TestGrantDenied(t *testing.T) {
	env := newTestEnv(t)
	uid := env.seedUser("bob", "pw")

	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Company"}).ID
	obj := env.mem.seed(testDB, store.Row{Up: 1, T: typeID, Val: "Acme"})

	role := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeRole, Val: "clerk"})
	env.mem.seed(testDB, store.Row{Up: uid, T: reqs.TypeRole, Val: strconv.FormatInt(role.ID, 10)})
	entry := env.mem.seed(testDB, store.Row{Up: role.ID, T: reqs.TypeRoleObject, Val: strconv.FormatInt(typeID, 10)})
	env.mem.seed(testDB, store.Row{Up: entry.ID, T: reqs.TypeLevel, Val: "READ"})

	token, xsrf := env.login(t, "bob", "pw")

	// Reading the granted type works.
	w := env.do(t, http.MethodGet,
		"/"+testDB+"/_d_get/"+strconv.FormatInt(obj.ID, 10)+"?JSON&token="+token, nil)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "error") {
		t.Fatalf("read: status %d body %s", w.Code, w.Body.String())
	}

	// Writing it is denied: the found READ grant does not fall through.
	w = env.do(t, http.MethodPost, "/"+testDB+"/_d_edit/"+strconv.FormatInt(obj.ID, 10)+"?JSON", url.Values{
		"token": {token},
		"_xsrf": {xsrf},
		"val":   {"Evil"},
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("write: status = %d, want 403 (body %s)", w.Code, w.Body.String())
	}
}

func TestRoleZeroHasFullAccess(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, xsrf := env.login(t, "d", "d")
	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Note"}).ID

	w := env.do(t, http.MethodPost, "/"+testDB+"/_d_new?JSON", url.Values{
		"token": {token},
		"_xsrf": {xsrf},
		"t":     {strconv.FormatInt(typeID, 10)},
		"val":   {"hello"},
	})
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "error") {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	row, _ := env.mem.GetByID(context.Background(), testDB, resp.ID)
	if row == nil || row.Val != "hello" || row.T != typeID {
		t.Errorf("created row = %+v", row)
	}
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("admin", "pw")
	token, xsrf := env.login(t, "admin", "pw")
	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Company"}).ID
	env.mem.seed(testDB, store.Row{Up: 1, T: typeID, Val: "Acme"})

	w := env.do(t, http.MethodGet, "/"+testDB+"/_dump?token="+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dump status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".dmp") {
		t.Errorf("content disposition = %q", cd)
	}
	dumpBody := w.Body.String()

	before := len(env.mem.tables[testDB])
	w = env.do(t, http.MethodPost, "/"+testDB+"/_restore?JSON", url.Values{
		"token": {token},
		"_xsrf": {xsrf},
		"data":  {dumpBody},
	})
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "error") {
		t.Fatalf("restore status %d body %s", w.Code, w.Body.String())
	}
	if after := len(env.mem.tables[testDB]); after != before {
		t.Errorf("row count after restore = %d, want %d", after, before)
	}
}

func TestRestoreRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, xsrf := env.login(t, "d", "d")

	w := env.do(t, http.MethodPost, "/"+testDB+"/_restore?JSON", url.Values{
		"token": {token},
		"_xsrf": {xsrf},
		"data":  {"\uFEFF1;0;1;;root"},
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestBackupAliasMatchesDump(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, _ := env.login(t, "d", "d")

	a := env.do(t, http.MethodGet, "/"+testDB+"/_dump?token="+token, nil)
	b := env.do(t, http.MethodGet, "/"+testDB+"/_backup?token="+token, nil)
	if a.Code != http.StatusOK || b.Code != http.StatusOK {
		t.Fatalf("status %d %d", a.Code, b.Code)
	}
	if a.Body.String() != b.Body.String() {
		t.Errorf("_backup differs from _dump")
	}
}

func TestCSVExport(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("d", "d")
	token, _ := env.login(t, "d", "d")
	typeID := env.mem.seed(testDB, store.Row{Up: 0, T: reqs.TypeChars, Val: "Company"}).ID
	env.mem.seed(testDB, store.Row{Up: 1, T: typeID, Val: "Acme"})

	w := env.do(t, http.MethodGet, "/"+testDB+"/_csv?t="+strconv.FormatInt(typeID, 10)+"&token="+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Acme") {
		t.Errorf("csv body = %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestTZoneRounds(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/"+testDB+"/_tzone?JSON&tz=3500", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var sawCookie bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "tzone" && c.Value == "3600" {
			sawCookie = true
		}
	}
	if !sawCookie {
		t.Errorf("tzone cookie not rounded: %v", w.Result().Cookies())
	}
}
