package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loomspace.org/internal/access"
	"loomspace.org/internal/authn"
	"loomspace.org/internal/ratelimit"
	"loomspace.org/internal/session"
	"loomspace.org/internal/store/memory"
)

const testPassword = "correct horse battery staple"

type testEnv struct {
	handler http.Handler
	store   *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	st.PutDrive(access.Drive{ID: "d1", OwnerID: "alice"})
	st.PutNode(access.ResourceNode{ID: "root", DriveID: "d1", Position: 0})
	child := "root"
	st.PutNode(access.ResourceNode{ID: "child", ParentID: &child, DriveID: "d1", Position: 0})

	authority, err := session.NewAuthority(st,
		session.WithServiceTokenKey([]byte("0123456789abcdef0123456789abcdef")))
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	counter := ratelimit.NewMemoryCounter()
	t.Cleanup(counter.Close)
	limiter, err := ratelimit.NewLimiter(counter)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	authenticator, err := authn.New(authn.Config{Authority: authority, Limiter: limiter, Directory: st})
	if err != nil {
		t.Fatalf("authn.New: %v", err)
	}
	resolver, err := access.NewResolver(st)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	hash, err := session.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	api := New(Config{
		Authenticator: authenticator,
		Authority:     authority,
		Resolver:      resolver,
		Version:       "test",
		Passwords:     map[string]string{"alice": hash, "bob": hash},
	})
	return &testEnv{handler: api.Handler(), store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string, mut func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "198.51.100.1:40000"
	if mut != nil {
		mut(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type loginResult struct {
	cookie *http.Cookie
	csrf   string
}

func (e *testEnv) login(t *testing.T, user string) loginResult {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions",
		`{"user_id":"`+user+`","password":"`+testPassword+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		CSRFToken string    `json:"csrf_token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.CSRFToken == "" || !body.ExpiresAt.After(time.Now()) {
		t.Fatalf("implausible login response: %+v", body)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			if !c.HttpOnly {
				t.Fatalf("session cookie must be HttpOnly")
			}
			return loginResult{cookie: c, csrf: body.CSRFToken}
		}
	}
	t.Fatalf("login did not set the session cookie")
	return loginResult{}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/sessions",
		`{"user_id":"alice","password":"wrong"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/v1/sessions",
		`{"user_id":"ghost","password":"whatever"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	login := e.login(t, "alice")

	// The owner sees full access on her own node.
	rec := e.do(t, http.MethodGet, "/v1/nodes/child/access", "", func(r *http.Request) {
		r.AddCookie(login.cookie)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("node access: status %d, body %s", rec.Code, rec.Body.String())
	}
	var eff struct {
		CanView  bool   `json:"can_view"`
		CanEdit  bool   `json:"can_edit"`
		CanShare bool   `json:"can_share"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &eff); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !eff.CanView || !eff.CanEdit || !eff.CanShare || eff.Reason != "owner" {
		t.Fatalf("unexpected effective access: %+v", eff)
	}

	// Logout without the anti-forgery header is refused.
	rec = e.do(t, http.MethodDelete, "/v1/sessions", "", func(r *http.Request) {
		r.AddCookie(login.cookie)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("logout without CSRF: status %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/v1/sessions", "", func(r *http.Request) {
		r.AddCookie(login.cookie)
		r.Header.Set(csrfHeader, login.csrf)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d, body %s", rec.Code, rec.Body.String())
	}

	// The session is dead afterwards.
	rec = e.do(t, http.MethodGet, "/v1/nodes/child/access", "", func(r *http.Request) {
		r.AddCookie(login.cookie)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session: status %d", rec.Code)
	}
}

func TestNodeAccessRequiresAuthentication(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/nodes/child/access", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestNodeAccessUnknownNode(t *testing.T) {
	e := newTestEnv(t)
	login := e.login(t, "alice")
	rec := e.do(t, http.MethodGet, "/v1/nodes/nope/access", "", func(r *http.Request) {
		r.AddCookie(login.cookie)
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAccessTreeGating(t *testing.T) {
	e := newTestEnv(t)
	e.store.PutGrant(access.Grant{NodeID: "child", UserID: "bob", CanView: true})

	// Bob can look at his own tree.
	bob := e.login(t, "bob")
	rec := e.do(t, http.MethodGet, "/v1/drives/d1/access-tree", "", func(r *http.Request) {
		r.AddCookie(bob.cookie)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("own tree: status %d, body %s", rec.Code, rec.Body.String())
	}

	// Bob has no share rights on the drive, so someone else's tree is off limits.
	rec = e.do(t, http.MethodGet, "/v1/drives/d1/access-tree?user=alice", "", func(r *http.Request) {
		r.AddCookie(bob.cookie)
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign tree: status %d, body %s", rec.Code, rec.Body.String())
	}

	// The drive owner may inspect anyone's tree.
	alice := e.login(t, "alice")
	rec = e.do(t, http.MethodGet, "/v1/drives/d1/access-tree?user=bob", "", func(r *http.Request) {
		r.AddCookie(alice.cookie)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner inspecting bob: status %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		UserID string `json:"user_id"`
		Tree   []struct {
			NodeID   string `json:"node_id"`
			Children []struct {
				NodeID    string `json:"node_id"`
				Effective struct {
					CanView bool `json:"can_view"`
				} `json:"effective"`
			} `json:"children"`
		} `json:"tree"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if body.UserID != "bob" || len(body.Tree) != 1 || body.Tree[0].NodeID != "root" {
		t.Fatalf("unexpected tree shape: %s", rec.Body.String())
	}
	if len(body.Tree[0].Children) != 1 || !body.Tree[0].Children[0].Effective.CanView {
		t.Fatalf("bob's grant missing from the tree: %s", rec.Body.String())
	}
}

func TestDeviceTokenMintAndUse(t *testing.T) {
	e := newTestEnv(t)
	login := e.login(t, "alice")

	rec := e.do(t, http.MethodPost, "/v1/device-tokens",
		`{"scopes":["files:read"],"ttl_seconds":3600}`, func(r *http.Request) {
			r.AddCookie(login.cookie)
			r.Header.Set(csrfHeader, login.csrf)
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("mint: status %d, body %s", rec.Code, rec.Body.String())
	}
	var minted struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &minted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if minted.Token == "" {
		t.Fatalf("no token in response")
	}

	rec = e.do(t, http.MethodGet, "/v1/nodes/child/access", "", func(r *http.Request) {
		r.Header.Set(authHeader, bearerPrefix+minted.Token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer access: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestServiceTokenMintRequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	login := e.login(t, "alice")

	body := `{"tenant_id":"t1","purpose":"export","scopes":["export:run"]}`
	rec := e.do(t, http.MethodPost, "/v1/service-tokens", body, func(r *http.Request) {
		r.AddCookie(login.cookie)
		r.Header.Set(csrfHeader, login.csrf)
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin mint: status %d, body %s", rec.Code, rec.Body.String())
	}

	e.store.SetAdmin("alice", true)
	rec = e.do(t, http.MethodPost, "/v1/service-tokens", body, func(r *http.Request) {
		r.AddCookie(login.cookie)
		r.Header.Set(csrfHeader, login.csrf)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin mint: status %d, body %s", rec.Code, rec.Body.String())
	}
	var minted struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &minted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Count(minted.Token, ".") != 2 {
		t.Fatalf("service token must be a compact JWT, got %q", minted.Token)
	}

	rec = e.do(t, http.MethodGet, "/v1/nodes/child/access", "", func(r *http.Request) {
		r.Header.Set(serviceTokenHeader, minted.Token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("service access: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}
