package handler_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mihir-28/blockchain-scm/internal/audit"
	"github.com/mihir-28/blockchain-scm/internal/handler"
	"github.com/mihir-28/blockchain-scm/internal/profile"
	"github.com/mihir-28/blockchain-scm/internal/provider"
	"github.com/mihir-28/blockchain-scm/internal/session"
	"github.com/mihir-28/blockchain-scm/internal/tokens"
	"github.com/mihir-28/blockchain-scm/internal/wallet"
	"go.uber.org/zap"
)

// ── Stub identity directory ───────────────────────────────────────────────

type stubAccount struct {
	ident    provider.Identity
	password string
}

// stubDirectory shares account state between stub sessions the way the real
// directory shares the accounts table.
type stubDirectory struct {
	mu       sync.Mutex
	byEmail  map[string]*stubAccount
	byID     map[uuid.UUID]*stubAccount
	oauthErr error
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		byEmail: make(map[string]*stubAccount),
		byID:    make(map[uuid.UUID]*stubAccount),
	}
}

func (d *stubDirectory) newSession() *stubSession {
	return &stubSession{dir: d}
}

// stubSession implements provider.Provider against the shared directory.
type stubSession struct {
	dir *stubDirectory

	mu       sync.Mutex
	identity *provider.Identity
	subs     []provider.AuthCallback
}

func (s *stubSession) emit(ident *provider.Identity) {
	s.mu.Lock()
	s.identity = ident
	cbs := append([]provider.AuthCallback(nil), s.subs...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(ident)
	}
}

func (s *stubSession) CreateAccount(_ context.Context, email, password string) (*provider.Identity, error) {
	if err := provider.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := provider.ValidatePassword(password); err != nil {
		return nil, err
	}
	s.dir.mu.Lock()
	if _, ok := s.dir.byEmail[email]; ok {
		s.dir.mu.Unlock()
		return nil, provider.NewError(provider.CodeEmailInUse, "email already registered")
	}
	acct := &stubAccount{
		ident:    provider.Identity{ID: uuid.New(), Email: email, CreatedAt: time.Now()},
		password: password,
	}
	s.dir.byEmail[email] = acct
	s.dir.byID[acct.ident.ID] = acct
	s.dir.mu.Unlock()

	ident := acct.ident
	s.emit(&ident)
	return &ident, nil
}

func (s *stubSession) SignIn(_ context.Context, email, password string) (*provider.Identity, error) {
	s.dir.mu.Lock()
	acct, ok := s.dir.byEmail[email]
	s.dir.mu.Unlock()
	if !ok {
		return nil, provider.NewError(provider.CodeUserNotFound, "no account for email")
	}
	if acct.password != password {
		return nil, provider.NewError(provider.CodeWrongPassword, "bad credentials")
	}
	ident := acct.ident
	s.emit(&ident)
	return &ident, nil
}

func (s *stubSession) SignOut(context.Context) error {
	s.emit(nil)
	return nil
}

func (s *stubSession) Resume(_ context.Context, id uuid.UUID) (*provider.Identity, error) {
	s.dir.mu.Lock()
	acct, ok := s.dir.byID[id]
	s.dir.mu.Unlock()
	if !ok {
		return nil, provider.NewError(provider.CodeUserNotFound, "no account for id")
	}
	ident := acct.ident
	s.emit(&ident)
	return &ident, nil
}

func (s *stubSession) Subscribe(cb provider.AuthCallback) func() {
	s.mu.Lock()
	s.subs = append(s.subs, cb)
	current := s.identity
	s.mu.Unlock()
	cb(current)
	return func() {}
}

func (s *stubSession) SendPasswordReset(context.Context, string) error { return nil }

func (s *stubSession) OAuthSignIn(_ context.Context, _ string) (*provider.Identity, error) {
	if s.dir.oauthErr != nil {
		return nil, s.dir.oauthErr
	}
	s.dir.mu.Lock()
	acct, ok := s.dir.byEmail["google@example.com"]
	if !ok {
		acct = &stubAccount{ident: provider.Identity{ID: uuid.New(), Email: "google@example.com"}}
		s.dir.byEmail[acct.ident.Email] = acct
		s.dir.byID[acct.ident.ID] = acct
	}
	s.dir.mu.Unlock()
	ident := acct.ident
	s.emit(&ident)
	return &ident, nil
}

func (s *stubSession) UpdateDisplayName(context.Context, uuid.UUID, string) error { return nil }

func (s *stubSession) Reauthenticate(_ context.Context, id uuid.UUID, current string) error {
	s.dir.mu.Lock()
	acct, ok := s.dir.byID[id]
	s.dir.mu.Unlock()
	if !ok || acct.password != current {
		return provider.NewError(provider.CodeWrongPassword, "bad credentials")
	}
	return nil
}

func (s *stubSession) ChangePassword(_ context.Context, id uuid.UUID, newPassword string) error {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	acct, ok := s.dir.byID[id]
	if !ok {
		return provider.NewError(provider.CodeUserNotFound, "no account for id")
	}
	acct.password = newPassword
	return nil
}

func (s *stubSession) Close() {}

// ── Stub profile store ────────────────────────────────────────────────────

type memStore struct {
	mu   sync.Mutex
	docs map[string]*profile.Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*profile.Document)}
}

func (s *memStore) Get(_ context.Context, id string) (*profile.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *memStore) Set(_ context.Context, id string, doc *profile.Document, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	cp.ID = id
	s.docs[id] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return profile.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case profile.FieldWalletAddress:
			doc.WalletAddress = v.(string)
		case profile.FieldDisplayName:
			doc.DisplayName = v.(string)
		case profile.FieldCompany:
			doc.Company = v.(string)
		case profile.FieldPhone:
			doc.Phone = v.(string)
		case profile.FieldRole:
			doc.Role = v.(string)
		}
	}
	return nil
}

func (s *memStore) List(context.Context, map[string]any) ([]*profile.Document, error) {
	return nil, nil
}

// ── Test setup ────────────────────────────────────────────────────────────

type testEnv struct {
	router   *gin.Engine
	dir      *stubDirectory
	store    *memStore
	issuer   *tokens.Issuer
	sessions *session.Registry
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := tokens.NewIssuer(key, "http://test", time.Hour)
	revoker := tokens.NewMemoryRevoker()

	dir := newStubDirectory()
	store := newMemStore()
	logger := zap.NewNop()
	factory := func() *session.Manager {
		return session.NewManager(dir.newSession(), store, audit.NewNoopPublisher(logger), logger)
	}
	sessions := session.NewRegistry(factory, logger)
	t.Cleanup(sessions.Close)

	authH := handler.NewAuthHandler(sessions, issuer, revoker, nil, nil, logger)
	profileH := handler.NewProfileHandler(sessions, nil, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	authH.Register(v1, tokens.Authenticate(issuer, revoker))
	authed := v1.Group("", tokens.Authenticate(issuer, revoker))
	profileH.Register(authed)

	return &testEnv{router: r, dir: dir, store: store, issuer: issuer, sessions: sessions}
}

func postJSON(t *testing.T, router *gin.Engine, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signup(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	body := `{"email":"` + email + `","password":"password123","display_name":"Alice","company":"Acme"}`
	w := postJSON(t, env.router, "/api/v1/auth/signup", body, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("signup response: %s (err %v)", w.Body.String(), err)
	}
	return resp.Token
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestSignup_201_createsProfile(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	claims, err := env.issuer.Verify(tok)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	doc, err := env.store.Get(context.Background(), claims.UserID)
	if err != nil {
		t.Fatalf("profile doc: %v", err)
	}
	if doc.Role != "user" || doc.Company != "Acme" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestSignup_409_duplicateEmail(t *testing.T) {
	env := setupEnv(t)
	signup(t, env, "alice@example.com")

	body := `{"email":"alice@example.com","password":"password123"}`
	w := postJSON(t, env.router, "/api/v1/auth/signup", body, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSignup_400_weakPassword(t *testing.T) {
	env := setupEnv(t)

	body := `{"email":"bob@example.com","password":"short"}`
	w := postJSON(t, env.router, "/api/v1/auth/signup", body, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin_200(t *testing.T) {
	env := setupEnv(t)
	signup(t, env, "alice@example.com")

	body := `{"email":"alice@example.com","password":"password123"}`
	w := postJSON(t, env.router, "/api/v1/auth/login", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == nil || resp["user"] == nil {
		t.Errorf("response = %s", w.Body.String())
	}
}

func TestLogin_401_badCredentials(t *testing.T) {
	env := setupEnv(t)
	signup(t, env, "alice@example.com")

	for _, body := range []string{
		`{"email":"alice@example.com","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"password123"}`,
	} {
		w := postJSON(t, env.router, "/api/v1/auth/login", body, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
		}
	}
}

func TestLogout_revokesToken(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	w := postJSON(t, env.router, "/api/v1/auth/logout", `{}`, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The revoked token no longer opens authenticated routes.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/profile", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestResetPassword_alwaysGeneric(t *testing.T) {
	env := setupEnv(t)

	w := postJSON(t, env.router, "/api/v1/auth/reset-password", `{"email":"unknown@example.com"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestChangePassword_statusCodes(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	// Wrong current password.
	w := postJSON(t, env.router, "/api/v1/auth/change-password",
		`{"current_password":"nope","new_password":"newpassword1"}`, tok)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong current: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// Correct current password.
	w = postJSON(t, env.router, "/api/v1/auth/change-password",
		`{"current_password":"password123","new_password":"newpassword1"}`, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Login works with the new password only.
	w = postJSON(t, env.router, "/api/v1/auth/login",
		`{"email":"alice@example.com","password":"newpassword1"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", w.Code)
	}
}

func TestGetProfile_200(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/profile", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var cu struct {
		Email   string            `json:"email"`
		Profile *profile.Document `json:"profile"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cu); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cu.Email != "alice@example.com" || cu.Profile == nil {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestUpdateProfile_patchesFields(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/me/profile",
		strings.NewReader(`{"company":"New Co"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	claims, _ := env.issuer.Verify(tok)
	doc, err := env.store.Get(context.Background(), claims.UserID)
	if err != nil || doc.Company != "New Co" {
		t.Fatalf("doc = %+v err = %v", doc, err)
	}
	if doc.DisplayName != "Alice" {
		t.Errorf("display name clobbered: %+v", doc)
	}
}

func TestWalletStatus_noProvider(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var st wallet.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Connected {
		t.Fatal("expected not connected without a node")
	}
}

func TestSessionResumesAfterRegistryRestart(t *testing.T) {
	env := setupEnv(t)
	tok := signup(t, env, "alice@example.com")

	// Drop the live manager to simulate a process restart; the next request
	// must lazily resume from the still-valid token.
	claims, _ := env.issuer.Verify(tok)
	uid, _ := uuid.Parse(claims.UserID)
	env.sessions.Remove(uid)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/profile", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after resume, got %d: %s", w.Code, w.Body.String())
	}
}

// The production wiring hands the account directory to the auth handler as
// its OAuth starter; keep the two in sync at compile time.
var _ handler.OAuthStarter = (*provider.Directory)(nil)

type stubOAuth struct{}

func (stubOAuth) OAuthEnabled() bool { return true }
func (stubOAuth) AuthCodeURL(state string) (string, error) {
	return "https://consent.example.com/auth?state=" + state, nil
}

func TestOAuthRedirectSendsBrowserToConsent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := tokens.NewIssuer(key, "http://test", time.Hour)
	revoker := tokens.NewMemoryRevoker()
	logger := zap.NewNop()

	dir := newStubDirectory()
	store := newMemStore()
	factory := func() *session.Manager {
		return session.NewManager(dir.newSession(), store, audit.NewNoopPublisher(logger), logger)
	}
	sessions := session.NewRegistry(factory, logger)
	t.Cleanup(sessions.Close)

	authH := handler.NewAuthHandler(sessions, issuer, revoker, stubOAuth{}, nil, logger)
	r := gin.New()
	authH.Register(r.Group("/api/v1"), tokens.Authenticate(issuer, revoker))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/oauth/google?next=/dashboard", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	const prefix = "https://consent.example.com/auth?state="
	if !strings.HasPrefix(loc, prefix) {
		t.Fatalf("unexpected redirect target %q", loc)
	}

	// The post-login path must survive the round trip through the state token.
	next, err := issuer.VerifyOAuthState(strings.TrimPrefix(loc, prefix))
	if err != nil {
		t.Fatalf("verify state: %v", err)
	}
	if next != "/dashboard" {
		t.Fatalf("expected next /dashboard, got %q", next)
	}
}
