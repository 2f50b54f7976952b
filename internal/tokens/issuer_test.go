package tokens_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mihir-28/blockchain-scm/internal/tokens"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestIssueAndVerify(t *testing.T) {
	issuer := tokens.NewIssuer(testKey(t), "https://scm.example.com", time.Hour)
	uid := uuid.New()

	signed, err := issuer.Issue(uid, "amit@example.com", "MANUFACTURER_ROLE")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != uid.String() {
		t.Errorf("user id = %q, want %q", claims.UserID, uid)
	}
	if claims.Email != "amit@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.Role != "MANUFACTURER_ROLE" {
		t.Errorf("role = %q", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected a JWT ID for revocation")
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	a := tokens.NewIssuer(testKey(t), "https://scm.example.com", time.Hour)
	b := tokens.NewIssuer(testKey(t), "https://scm.example.com", time.Hour)

	signed, err := a.Issue(uuid.New(), "x@example.com", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(signed); err == nil {
		t.Fatal("expected verification to fail with a different key")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := tokens.NewIssuer(testKey(t), "https://scm.example.com", -time.Minute)

	signed, err := issuer.Issue(uuid.New(), "x@example.com", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(signed); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestOAuthStateRoundTrip(t *testing.T) {
	issuer := tokens.NewIssuer(testKey(t), "https://scm.example.com", time.Hour)

	state, err := issuer.IssueOAuthState("/dashboard/orders")
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	next, err := issuer.VerifyOAuthState(state)
	if err != nil {
		t.Fatalf("verify state: %v", err)
	}
	if next != "/dashboard/orders" {
		t.Errorf("next = %q", next)
	}

	// A session token must not pass as an OAuth state.
	session, err := issuer.Issue(uuid.New(), "x@example.com", "")
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	if _, err := issuer.VerifyOAuthState(session); err == nil {
		t.Fatal("expected session token to be rejected as oauth state")
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := tokens.NewIssuer(testKey(t), "https://scm.example.com", time.Hour)
	revoker := tokens.NewMemoryRevoker()

	r := gin.New()
	r.GET("/me", tokens.Authenticate(issuer, revoker), func(c *gin.Context) {
		claims := tokens.ClaimsFromCtx(c)
		c.String(http.StatusOK, claims.Email)
	})

	// No token.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", w.Code)
	}

	signed, err := issuer.Issue(uuid.New(), "amit@example.com", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Valid bearer token.
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "amit@example.com" {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}

	// Same token after revocation.
	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := revoker.Revoke(context.Background(), claims.ID, time.Hour); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked status = %d, want 401", w.Code)
	}
}

func TestLoadOrCreateKeyPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := tokens.LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := tokens.LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.N.Cmp(second.N) != 0 {
		t.Fatal("expected the same key to be reloaded from disk")
	}
}
