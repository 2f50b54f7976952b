// Package handler exposes the session, profile, and dashboard surface over
// HTTP. Handlers resolve the caller's session manager from the verified
// session token and translate its results into JSON responses and redirects.
package handler

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mihir-28/blockchain-scm/internal/profile"
	"github.com/mihir-28/blockchain-scm/internal/provider"
	"github.com/mihir-28/blockchain-scm/internal/session"
	"github.com/mihir-28/blockchain-scm/internal/tokens"
	"go.uber.org/zap"
)

// OAuthStarter is the slice of the account directory the OAuth redirect
// needs. Nil disables the OAuth routes.
type OAuthStarter interface {
	OAuthEnabled() bool
	AuthCodeURL(state string) (string, error)
}

// ResetCompleter consumes a password reset token. Satisfied by the account
// directory.
type ResetCompleter interface {
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
}

// AuthHandler handles signup, login, logout, password flows, and the Google
// OAuth round trip.
type AuthHandler struct {
	sessions    *session.Registry
	issuer      *tokens.Issuer
	revoker     tokens.Revoker
	oauth       OAuthStarter
	resets      ResetCompleter
	frontendURL string
	logger      *zap.Logger
}

func NewAuthHandler(
	sessions *session.Registry,
	issuer *tokens.Issuer,
	revoker tokens.Revoker,
	oauth OAuthStarter,
	resets ResetCompleter,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		sessions:    sessions,
		issuer:      issuer,
		revoker:     revoker,
		oauth:       oauth,
		resets:      resets,
		frontendURL: "http://localhost:3000",
		logger:      logger,
	}
}

// SetFrontendURL sets the base URL the OAuth callback redirects back to.
func (h *AuthHandler) SetFrontendURL(url string) {
	h.frontendURL = url
}

// Register mounts the auth routes. authenticated protects the routes that
// operate on an existing session.
func (h *AuthHandler) Register(rg *gin.RouterGroup, authenticated gin.HandlerFunc) {
	auth := rg.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/reset-password", h.ResetPassword)
		auth.POST("/reset-password/confirm", h.ConfirmReset)
		auth.POST("/logout", authenticated, h.Logout)
		auth.POST("/change-password", authenticated, h.ChangePassword)
		if h.oauth != nil && h.oauth.OAuthEnabled() {
			auth.GET("/oauth/google", h.OAuthRedirect)
			auth.GET("/oauth/google/callback", h.OAuthCallback)
		}
	}
}

// ─── Request types ───────────────────────────────────────────────────────────

type signupRequest struct {
	Email       string `json:"email"    binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	Company     string `json:"company"`
	Phone       string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type resetPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type confirmResetRequest struct {
	Token    string `json:"token"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password"     binding:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := h.sessions.NewManager()
	err := m.SignUp(c.Request.Context(), req.Email, req.Password, session.ProfileFields{
		DisplayName: req.DisplayName,
		Company:     req.Company,
		Phone:       req.Phone,
	})
	if err != nil {
		m.Close()
		switch provider.CodeOf(err) {
		case provider.CodeEmailInUse:
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case provider.CodeInvalidEmail, provider.CodeWeakPassword:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("signup", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		}
		return
	}

	cu, ok := h.settle(c, m)
	if !ok {
		return
	}
	tok, err := h.issueToken(cu)
	if err != nil {
		m.Close()
		h.logger.Error("issue session token after signup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	h.sessions.Bind(m)
	c.JSON(http.StatusCreated, gin.H{"user": cu, "token": tok})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := h.sessions.NewManager()
	if err := m.LogIn(c.Request.Context(), req.Email, req.Password); err != nil {
		m.Close()
		RecordLogin("password", false)
		switch provider.CodeOf(err) {
		case provider.CodeUserNotFound, provider.CodeWrongPassword:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			h.logger.Error("login", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}

	cu, ok := h.settle(c, m)
	if !ok {
		return
	}
	tok, err := h.issueToken(cu)
	if err != nil {
		m.Close()
		h.logger.Error("issue session token after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	h.sessions.Bind(m)
	RecordLogin("password", true)
	c.JSON(http.StatusOK, gin.H{"user": cu, "token": tok})
}

// Logout handles POST /auth/logout. The token is added to the revocation
// denylist for the rest of its lifetime and the server-side session is torn
// down.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := tokens.ClaimsFromCtx(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	if ttl := tokens.RemainingTTL(claims); ttl > 0 {
		if err := h.revoker.Revoke(c.Request.Context(), claims.ID, ttl); err != nil {
			h.logger.Error("revoke session token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
	}
	if uid, err := uuid.Parse(claims.UserID); err == nil {
		h.sessions.Remove(uid)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ResetPassword handles POST /auth/reset-password.
// Always returns 200 so callers cannot probe for registered addresses.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := h.sessions.NewManager()
	defer m.Close()
	if err := m.ResetPassword(c.Request.Context(), req.Email); err != nil {
		h.logger.Warn("send password reset", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "if an account with that email exists, a password reset link has been sent",
	})
}

// ConfirmReset handles POST /auth/reset-password/confirm.
func (h *AuthHandler) ConfirmReset(c *gin.Context) {
	var req confirmResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.resets == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "password reset not configured"})
		return
	}
	if err := h.resets.CompletePasswordReset(c.Request.Context(), req.Token, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated — log in with your new password"})
}

// ChangePassword handles POST /auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, ok := h.managerFor(c)
	if !ok {
		return
	}
	err := m.UpdatePassword(c.Request.Context(), req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "password changed"})
	case err == session.ErrNotAuthenticated:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
	case err == session.ErrCurrentPasswordIncorrect:
		c.JSON(http.StatusBadRequest, gin.H{"error": "current password is incorrect"})
	case err == session.ErrRecentLoginRequired:
		c.JSON(http.StatusForbidden, gin.H{"error": "log in again before changing your password"})
	default:
		h.logger.Error("change password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password change failed"})
	}
}

// OAuthRedirect handles GET /auth/oauth/google — sends the browser to
// Google's consent page. The post-login path rides in the signed state token.
func (h *AuthHandler) OAuthRedirect(c *gin.Context) {
	state, err := h.issuer.IssueOAuthState(c.Query("next"))
	if err != nil {
		h.logger.Error("generate oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate OAuth state"})
		return
	}
	target, err := h.oauth.AuthCodeURL(state)
	if err != nil {
		h.logger.Error("build consent URL", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "OAuth sign-in is not available"})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// OAuthCallback handles GET /auth/oauth/google/callback.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	next, err := h.issuer.VerifyOAuthState(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OAuth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		// The user closed or cancelled the consent screen.
		if c.Query("error") == "access_denied" {
			h.redirectLoginError(c, string(provider.CodePopupClosed))
			return
		}
		h.redirectLoginError(c, "oauth-failed")
		return
	}

	m := h.sessions.NewManager()
	if err := m.SignInWithGoogle(c.Request.Context(), code); err != nil {
		m.Close()
		RecordLogin("google", false)
		if provider.CodeOf(err) == provider.CodeAccountExists {
			h.redirectLoginError(c, string(provider.CodeAccountExists))
			return
		}
		h.logger.Error("google sign in", zap.Error(err))
		h.redirectLoginError(c, "oauth-failed")
		return
	}

	cu, ok := h.settle(c, m)
	if !ok {
		return
	}
	tok, err := h.issueToken(cu)
	if err != nil {
		m.Close()
		h.logger.Error("issue session token after oauth", zap.Error(err))
		h.redirectLoginError(c, "oauth-failed")
		return
	}
	h.sessions.Bind(m)
	RecordLogin("google", true)

	// Token rides in the fragment so it never reaches a server log.
	target := h.frontendURL + "/oauth/callback#token=" + tok
	if next != "" {
		target += "&next=" + url.QueryEscape(next)
	}
	c.Redirect(http.StatusFound, target)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// settle waits for the manager's state to hydrate and returns the current
// user. Closes the manager and writes the error response on failure.
func (h *AuthHandler) settle(c *gin.Context, m *session.Manager) (*session.CurrentUser, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := m.WaitReady(ctx); err != nil {
		m.Close()
		h.logger.Error("session hydration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session setup failed"})
		return nil, false
	}
	cu := m.CurrentUser()
	if cu == nil {
		m.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session setup failed"})
		return nil, false
	}
	return cu, true
}

func (h *AuthHandler) issueToken(cu *session.CurrentUser) (string, error) {
	role := profile.RoleUser.Stored()
	if cu.Profile != nil && cu.Profile.Role != "" {
		role = cu.Profile.Role
	}
	return h.issuer.Issue(cu.ID, cu.Email, role)
}

func (h *AuthHandler) redirectLoginError(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+url.QueryEscape(code))
}

// managerFor resolves the session manager for the authenticated caller.
func (h *AuthHandler) managerFor(c *gin.Context) (*session.Manager, bool) {
	claims := tokens.ClaimsFromCtx(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, false
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID in token"})
		return nil, false
	}
	m, err := h.sessions.ForUser(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("resume session", zap.String("user_id", uid.String()), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return nil, false
	}
	return m, true
}
