package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mihir-28/blockchain-scm/internal/session"
	"github.com/mihir-28/blockchain-scm/internal/tokens"
	"github.com/mihir-28/blockchain-scm/internal/wallet"
	"go.uber.org/zap"
)

// ProfileHandler serves the authenticated principal's merged profile view and
// the wallet endpoints.
type ProfileHandler struct {
	sessions *session.Registry
	wallet   wallet.Provider
	logger   *zap.Logger
}

// NewProfileHandler creates a ProfileHandler. walletProvider may be nil when
// no node is configured; the wallet endpoints then report not-connected.
func NewProfileHandler(sessions *session.Registry, walletProvider wallet.Provider, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{sessions: sessions, wallet: walletProvider, logger: logger}
}

// Register mounts the /me routes. The group must already enforce a valid
// session token.
func (h *ProfileHandler) Register(rg *gin.RouterGroup) {
	me := rg.Group("/me")
	{
		me.GET("/profile", h.GetProfile)
		me.PATCH("/profile", h.UpdateProfile)
		me.GET("/wallet", h.WalletStatus)
		me.POST("/wallet/connect", h.ConnectWallet)
	}
}

type profileUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	Company     *string `json:"company"`
	Phone       *string `json:"phone"`
}

// GetProfile handles GET /me/profile.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	_, cu, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cu)
}

// UpdateProfile handles PATCH /me/profile. Absent fields are untouched.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req profileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, _, ok := h.current(c)
	if !ok {
		return
	}
	err := m.UpdateProfile(c.Request.Context(), session.ProfileUpdate{
		DisplayName: req.DisplayName,
		Company:     req.Company,
		Phone:       req.Phone,
	})
	if err != nil {
		h.logger.Error("update profile", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile update failed"})
		return
	}
	c.JSON(http.StatusOK, m.CurrentUser())
}

// WalletStatus handles GET /me/wallet. Checks for an already-authorized
// account without prompting; any failure reports not-connected.
func (h *ProfileHandler) WalletStatus(c *gin.Context) {
	m, _, ok := h.current(c)
	if !ok {
		return
	}
	st := wallet.Bootstrap(c.Request.Context(), h.wallet, m.UpdateWallet, h.logger)
	c.JSON(http.StatusOK, st)
}

// ConnectWallet handles POST /me/wallet/connect — prompts the user to
// authorize an account.
func (h *ProfileHandler) ConnectWallet(c *gin.Context) {
	m, _, ok := h.current(c)
	if !ok {
		return
	}
	st, err := wallet.Connect(c.Request.Context(), h.wallet, m.UpdateWallet, h.logger)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case errors.Is(err, wallet.ErrRejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet connection rejected"})
	case errors.Is(err, wallet.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no wallet provider available"})
	default:
		h.logger.Error("connect wallet", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "wallet connection failed"})
	}
}

// current resolves the caller's manager and waits for a hydrated view.
func (h *ProfileHandler) current(c *gin.Context) (*session.Manager, *session.CurrentUser, bool) {
	claims := tokens.ClaimsFromCtx(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, nil, false
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID in token"})
		return nil, nil, false
	}
	m, err := h.sessions.ForUser(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("resume session", zap.String("user_id", uid.String()), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return nil, nil, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := m.WaitReady(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not ready"})
		return nil, nil, false
	}
	cu := m.CurrentUser()
	if cu == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, nil, false
	}
	return m, cu, true
}
