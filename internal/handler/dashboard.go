package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mihir-28/blockchain-scm/internal/guard"
	"github.com/mihir-28/blockchain-scm/internal/profile"
	"github.com/mihir-28/blockchain-scm/internal/provider"
	"github.com/mihir-28/blockchain-scm/internal/session"
	"github.com/mihir-28/blockchain-scm/internal/tokens"
	"go.uber.org/zap"
)

const (
	loginPath        = "/login"
	unauthorizedPath = "/unauthorized"
)

// DashboardHandler serves the role-gated dashboard sections. Each section is
// guarded by the roles allowed to see it; the guard reads the live profile
// document so a role change applies on the next request.
type DashboardHandler struct {
	sessions *session.Registry
	guard    *guard.Guard
	logger   *zap.Logger
}

func NewDashboardHandler(sessions *session.Registry, g *guard.Guard, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{sessions: sessions, guard: g, logger: logger}
}

// Register mounts the dashboard routes. The group carries Optional token
// parsing; the guard itself decides between allow and the two redirects.
func (h *DashboardHandler) Register(rg *gin.RouterGroup) {
	dash := rg.Group("/dashboard")
	{
		dash.GET("/overview", h.gate(), h.section("overview"))
		dash.GET("/products", h.gate(profile.RoleManufacturer, profile.RoleDistributor), h.section("products"))
		dash.GET("/shipments", h.gate(profile.RoleDistributor, profile.RoleRetailer), h.section("shipments"))
		dash.GET("/orders", h.gate(profile.RoleRetailer, profile.RoleConsumer), h.section("orders"))
		dash.GET("/admin", h.gate(profile.RoleAdmin), h.section("admin"))
	}
}

func (h *DashboardHandler) gate(required ...profile.Role) gin.HandlerFunc {
	return h.guard.Middleware(h.identity, loginPath, unauthorizedPath, required...)
}

// identity resolves the caller's provider identity from the session token,
// or nil for an anonymous request.
func (h *DashboardHandler) identity(c *gin.Context) *provider.Identity {
	claims := tokens.ClaimsFromCtx(c)
	if claims == nil {
		return nil
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil
	}
	m, err := h.sessions.ForUser(c.Request.Context(), uid)
	if err != nil {
		h.logger.Warn("resume session for dashboard", zap.String("user_id", uid.String()), zap.Error(err))
		return nil
	}
	cu := m.CurrentUser()
	if cu == nil {
		return nil
	}
	ident := cu.Identity
	return &ident
}

func (h *DashboardHandler) section(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := tokens.ClaimsFromCtx(c)
		c.JSON(http.StatusOK, gin.H{
			"section": name,
			"email":   claims.Email,
		})
	}
}
