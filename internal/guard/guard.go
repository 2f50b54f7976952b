// Package guard decides whether an authenticated principal may reach a
// role-gated route. The decision core is transport-free; Middleware adapts it
// to gin.
package guard

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/mihir-28/blockchain-scm/internal/profile"
	"github.com/mihir-28/blockchain-scm/internal/provider"
	"go.uber.org/zap"
)

// Decision is the outcome of a guard check.
type Decision int

const (
	// Allow lets the request through.
	Allow Decision = iota
	// RedirectLogin sends an unauthenticated caller to the login page,
	// carrying the origin so login can bounce back.
	RedirectLogin
	// RedirectUnauthorized sends an authenticated but under-privileged
	// caller to the unauthorized page, carrying the origin like
	// RedirectLogin does.
	RedirectUnauthorized
)

// String names the decision for logs and metrics labels.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	}
	return "unknown"
}

// Result carries the decision plus the origin path to return to after login.
type Result struct {
	Decision Decision
	Origin   string
}

// profileGetter is the slice of profile.Store the guard needs.
type profileGetter interface {
	Get(ctx context.Context, id string) (*profile.Document, error)
}

// Guard checks role requirements against the live profile document, so a
// role change takes effect on the next request rather than at next login.
type Guard struct {
	profiles   profileGetter
	logger     *zap.Logger
	onDecision func(string)
}

func New(profiles profileGetter, logger *zap.Logger) *Guard {
	return &Guard{profiles: profiles, logger: logger}
}

// SetDecisionHook registers a callback invoked with each middleware
// decision ("allow", "redirect_login", "redirect_unauthorized").
func (g *Guard) SetDecisionHook(fn func(string)) {
	g.onDecision = fn
}

// Check evaluates one request. With no required roles any authenticated
// identity passes and the profile store is never consulted. Admins pass every
// role gate. A profile read failure, a missing document, and an
// unrecognizable stored role all deny: the guard fails closed.
func (g *Guard) Check(ctx context.Context, ident *provider.Identity, required []profile.Role, origin string) Result {
	if ident == nil {
		return Result{Decision: RedirectLogin, Origin: origin}
	}
	if len(required) == 0 {
		return Result{Decision: Allow}
	}

	doc, err := g.profiles.Get(ctx, ident.ID.String())
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			g.logger.Warn("role check failed",
				zap.String("account_id", ident.ID.String()),
				zap.Error(err),
			)
		}
		return Result{Decision: RedirectUnauthorized, Origin: origin}
	}

	role, err := profile.ParseRole(doc.Role)
	if err != nil {
		return Result{Decision: RedirectUnauthorized, Origin: origin}
	}
	if role == profile.RoleAdmin {
		return Result{Decision: Allow}
	}
	for _, want := range required {
		if role == want {
			return Result{Decision: Allow}
		}
	}
	return Result{Decision: RedirectUnauthorized, Origin: origin}
}

// IdentityFunc resolves the request's authenticated identity, or nil.
type IdentityFunc func(c *gin.Context) *provider.Identity

// withNext appends the origin path as the next query parameter, so both
// redirect targets can bounce the caller back where they were headed.
func withNext(path, origin string) string {
	if origin == "" {
		return path
	}
	return path + "?next=" + url.QueryEscape(origin)
}

// Middleware gates a route group. Unauthenticated callers get a 302 to
// loginPath, under-privileged callers a 302 to unauthorizedPath, both with
// the original path in the next parameter.
func (g *Guard) Middleware(identity IdentityFunc, loginPath, unauthorizedPath string, required ...profile.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := g.Check(c.Request.Context(), identity(c), required, c.Request.URL.Path)
		if g.onDecision != nil {
			g.onDecision(res.Decision.String())
		}
		switch res.Decision {
		case Allow:
			c.Next()
		case RedirectLogin:
			c.Redirect(http.StatusFound, withNext(loginPath, res.Origin))
			c.Abort()
		case RedirectUnauthorized:
			c.Redirect(http.StatusFound, withNext(unauthorizedPath, res.Origin))
			c.Abort()
		}
	}
}
