package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pmr/pmr-api/internal/core/auth"
)

const ContextPrincipal = "principal"

const (
	MessageUnauthenticated = "No autenticado. Debes iniciar sesión para acceder a este recurso."
	MessageForbidden       = "Acceso denegado. No tienes los permisos necesarios para realizar esta acción."
	MessageInternalOnly    = "Acceso denegado. Este recurso está disponible solo para usuarios internos."
	MessageTokenExpired    = "Token inválido o expirado."
)

// Authenticator resolves bearer tokens. Implemented by auth.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

type AuthMiddleware struct {
	authenticator Authenticator
}

func NewAuthMiddleware(authenticator Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, MessageUnauthenticated)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			abort(c, http.StatusUnauthorized, MessageUnauthenticated)
			return
		}

		principal, err := m.authenticator.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				abort(c, http.StatusUnauthorized, MessageTokenExpired)
			case errors.Is(err, auth.ErrUnauthorized):
				abort(c, http.StatusUnauthorized, MessageUnauthenticated)
			default:
				_ = c.Error(err)
				abort(c, http.StatusInternalServerError, "Error al validar la sesión")
			}
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// RequirePermission passes when the principal holds any of permissions.
func (m *AuthMiddleware) RequirePermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			abort(c, http.StatusUnauthorized, MessageUnauthenticated)
			return
		}
		if len(permissions) == 0 || principal.CanAny(permissions...) {
			c.Next()
			return
		}

		current := principal.Permissions
		if current == nil {
			current = []string{}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"status":               false,
			"message":              MessageForbidden,
			"required_permissions": permissions,
			"current_permissions":  current,
		})
	}
}

// RequireInternalUser passes only for INTERNO users.
func (m *AuthMiddleware) RequireInternalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			abort(c, http.StatusUnauthorized, MessageUnauthenticated)
			return
		}
		if !principal.User.IsInternal() {
			abort(c, http.StatusForbidden, MessageInternalOnly)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"status": false, "message": message})
}

func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	val, exists := c.Get(ContextPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := val.(*auth.Principal)
	if !ok || p == nil || p.User == nil {
		return nil, false
	}
	return p, true
}

// GetUserID returns the id of the authenticated user.
func GetUserID(c *gin.Context) (int64, bool) {
	p, ok := GetPrincipal(c)
	if !ok {
		return 0, false
	}
	return p.User.ID, true
}
