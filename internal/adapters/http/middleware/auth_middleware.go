package middleware

import (
	"errors"
	"strings"

	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/jwt"
	"zakat-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ActorKey is the Locals key holding the authenticated domain.Actor
const ActorKey = "actor"

func bearerToken(c *fiber.Ctx) string {
	// 1. Try to get token from cookie first
	if token := c.Cookies("access_token"); token != "" {
		return token
	}

	// 2. If not in cookie, try Authorization header
	authHeader := c.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// AuthMiddleware validates the access token and stores the caller as a
// domain.Actor. Tokens are issued elsewhere; only the outcome is consumed.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := bearerToken(c)
		if accessToken == "" {
			return response.Unauthorized(c, "Access token required")
		}

		claims, err := jwt.ValidateAccessToken(accessToken, cfg.JWT.Secret)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return response.Unauthorized(c, "Access token expired")
			}
			return response.Unauthorized(c, "Invalid access token")
		}

		actor := domain.Actor{ID: claims.UserID, Role: domain.Role(claims.Role)}
		if !actor.CanOperate() {
			return response.Forbidden(c, "Role is not allowed to operate donations")
		}

		c.Locals(ActorKey, actor)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// RoleMiddleware creates role-based authorization middleware
func RoleMiddleware(allowedRoles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}

		for _, allowed := range allowedRoles {
			if actor.Role == allowed {
				return c.Next()
			}
		}

		return response.Forbidden(c, "You don't have permission to access this resource")
	}
}

// AdminOnly middleware allows ADMIN and SUPER_ADMIN
func AdminOnly() fiber.Handler {
	return RoleMiddleware(domain.RoleAdmin, domain.RoleSuperAdmin)
}

// OfficerOrAdmin middleware allows every operating role
func OfficerOrAdmin() fiber.Handler {
	return RoleMiddleware(domain.RoleOfficer, domain.RoleAdmin, domain.RoleSuperAdmin)
}

// ActorFrom returns the actor stored by AuthMiddleware
func ActorFrom(c *fiber.Ctx) (domain.Actor, bool) {
	actor, ok := c.Locals(ActorKey).(domain.Actor)
	return actor, ok
}
