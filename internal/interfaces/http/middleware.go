package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	"github.com/garyjia/civic-workflow/pkg/utils"
)

// PrincipalHeader carries the authenticated caller's identity, set by the upstream gateway
const PrincipalHeader = "X-Principal-ID"

const principalKey = "principal"

// principalMiddleware resolves the acting principal and its roles once per request.
// Unknown principals are authenticated with an empty role set.
func principalMiddleware(roles port.RoleSource, logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(PrincipalHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + PrincipalHeader + " header",
			})
			return
		}
		if err := utils.ValidateIdentifier("principal", id); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		set, err := roles.RolesOf(c.Request.Context(), id)
		if err != nil {
			logger.Error("Failed to resolve principal roles", "principal_id", id, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
				Success: false,
				Error:   "failed to resolve principal",
			})
			return
		}

		c.Set(principalKey, role.Principal{ID: id, Roles: set})
		c.Next()
	}
}

// requireRole rejects principals that do not hold r
func requireRole(r role.Role) gin.HandlerFunc {
	authority := role.NewAuthority()
	return func(c *gin.Context) {
		if !authority.HasRole(principalFrom(c), r) {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{
				Success: false,
				Error:   "requires role " + r.String(),
			})
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) role.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return role.Principal{}
	}
	p, _ := v.(role.Principal)
	return p
}
