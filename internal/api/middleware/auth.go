package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/service"
)

// Context keys set by RequireAuth.
const (
	ContextSubjectID = "subject_id"
	ContextRole      = "role"
)

// RequireAuth returns a middleware that verifies a bearer access token.
// When role is non-empty the token's role must match it exactly.
func RequireAuth(auth *service.AuthService, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error_kind": "unauthorized", "message": "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error_kind": "unauthorized", "message": "invalid or expired token"})
			c.Abort()
			return
		}
		if claims.Kind != "access" {
			c.JSON(http.StatusUnauthorized, gin.H{"error_kind": "unauthorized", "message": "refresh token not accepted here"})
			c.Abort()
			return
		}
		if role != "" && claims.Role != role {
			c.JSON(http.StatusForbidden, gin.H{"error_kind": "forbidden", "message": "insufficient privileges"})
			c.Abort()
			return
		}

		c.Set(ContextSubjectID, claims.SubjectID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// SubjectID returns the authenticated subject's id from the context.
func SubjectID(c *gin.Context) int64 {
	id, _ := c.Get(ContextSubjectID)
	v, _ := id.(int64)
	return v
}
