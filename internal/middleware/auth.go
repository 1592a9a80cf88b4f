package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		// First try to get token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// If not found in header, try query parameter (for WebSocket)
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			utils.HandleError(c, utils.NewUnauthorizedError("Authorization header or token query parameter required"))
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString)
		if err != nil {
			utils.HandleError(c, utils.NewUnauthorizedError("Invalid token"))
			c.Abort()
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("userType", claims.UserType)
		c.Next()
	}
}

// RequireSupport rejects requests from non-support users. It must run after
// AuthMiddleware so userType is set.
func RequireSupport() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userType") != "support" {
			utils.HandleError(c, utils.NewForbiddenError("Support access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
