package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duvallglobal/listapp-sub000/internal/shared/server/respond"
)

// AdminToken gates admin routes behind a shared token passed in X-Admin-Token.
// When no token is configured the routes stay open in dev-like environments
// and are refused everywhere else.
func AdminToken(token, env string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	devOpen := env == "dev" || env == "local"

	return func(c *gin.Context) {
		if token == "" {
			if devOpen {
				c.Next()
				return
			}
			respond.Error(c, http.StatusForbidden, "forbidden", "admin API is not configured", nil)
			return
		}

		presented := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			respond.Error(c, http.StatusForbidden, "forbidden", "invalid admin token", nil)
			return
		}
		c.Next()
	}
}
