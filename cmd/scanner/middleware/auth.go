package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// AuthRequired is a middleware to check for a valid session.
func AuthRequired(c *gin.Context) {
	session := sessions.Default(c)
	if session.Get("user") != nil {
		c.Next()
		return
	}

	switch {
	case strings.HasPrefix(c.Request.URL.Path, "/api/"):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
	case c.GetHeader("HX-Request") == "true":
		c.Header("HX-Redirect", "/login")
		c.AbortWithStatus(http.StatusUnauthorized)
	default:
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
	}
}
