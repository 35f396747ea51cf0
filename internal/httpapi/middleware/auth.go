package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/podflix/internal/auth"
	"github.com/suPer8Hu/podflix/internal/common"
)

const (
	UserIDKey     = "user_id"
	IdentifierKey = "identifier"
	// TokenCookie carries the JWT for browser pages and EventSource
	// requests, which cannot set headers.
	TokenCookie = "podflix_token"
)

func tokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	tok, _ := c.Cookie(TokenCookie)
	return tok
}

func authenticate(c *gin.Context, secret string) bool {
	tok := tokenFrom(c)
	if tok == "" {
		return false
	}
	uid, ident, err := auth.ParseJWT(tok, secret)
	if err != nil {
		return false
	}
	c.Set(UserIDKey, uid)
	c.Set(IdentifierKey, ident)
	return true
}

// AuthRequired rejects API requests without a valid token.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, secret) {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		c.Next()
	}
}

// PageAuth sends browsers without a valid token to the login page.
func PageAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, secret) {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserID returns the id set by AuthRequired.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
