package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/logging"
)

// Recovery turns a panic into the standard 500 envelope.
func Recovery() gin.HandlerFunc {
	log := logging.New("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).
					WithField("path", c.Request.URL.Path).
					WithField("request_id", c.GetString(RequestIDKey)).
					WithField("stack", string(debug.Stack())).
					Error("panic recovered")
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}
