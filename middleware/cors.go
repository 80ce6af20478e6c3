package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"PGate/service/codec"
)

// Cors opens the reason side channel to browser clients: degraded devices
// query their rejection reason from whatever page they are embedded in,
// and need to read the rejection headers on the failed upgrade preflight.
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers",
			codec.HeaderRequestID+", "+codec.HeaderUserID+", "+codec.HeaderDeviceType)
		c.Header("Access-Control-Expose-Headers",
			codec.HeaderCode+", "+codec.HeaderReason)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
