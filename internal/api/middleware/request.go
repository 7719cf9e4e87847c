package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

const (
	ContextIPAddress = "ip_address"
	ContextUserAgent = "user_agent"
	ContextRequestID = "request_id"

	HeaderRequestID = "X-Request-ID"
)

// RequestMeta records the client address, user agent and a request id, and
// echoes the id back in X-Request-ID.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		// X-Forwarded-For first (for proxies)
		ipAddress := c.GetHeader("X-Forwarded-For")
		if ipAddress == "" {
			ipAddress = c.GetHeader("X-Real-IP")
		}
		if ipAddress == "" {
			ipAddress = c.ClientIP()
		}
		// Take the first of comma-separated IPs
		if idx := strings.Index(ipAddress, ","); idx != -1 {
			ipAddress = strings.TrimSpace(ipAddress[:idx])
		}

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = xid.New().String()
		}

		c.Set(ContextIPAddress, ipAddress)
		c.Set(ContextUserAgent, c.GetHeader("User-Agent"))
		c.Set(ContextRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}

// GetIPAddress retrieves the client address, falling back to gin's view of it
// when RequestMeta did not run.
func GetIPAddress(c *gin.Context) string {
	if ip := c.GetString(ContextIPAddress); ip != "" {
		return ip
	}
	return c.ClientIP()
}

func GetUserAgent(c *gin.Context) string {
	return c.GetString(ContextUserAgent)
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}
