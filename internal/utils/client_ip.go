// internal/utils/client_ip.go
package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the socket peer. Header values that are not IP addresses are skipped.
//
// The headers are client controlled, so the result is for audit records only.
// Rate limiting keys on gin's ClientIP, which honours the trusted proxy list.
func GetClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		if ip := parseIP(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}

	if ip := parseIP(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}

	return c.RemoteIP()
}

func parseIP(value string) string {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil {
		return ""
	}
	return ip.String()
}
