package logging

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Paths polled by dashboards and health checkers. Logged at debug only to
// keep the access log readable.
var quietPrefixes = []string{
	"/health",
	"/models",
	"/stats",
	"/requests",
	"/metrics",
	"/static/",
}

func isQuietPath(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GinLogger returns access-log middleware backed by the shared logrus logger.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		})

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case isQuietPath(path):
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}

// GinRecovery returns panic-recovery middleware that logs through logrus
// and answers with a JSON 500 instead of tearing the connection down.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("handler panic recovered")
				c.AbortWithStatusJSON(500, gin.H{
					"error": gin.H{
						"message": "internal server error",
						"type":    "api_error",
						"code":    "internal_error",
					},
				})
			}
		}()
		c.Next()
	}
}
