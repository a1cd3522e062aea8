package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dronefleet/fleetctl/pkg/logger"
)

// loggerMiddleware logs one structured line per request via
// pkg/logger.RequestLogger.
func loggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.RequestLogger(c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), time.Since(start).String())
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Error("HTTP request failed")
			return
		}
		entry.Info("HTTP request completed")
	}
}

// corsMiddleware allows a fixed list of known local dashboard origins.
// Production deployments are expected to front this with a reverse proxy
// that owns CORS policy.
func corsMiddleware() gin.HandlerFunc {
	allowed := map[string]bool{
		"http://localhost:3000":  true,
		"http://localhost:8080":  true,
		"http://localhost:8888":  true,
		"http://127.0.0.1:3000":  true,
		"http://127.0.0.1:8080":  true,
		"http://127.0.0.1:8888":  true,
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func recoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(map[string]interface{}{
			"method": c.Request.Method, "path": c.Request.URL.Path, "client_ip": c.ClientIP(), "panic": recovered,
		}).Error("panic recovered")
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: "internal server error", Time: time.Now().Unix()})
	})
}

// requestIDMiddleware stamps X-Request-ID, generating one with google/uuid
// when the caller doesn't supply it.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}
