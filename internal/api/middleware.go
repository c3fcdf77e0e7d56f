package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/auth"
)

const identityKey = "identity"

func (a *API) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allow := "*"
		if len(a.origins) > 0 {
			allow = ""
			for _, o := range a.origins {
				if o == "*" || strings.EqualFold(o, origin) {
					allow = o
					break
				}
			}
		}
		if allow != "" {
			if allow != "*" {
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Origin", allow)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (a *API) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.limiters.Allow(c.ClientIP()) {
			errorResponse(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}

func (a *API) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			errorResponse(c, http.StatusUnauthorized, "Missing token")
			return
		}
		id, err := a.auth.ValidateToken(c.Request.Context(), tok)
		if err != nil {
			errorResponse(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/ws" {
			return
		}
		a.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}
