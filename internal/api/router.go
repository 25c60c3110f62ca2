// Package api exposes the attendance services over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classpresence/internal/auth"
	"classpresence/internal/httpmiddleware"
)

// Options configures the router.
type Options struct {
	SigningKey  string
	Issuer      string
	Limiter     httpmiddleware.Limiter
	CORSOrigins []string
	// Health reports dependency health by name; nil reports none.
	Health func(ctx context.Context) map[string]bool
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handlers, opt Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpmiddleware.RequestLog(), corsMiddleware(opt.CORSOrigins), securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		deps := map[string]bool{}
		if opt.Health != nil {
			deps = opt.Health(c.Request.Context())
		}
		status := http.StatusOK
		for _, ok := range deps {
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "deps": deps})
	})

	v1 := r.Group("/v1", auth.ActorAuth(opt.SigningKey, opt.Issuer))
	if opt.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(opt.Limiter))
	}

	v1.POST("/sessions", h.startSession)
	v1.GET("/sessions/:id", h.getSession)
	v1.POST("/sessions/:id/close", h.closeSession)
	v1.GET("/sessions/:id/qr", h.ownerQR)
	v1.POST("/sessions/:id/verify", h.verify)
	v1.GET("/sessions/:id/records", h.listRecords)
	v1.GET("/sessions/:id/record", h.myRecord)
	v1.POST("/sessions/:id/records/:studentId/manual", h.manualMark)
	v1.POST("/sessions/:id/port", h.requestPort)
	v1.GET("/sessions/:id/port", h.listPorts)
	v1.GET("/sessions/:id/port/qr", h.portQR)
	v1.POST("/port/:requestId/decision", h.decidePort)
	v1.GET("/sessions/:id/audit", h.auditTrail)
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
