package handlers

import (
	"strconv"
	"time"

	"github.com/Brownie44l1/detect-offload/internal/metric"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the gin engine serving h.
func NewRouter(h *Handler, env string) *gin.Engine {
	if env == "prod" || env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type"},
	}))
	router.Use(HTTPLogger())

	h.Register(router)
	return router
}

// HTTPLogger writes an access log line through zerolog and records request
// count and latency per route.
func HTTPLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		tags := metric.BuildTags(
			metric.TagPath, route,
			metric.TagMethod, c.Request.Method,
			metric.TagHttpStatusCode, strconv.Itoa(status),
		)
		metric.Incr(metric.ApiRequestCount, tags)
		metric.Timing(metric.ApiRequestLatency, latency, tags)

		log.Info().
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Msg("[access]")
	}
}
