package api

import (
	"ratiobot/internal/logger"
	"ratiobot/internal/metrics"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the gin engine with recovery, request logging, metrics
// and every route.
func NewRouter(h *Handler, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(metrics.PrometheusMiddleware())

	h.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithComponent("api").WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}

func (h *Handler) logEntry() *logrus.Entry {
	return h.log.WithComponent("api")
}
