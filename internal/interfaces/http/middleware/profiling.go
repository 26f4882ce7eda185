package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ordersync/backend/internal/infrastructure/telemetry"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled bool
	// SkipPaths are paths that don't need profiling labels (e.g., health checks).
	SkipPaths []string
}

// DefaultProfilingConfig returns default profiling middleware configuration.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:   true,
		SkipPaths: []string{"/health"},
	}
}

// Profiling tags the request goroutine with Pyroscope labels so CPU and
// allocation profiles can be split by route, method and platform.
// Labels use the route pattern, never the raw path.
func Profiling(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		for _, skip := range cfg.SkipPaths {
			if c.Request.URL.Path == skip {
				c.Next()
				return
			}
		}

		labels := extractProfilingLabels(c)
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func extractProfilingLabels(c *gin.Context) map[string]string {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	labels := telemetry.HTTPRequestLabels(route, c.Request.Method)

	// platform codes are a closed set so they are safe as a label
	if platform := strings.ToUpper(c.Param("platform")); platform != "" && len(platform) <= 16 {
		labels[telemetry.ProfilingLabelPlatform] = platform
	}
	return labels
}
