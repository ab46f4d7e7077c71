package app

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"easybox-network/internal/config"
	"easybox-network/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "no-referrer")

	// Reservations and QR codes must never be cached
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// IPAccessControl only lets clients from allowedCIDRs through.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		allowedCIDRs = append(allowedCIDRs, "127.0.0.1/8", "::1/128")
	}

	for _, cidr := range allowedCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		slog.Debug("Allowed CIDR", "cidr", cidr)
		parsedCIDRs = append(parsedCIDRs, ipnet)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			routes.AbortWithError(c, routes.ErrForbidden)
			return
		}

		for _, cidr := range parsedCIDRs {
			if cidr.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP, "path", c.Request.URL.Path)
		routes.AbortWithError(c, routes.ErrForbidden)
	}
}

func splitCIDRs(list string) []string {
	var cidrs []string
	for cidr := range strings.SplitSeq(list, ",") {
		if cidr := strings.TrimSpace(cidr); cidr != "" {
			cidrs = append(cidrs, cidr)
		}
	}
	return cidrs
}

// HTTPServer builds the gin engine serving the API, the admin dashboard and
// the Prometheus metrics.
func HTTPServer(cfg *config.Config, api *routes.API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), routes.RequestID(), requestLogger(), routes.ErrorHandler(), securityHeaders)
	r.HTMLRender = api.Templates()

	restricted := []gin.HandlerFunc{}
	if cfg.AdminNetworks != "" {
		slog.Debug("Enabling IP access control", "admin_networks", cfg.AdminNetworks)
		restricted = append(restricted, IPAccessControl(splitCIDRs(cfg.AdminNetworks)))
	}
	r.GET("/metrics", append(restricted, gin.WrapH(promhttp.Handler()))...)

	if len(restricted) > 0 {
		r.Use(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/admin") {
				restricted[0](c)
				return
			}
			c.Next()
		})
	}

	api.Register(r)

	r.NoRoute(func(c *gin.Context) {
		routes.AbortWithHTTPError(c, http.StatusNotFound, nil, "Not found", "NOT_FOUND")
	})
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Debug("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"requestId", c.GetString("requestID"))
	}
}
