package routes

import (
	"context"
	"net/http"
	"time"

	"easybox-network/internal/utils"

	"github.com/gin-gonic/gin"
)

func (a *API) Health(r *gin.RouterGroup) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		schema, err := a.store.GetSchemaVersion(ctx)
		if err != nil {
			AbortWithHTTPError(c, http.StatusServiceUnavailable, err, "Storage is not reachable")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": utils.GetVersion(),
			"schema":  schema,
			"time":    a.clock.Now().UTC(),
		})
	})
}
