package routes

import (
	"net/http"

	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/gin-gonic/gin"
)

// AppRoutes serve the bakery app: its orders and compartment reports.
func (a *API) AppRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders", a.RequirePermission("orders", "read"))

	orders.GET("", func(c *gin.Context) {
		filter := storage.ReservationFilter{}
		if !a.isAdmin(c) {
			claims, err := GetClaims(c)
			if err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			filter.BakeryID = claims.BakeryID
		}
		if s := c.Query("status"); s != "" {
			filter.Statuses = []storage.ReservationStatus{storage.ReservationStatus(s)}
		}
		list, err := a.store.ListReservations(c.Request.Context(), filter)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if list == nil {
			list = []storage.Reservation{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	orders.GET("/:id", func(c *gin.Context) {
		res, ok := a.loadReservation(c)
		if !ok {
			return
		}
		comp, err := a.store.GetCompartment(c.Request.Context(), res.CompartmentID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		locker, err := a.store.GetLocker(c.Request.Context(), res.LockerID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order":       res,
			"compartment": comp,
			"locker":      locker,
		})
	})

	comps := r.Group("/compartments", a.RequirePermission("compartments", "report"))

	// POST /api/app/compartments/:id/report-condition?issue=dirty|broken
	comps.POST("/:id/report-condition", func(c *gin.Context) {
		id, err := idParam(c, "id")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		comp, err := a.engine.ReportCondition(c.Request.Context(), id, c.Query("issue"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, comp)
	})

	// POST /api/app/compartments/:id/report-and-reevaluate?issue=..&reservationId=..
	comps.POST("/:id/report-and-reevaluate", func(c *gin.Context) {
		id, err := idParam(c, "id")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resID, err := idParam(c, "reservationId")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		current, err := a.engine.Get(c.Request.Context(), resID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !a.visible(c, current) {
			AbortWithError(c, &utils.NotFoundError{Kind: "reservation", ID: resID})
			return
		}
		res, err := a.engine.Reevaluate(c.Request.Context(), resID, id, c.Query("issue"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reservation": res,
			"moved":       res.CompartmentID != id,
		})
	})
}
