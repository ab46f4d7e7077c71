package routes

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"easybox-network/internal/reservation"
	"easybox-network/internal/search"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/gin-gonic/gin"
)

func optionalInt(c *gin.Context, name string) (*int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &utils.InvalidFormatError{Input: raw, Reason: name + " must be an integer"}
	}
	return &v, nil
}

func parseAvailabilityQuery(c *gin.Context) (search.Query, time.Time, error) {
	var q search.Query
	raw := c.Query("deliveryTime")
	if raw == "" {
		return q, time.Time{}, ErrMissingParameter
	}
	delivery, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return q, time.Time{}, &utils.InvalidFormatError{Input: raw, Reason: "deliveryTime must be RFC 3339"}
	}

	q.Address = strings.TrimSpace(c.Query("address"))
	if raw := c.Query("lockerId"); raw != "" {
		if q.LockerID, err = strconv.ParseInt(raw, 10, 64); err != nil || q.LockerID <= 0 {
			return q, time.Time{}, ErrInvalidParameter
		}
	}
	if q.Address == "" && q.LockerID == 0 {
		return q, time.Time{}, ErrMissingParameter
	}
	if q.MinTemp, err = optionalInt(c, "minTemp"); err != nil {
		return q, time.Time{}, err
	}
	if q.MinSize, err = optionalInt(c, "minSize"); err != nil {
		return q, time.Time{}, err
	}
	return q, delivery, nil
}

func (a *API) ReservationRoutes(r *gin.RouterGroup) {
	// GET /api/reservations/available?address=..&deliveryTime=..&minTemp=..&minSize=..
	r.GET("/available", a.RequirePermission("reservations", "search"), func(c *gin.Context) {
		q, delivery, err := parseAvailabilityQuery(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		q.Start, q.End = a.engine.Window(delivery)

		res, err := a.searcher.FindAvailable(c.Request.Context(), q)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recommended": res.Recommended,
			"alternates":  res.Alternates,
			"start":       q.Start,
			"end":         q.End,
		})
	})

	r.POST("/hold", a.RequirePermission("reservations", "hold"), func(c *gin.Context) {
		var req reservation.HoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithHTTPError(c, http.StatusBadRequest, err, "Invalid request format", "INVALID_REQUEST")
			return
		}
		claims, err := GetClaims(c)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		req.BakeryID = claims.BakeryID

		res, err := a.engine.Hold(c.Request.Context(), req)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	})

	r.GET("/:id", a.RequirePermission("reservations", "read"), func(c *gin.Context) {
		res, ok := a.loadReservation(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.POST("/:id/confirm", a.RequirePermission("reservations", "confirm"), func(c *gin.Context) {
		res, ok := a.loadReservation(c)
		if !ok {
			return
		}
		res, err := a.engine.Confirm(c.Request.Context(), res.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

// loadReservation fetches the :id reservation and hides it from other
// bakeries.
func (a *API) loadReservation(c *gin.Context) (*storage.Reservation, bool) {
	id, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	res, err := a.engine.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if !a.visible(c, res) {
		AbortWithError(c, &utils.NotFoundError{Kind: "reservation", ID: id})
		return nil, false
	}
	return res, true
}
