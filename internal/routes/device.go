package routes

import (
	"log/slog"
	"net/http"

	"easybox-network/internal/access"
	"easybox-network/internal/registration"

	"github.com/gin-gonic/gin"
)

type registrationRequest struct {
	ClientID string `json:"clientId" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Status   string `json:"status"`
}

type registrationResponse struct {
	LockerID     int64                `json:"lockerId"`
	Outcome      registration.Outcome `json:"outcome"`
	Approved     bool                 `json:"approved"`
	Status       string               `json:"status"`
	Secret       string               `json:"secret,omitempty"`
	Compartments int                  `json:"compartments"`
}

// DeviceRoutes are called by locker firmware. Lockers have no token before
// approval, so the group runs with the device role.
func (a *API) DeviceRoutes(r *gin.RouterGroup) {
	r.Use(AsRole(access.RoleDevice))

	r.POST("/register", a.RequirePermission("lockers", "register"), func(c *gin.Context) {
		var req registrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithHTTPError(c, http.StatusBadRequest, err, "clientId and address are required", "INVALID_REQUEST")
			return
		}

		res, err := a.registrar.Register(c.Request.Context(), req.ClientID, req.Address, req.Status)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		code := http.StatusOK
		if res.Outcome == registration.OutcomeInserted {
			code = http.StatusCreated
		}
		if !res.Locker.Approved {
			slog.Info("Locker registration pending approval", "clientId", req.ClientID, "locker", res.Locker.ID)
		}
		c.JSON(code, registrationResponse{
			LockerID:     res.Locker.ID,
			Outcome:      res.Outcome,
			Approved:     res.Locker.Approved,
			Status:       string(res.Locker.Status),
			Secret:       res.Secret,
			Compartments: res.Compartments,
		})
	})
}
