package routes

import (
	"strconv"
	"time"

	"easybox-network/internal/access"
	"easybox-network/internal/clock"
	"easybox-network/internal/jwt"
	"easybox-network/internal/registration"
	"easybox-network/internal/reservation"
	"easybox-network/internal/search"
	"easybox-network/internal/storage"

	"github.com/gin-gonic/gin"
)

// Presence answers when a locker was last heard from.
type Presence interface {
	LastSeen(clientID string) (time.Time, bool)
}

// Services are the components the API exposes.
type Services struct {
	Store     storage.Provider
	Engine    *reservation.Engine
	Searcher  *search.Searcher
	Registrar *registration.Registrar
	Issuer    *jwt.Issuer
	RBAC      *access.RBAC
	Clock     clock.Clock
	Presence  Presence // optional
	Admins    []string // bakery emails granted the admin role at login
}

// dummyHash keeps failed logins for unknown emails as slow as real ones.
var dummyHash, _ = access.HashPassword("easybox")

type API struct {
	store     storage.Provider
	engine    *reservation.Engine
	searcher  *search.Searcher
	registrar *registration.Registrar
	issuer    *jwt.Issuer
	rbac      *access.RBAC
	clock     clock.Clock
	presence  Presence
	admins    []string
}

func NewAPI(s Services) *API {
	admins := make([]string, 0, len(s.Admins))
	for _, e := range s.Admins {
		admins = append(admins, access.NormalizeEmail(e))
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &API{
		store:     s.Store,
		engine:    s.Engine,
		searcher:  s.Searcher,
		registrar: s.Registrar,
		issuer:    s.Issuer,
		rbac:      s.RBAC,
		clock:     clk,
		presence:  s.Presence,
		admins:    admins,
	}
}

// Register mounts every route group on r.
func (a *API) Register(r *gin.Engine) {
	a.Health(r.Group("/"))

	api := r.Group("/api")
	a.AuthRoutes(api.Group("/auth"))
	a.DeviceRoutes(api.Group("/device"))

	authed := api.Group("/", a.AuthMiddleware())
	a.ReservationRoutes(authed.Group("/reservations"))
	a.AppRoutes(authed.Group("/app"))
	a.CompartmentAdminRoutes(authed.Group("/admin/compartments", a.RequirePermission("compartments", "manage")))

	a.AdminRoutes(r.Group("/admin", a.AuthMiddleware(), a.RequirePermission("dashboard", "read")))
}

func idParam(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	if raw == "" {
		raw = c.Query(name)
	}
	if raw == "" {
		return 0, ErrMissingParameter
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidParameter
	}
	return id, nil
}

// visible reports whether the caller may see r.
func (a *API) visible(c *gin.Context, r *storage.Reservation) bool {
	if a.isAdmin(c) {
		return true
	}
	claims, err := GetClaims(c)
	return err == nil && claims.BakeryID == r.BakeryID
}
