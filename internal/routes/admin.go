package routes

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates builds the admin pages. Each page is the layout plus its own
// content block.
func (a *API) Templates() multitemplate.Render {
	funcs := template.FuncMap{
		"version": utils.GetVersion,
		"since": func(t time.Time) string {
			return a.clock.Now().Sub(t).Truncate(time.Second).String()
		},
	}
	r := multitemplate.New()
	for name, file := range map[string]string{
		"dashboard": "templates/dashboard.html.tmpl",
		"error":     "templates/error.html.tmpl",
	} {
		r.Add(name, page(name, funcs, "templates/layout.html.tmpl", file))
	}
	return r
}

func page(name string, funcs template.FuncMap, files ...string) *template.Template {
	t := template.Must(template.New(name).Funcs(funcs).Parse(`{{template "layout" .}}`))
	for _, f := range files {
		src, err := fs.ReadFile(templateFS, f)
		if err != nil {
			panic(err)
		}
		template.Must(t.Parse(string(src)))
	}
	return t
}

type lockerRow struct {
	Locker   *storage.Locker
	Total    int
	Free     int
	Unusable int
	LastSeen time.Time
	Seen     bool
}

func (a *API) AdminRoutes(r *gin.RouterGroup) {
	r.GET("", func(c *gin.Context) {
		ctx := c.Request.Context()
		lockers, err := a.store.ListLockers(ctx)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		rows := make([]lockerRow, 0, len(lockers))
		for i := range lockers {
			row := lockerRow{Locker: &lockers[i]}
			comps, err := a.store.ListCompartments(ctx, lockers[i].ID)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			row.Total = len(comps)
			for _, comp := range comps {
				switch {
				case !comp.Condition.Usable():
					row.Unusable++
				case comp.Status == storage.CompartmentFree:
					row.Free++
				}
			}
			if a.presence != nil {
				row.LastSeen, row.Seen = a.presence.LastSeen(lockers[i].ClientID)
			}
			rows = append(rows, row)
		}

		active, err := a.store.ListReservations(ctx, storage.ReservationFilter{
			Statuses: append([]storage.ReservationStatus{storage.StatusPending}, storage.BlockingStatuses...),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.HTML(http.StatusOK, "dashboard", gin.H{
			"Lockers":      rows,
			"Reservations": active,
		})
	})
}

// CompartmentAdminRoutes let operators put compartments back in service.
func (a *API) CompartmentAdminRoutes(r *gin.RouterGroup) {
	release := func(mark func(context.Context, int64) (*storage.Compartment, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, err := idParam(c, "id")
			if err != nil {
				AbortWithError(c, err)
				return
			}
			comp, err := mark(c.Request.Context(), id)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, comp)
		}
	}

	// POST /api/admin/compartments/:id/mark-clean
	r.POST("/:id/mark-clean", release(a.engine.MarkClean))
	// POST /api/admin/compartments/:id/mark-free
	r.POST("/:id/mark-free", release(a.engine.MarkFree))
}
