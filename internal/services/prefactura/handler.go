package prefactura

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/web"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/prefactura/mesa/:number", h.ForTable)
	g.GET("/prefactura/grupo/:id", h.ForGroup)
}

// ForTable handles GET /prefactura/mesa/:number
func (h *Handler) ForTable(c echo.Context) error {
	n, err := web.TableNumberParam(c)
	if err != nil {
		return err
	}
	return h.generate(c, models.TableRef(n))
}

// ForGroup handles GET /prefactura/grupo/:id
func (h *Handler) ForGroup(c echo.Context) error {
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	return h.generate(c, models.GroupRef(id))
}

func (h *Handler) generate(c echo.Context, ref models.TabRef) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	p, err := h.service.Generate(c.Request().Context(), actor, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
