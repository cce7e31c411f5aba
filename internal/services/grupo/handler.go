package grupo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/web"
)

// Handler handles HTTP requests for table groups
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/grupos/merge", h.Merge)
	g.GET("/grupos", h.List)
	g.GET("/grupos/:id", h.Get)
	g.POST("/grupos/:id/split", h.Split)
	g.POST("/grupos/:id/add-table", h.AddTable)
	g.POST("/grupos/:id/remove-table", h.RemoveTable)
	g.POST("/grupos/:id/ungroup", h.Ungroup)
}

// Merge handles POST /grupos/merge
func (h *Handler) Merge(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	var req models.MergeTablesRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	group, err := h.service.MergeTables(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, group)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	groups, err := h.service.ListActiveGroups(c.Request().Context(), actor.Venue)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	group, err := h.service.GetGroup(c.Request().Context(), actor.Venue, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, group)
}

// Split handles POST /grupos/:id/split
func (h *Handler) Split(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	var req models.SplitGroupRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.SplitGroup(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) AddTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	var req models.GroupTableRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	group, err := h.service.AddTableToGroup(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, group)
}

func (h *Handler) RemoveTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	var req models.GroupTableRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	group, err := h.service.RemoveTableFromGroup(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, group)
}

func (h *Handler) Ungroup(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	var req models.UngroupRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.Ungroup(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
