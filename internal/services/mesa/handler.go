package mesa

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/web"
)

// Handler handles HTTP requests for tables and their orders
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
	g.POST("/mesas/open", h.OpenTable)
	g.GET("/mesas", h.ListTables)
	g.GET("/mesas/stats", h.Stats)
	g.POST("/mesas", h.CreateTable)
	g.GET("/mesas/:number", h.GetTable)
	g.DELETE("/mesas/:number", h.DeleteTable)
	g.POST("/mesas/:number/status", h.ChangeStatus)
	g.POST("/mesas/:number/request-bill", h.RequestBill)
	g.POST("/mesas/:number/release", h.ReleaseTable)
	g.POST("/grupos/:id/request-bill", h.RequestGroupBill)

	g.POST("/orders/items", h.AddItems)
	g.DELETE("/orders/lines/:id", h.CancelLine)
	g.GET("/orders/:id", h.GetOrder)
	g.POST("/orders/:id/kitchen", h.AdvanceKitchen)
}

// OpenTable handles POST /mesas/open
func (h *Handler) OpenTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	var req models.OpenTableRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	table, err := h.service.OpenTable(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, table)
}

// GetTable handles GET /mesas/:number
func (h *Handler) GetTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	n, err := web.TableNumberParam(c)
	if err != nil {
		return err
	}
	table, err := h.service.GetTable(c.Request().Context(), actor.Venue, n)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, table)
}

func (h *Handler) ListTables(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	tables, err := h.service.ListTables(c.Request().Context(), actor.Venue)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tables)
}

func (h *Handler) Stats(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	stats, err := h.service.Stats(c.Request().Context(), actor.Venue)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CreateTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	var req models.CreateTableRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	table, err := h.service.CreateTable(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, table)
}

func (h *Handler) DeleteTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	n, err := web.TableNumberParam(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteTable(c.Request().Context(), actor, n); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	n, err := web.TableNumberParam(c)
	if err != nil {
		return err
	}
	var req models.ChangeTableStatusRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	table, err := h.service.ChangeStatus(c.Request().Context(), actor, n, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, table)
}

func (h *Handler) RequestBill(c echo.Context) error {
	n, err := web.TableNumberParam(c)
	if err != nil {
		return err
	}
	return h.requestBill(c, models.TableRef(n))
}

func (h *Handler) RequestGroupBill(c echo.Context) error {
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	return h.requestBill(c, models.GroupRef(id))
}

func (h *Handler) requestBill(c echo.Context, ref models.TabRef) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	t, err := h.service.RequestBill(c.Request().Context(), actor, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"order":  t.Order,
		"tables": t.Tables,
	})
}

func (h *Handler) ReleaseTable(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	n, err := web.TableNumberParam(c)
	if err != nil {
		return err
	}
	table, err := h.service.ReleaseTable(c.Request().Context(), actor, n)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, table)
}

// AddItems handles POST /orders/items
func (h *Handler) AddItems(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	var req models.AddItemsRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}

	h.logger.Debug("items_received", "Received add items request", actor.RequestID, map[string]interface{}{
		"tab":   req.TabRef.String(),
		"items": len(req.Items),
	})

	result, err := h.service.AddItems(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) CancelLine(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	order, err := h.service.RemoveOrCancelLine(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) GetOrder(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	order, err := h.service.GetOrder(c.Request().Context(), actor.Venue, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

type kitchenRequest struct {
	Status models.KitchenStatus `json:"status"`
}

func (h *Handler) AdvanceKitchen(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	var req kitchenRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	order, err := h.service.AdvanceKitchen(c.Request().Context(), actor, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}
