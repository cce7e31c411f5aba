package settlement

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/web"
)

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
	g.POST("/settle", h.Settle)
	g.POST("/orders/direct", h.DirectSale)
	g.POST("/orders/:id/collect", h.Collect)
}

// Settle handles POST /settle
func (h *Handler) Settle(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	var req models.SettleRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}

	receipt, err := h.service.Settle(c.Request().Context(), actor, req)
	if err != nil {
		web.LoggerFrom(c, h.logger).Warn("settle_rejected", "Settlement rejected", "", map[string]interface{}{
			"tab":   req.TabRef.String(),
			"error": err.Error(),
		})
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}

// DirectSale handles POST /orders/direct
func (h *Handler) DirectSale(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	var req models.DirectSaleRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	receipt, err := h.service.DirectSale(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, receipt)
}

type collectRequest struct {
	PaymentMethodID int64 `json:"payment_method_id"`
}

// Collect handles POST /orders/:id/collect
func (h *Handler) Collect(c echo.Context) error {
	actor, err := web.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := web.IDParam(c, "id")
	if err != nil {
		return err
	}
	var req collectRequest
	if err := web.Bind(c, &req); err != nil {
		return err
	}
	order, err := h.service.CollectDeferred(c.Request().Context(), actor, id, req.PaymentMethodID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}
