package web

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
)

// IDParam parses a positive numeric path parameter
func IDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("params", "invalid %s %q", name, c.Param(name))
	}
	return id, nil
}

// TableNumberParam parses the :number path parameter
func TableNumberParam(c echo.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n < 1 || n > models.MaxTableNumber {
		return 0, apperr.Validation("params", "invalid table number %q", c.Param("number"))
	}
	return n, nil
}
