package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health reports liveness. It does not touch the database; a wedged pool
// should fail requests, not the liveness probe.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
