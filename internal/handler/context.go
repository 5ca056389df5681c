package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clubops/training-ops/internal/logger"
	"github.com/clubops/training-ops/internal/middleware"
	"github.com/clubops/training-ops/internal/repository"
	"github.com/clubops/training-ops/internal/utils"
)

// identity pulls the authenticated identity placed by the JWT middleware.
// Routes that reach a handler without passing JWTAuth yield a zero identity.
func identity(c echo.Context) utils.Identity {
	id := utils.Identity{}
	if v, ok := c.Get(middleware.CtxUserID).(uint64); ok {
		id.UserID = v
	}
	if v, ok := c.Get(middleware.CtxEmail).(string); ok {
		id.Email = v
	}
	if v, ok := c.Get(middleware.CtxRole).(string); ok {
		id.Role = v
	}
	return id
}

// pathID parses a numeric path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryUint(c echo.Context, name string) uint64 {
	v, _ := strconv.ParseUint(c.QueryParam(name), 10, 64)
	return v
}

func queryInt(c echo.Context, name string) int {
	v, _ := strconv.Atoi(c.QueryParam(name))
	return v
}

// writeError maps domain errors onto HTTP responses. Anything unmapped is a
// logged 500 with a generic body.
func writeError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrInvalidToken), errors.Is(err, utils.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	case errors.Is(err, repository.ErrPhoneExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "phone already registered"})
	case errors.Is(err, repository.ErrCycleFull):
		return c.JSON(http.StatusConflict, echo.Map{"error": "cycle is full"})
	case errors.Is(err, repository.ErrAlreadyEnrolled):
		return c.JSON(http.StatusConflict, echo.Map{"error": "student already enrolled in this cycle"})
	case errors.Is(err, repository.ErrLeadClosed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "lead is already closed"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
	}
	logger.Get().Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}
