package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clubops/training-ops/internal/config"
	"github.com/clubops/training-ops/internal/logger"
	"github.com/clubops/training-ops/internal/metrics"
	"github.com/clubops/training-ops/internal/model"
	"github.com/clubops/training-ops/internal/repository"
	"github.com/clubops/training-ops/internal/utils"
)

// userStore is the slice of the user repository the auth handler needs.
type userStore interface {
	Create(ctx context.Context, email, password, firstName, lastName string, phone *string, role string, cost int) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdateProfile(ctx context.Context, id uint64, p model.UserPatch) (model.User, error)
	ChangePassword(ctx context.Context, id uint64, newHash string) error
	UpdateLastLogin(ctx context.Context, id uint64) error
}

// tokenStore is the renewable-credential store.
type tokenStore interface {
	Store(ctx context.Context, userID uint64, token string, exp time.Time) error
	Delete(ctx context.Context, token string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID uint64) error
	Rotate(ctx context.Context, userID uint64, oldToken, newToken string, newExp time.Time) error
}

// AuthHandler serves registration, login and the session lifecycle.
type AuthHandler struct {
	Users  userStore
	Tokens tokenStore
	Cfg    config.Config
}

func NewAuthHandler(users userStore, tokens tokenStore, cfg config.Config) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens, Cfg: cfg}
}

type registerRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8,max=72"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
}

// Register creates a student account and opens a session for it.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.Users.Create(ctx, req.Email, req.Password, req.FirstName, req.LastName, req.Phone, model.RoleStudent, h.Cfg.BcryptCost)
	if err != nil {
		return writeError(c, err)
	}
	access, refresh, err := h.openSession(ctx, user)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sessionResponse(user, access, refresh))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials and opens a session. Unknown email and wrong
// password produce the same 401 body; disabled accounts get a 403 so the
// owner knows the password was right but the account is not usable.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		// A store outage is not an auth verdict; surface it as retryable.
		return writeError(c, err)
	}
	if err != nil || !utils.VerifyPassword(req.Password, user.PasswordHash) {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if user.Status != model.UserActive {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	}

	access, refresh, err := h.openSession(ctx, user)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Users.UpdateLastLogin(ctx, user.ID); err != nil {
		logger.Get().Warn().Err(err).Uint64("user_id", user.ID).Msg("last_login update failed")
	}
	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, sessionResponse(user, access, refresh))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh rotates a renewable token: the presented token must pass both the
// signature check and the store check, and it is retired in the same unit of
// work that persists its replacement. A replayed token fails the store check
// and the whole session line is treated as compromised by the client.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	id, err := utils.ParseRefreshToken(h.Cfg.RefreshSecret, req.RefreshToken)
	if err != nil {
		metrics.TokenRotationsTotal.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}

	user, err := h.Users.GetByID(ctx, id.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return writeError(c, err)
		}
		metrics.TokenRotationsTotal.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	if user.Status != model.UserActive {
		metrics.TokenRotationsTotal.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	}

	fresh := utils.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshSecret, fresh, h.Cfg.RefreshTTL)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Tokens.Rotate(ctx, user.ID, req.RefreshToken, refresh.Token, refresh.Exp); err != nil {
		if errors.Is(err, repository.ErrInvalidToken) {
			metrics.TokenRotationsTotal.WithLabelValues("invalid").Inc()
		}
		return writeError(c, err)
	}
	access, err := utils.NewAccessToken(h.Cfg.AccessSecret, fresh, h.Cfg.AccessTTL)
	if err != nil {
		return writeError(c, err)
	}
	metrics.TokenRotationsTotal.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, sessionResponse(user, access, refresh))
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	All          bool   `json:"all"`
}

// Logout retires the presented renewable token, or every token of its owner
// when all is set. Access tokens stay statelessly valid until expiry.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	id, err := utils.ParseRefreshToken(h.Cfg.RefreshSecret, req.RefreshToken)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	if req.All {
		if err := h.Tokens.DeleteAllForUser(ctx, id.UserID); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"message": "logged out everywhere"})
	}
	deleted, err := h.Tokens.Delete(ctx, req.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}
	if !deleted {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	user, err := h.Users.GetByID(c.Request().Context(), identity(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

// UpdateProfile applies a partial update to the caller's own profile.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	var patch model.UserPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	user, err := h.Users.UpdateProfile(c.Request().Context(), identity(c).UserID, patch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// ChangePassword swaps the caller's password after re-verifying the current
// one, and revokes every renewable token so other devices must log in again.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.Users.GetByID(ctx, identity(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	if !utils.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	hash, err := utils.HashPassword(req.NewPassword, h.Cfg.BcryptCost)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Users.ChangePassword(ctx, user.ID, hash); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}

// openSession issues the access/refresh pair and persists the refresh side.
// The refresh token is only handed out after the store insert succeeds.
func (h *AuthHandler) openSession(ctx context.Context, user model.User) (utils.SignedToken, utils.SignedToken, error) {
	id := utils.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
	access, err := utils.NewAccessToken(h.Cfg.AccessSecret, id, h.Cfg.AccessTTL)
	if err != nil {
		return utils.SignedToken{}, utils.SignedToken{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshSecret, id, h.Cfg.RefreshTTL)
	if err != nil {
		return utils.SignedToken{}, utils.SignedToken{}, err
	}
	if err := h.Tokens.Store(ctx, user.ID, refresh.Token, refresh.Exp); err != nil {
		return utils.SignedToken{}, utils.SignedToken{}, err
	}
	return access, refresh, nil
}

func sessionResponse(user model.User, access, refresh utils.SignedToken) echo.Map {
	return echo.Map{
		"user":          user,
		"access_token":  access.Token,
		"refresh_token": refresh.Token,
		"expires_at":    access.Exp,
	}
}
