package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clubops/training-ops/internal/cache"
	"github.com/clubops/training-ops/internal/logger"
	"github.com/clubops/training-ops/internal/metrics"
	"github.com/clubops/training-ops/internal/model"
	"github.com/clubops/training-ops/internal/queue"
	"github.com/clubops/training-ops/internal/repository"
)

// leadStore is the slice of the lead repository the handler needs.
type leadStore interface {
	Create(ctx context.Context, l model.Lead, actingUserID uint64) (model.Lead, error)
	GetByID(ctx context.Context, id uint64) (model.Lead, error)
	List(ctx context.Context, f repository.LeadFilter) ([]model.Lead, int64, error)
	Update(ctx context.Context, id uint64, p model.LeadPatch, actingUserID uint64) (model.Lead, error)
	Delete(ctx context.Context, id uint64) error
	AddActivity(ctx context.Context, leadID, userID uint64, activityType, description string) (model.LeadActivity, error)
	Activities(ctx context.Context, leadID uint64) ([]model.LeadActivity, error)
	Convert(ctx context.Context, leadID uint64, in repository.ConvertInput, actingUserID uint64) (model.Deal, error)
	Stats(ctx context.Context) (model.LeadStats, error)
}

// LeadHandler serves the sales pipeline: leads, activities, conversion.
type LeadHandler struct {
	Leads   leadStore
	Cache   statsCache
	Publish publishFunc
}

func NewLeadHandler(leads leadStore, c statsCache) *LeadHandler {
	return &LeadHandler{Leads: leads, Cache: c, Publish: queue.Publish}
}

type createLeadRequest struct {
	FirstName         string  `json:"first_name" validate:"required,max=100"`
	LastName          string  `json:"last_name" validate:"required,max=100"`
	Email             *string `json:"email" validate:"omitempty,email"`
	Phone             string  `json:"phone" validate:"required,max=32"`
	Source            string  `json:"source" validate:"required,max=64"`
	InterestedProgram *string `json:"interested_program"`
	Notes             *string `json:"notes"`
	AssignedTo        *uint64 `json:"assigned_to"`
}

// Create registers a new lead. The first audit row lands in the same unit
// of work as the lead itself.
func (h *LeadHandler) Create(c echo.Context) error {
	var req createLeadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	lead, err := h.Leads.Create(ctx, model.Lead{
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Email:             req.Email,
		Phone:             req.Phone,
		Source:            req.Source,
		InterestedProgram: req.InterestedProgram,
		Notes:             req.Notes,
		AssignedTo:        req.AssignedTo,
	}, identity(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyLeadStats)
	return c.JSON(http.StatusCreated, echo.Map{"lead": lead})
}

// List returns a filtered, sorted page of leads.
func (h *LeadHandler) List(c echo.Context) error {
	f := repository.LeadFilter{
		Status:     c.QueryParam("status"),
		Source:     c.QueryParam("source"),
		AssignedTo: queryUint(c, "assigned_to"),
		Search:     c.QueryParam("search"),
		SortBy:     c.QueryParam("sort_by"),
		SortDesc:   c.QueryParam("sort_dir") == "desc",
		Page:       queryInt(c, "page"),
		Limit:      queryInt(c, "limit"),
	}
	leads, total, err := h.Leads.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"leads": leads, "total": total})
}

// Get returns one lead, read through the entity cache.
func (h *LeadHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var lead model.Lead
	if h.Cache.GetJSON(ctx, cache.LeadKey(id), &lead) {
		return c.JSON(http.StatusOK, echo.Map{"lead": lead})
	}
	lead, err = h.Leads.GetByID(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.SetJSON(ctx, cache.LeadKey(id), lead)
	return c.JSON(http.StatusOK, echo.Map{"lead": lead})
}

// Update applies a partial lead update and records it in the audit trail.
func (h *LeadHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var patch model.LeadPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if patch.Status.Present() {
		switch patch.Status.Value() {
		case model.LeadNew, model.LeadContacted, model.LeadInterested,
			model.LeadNegotiating, model.LeadClosedWon, model.LeadClosedLost:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}

	ctx := c.Request().Context()
	lead, err := h.Leads.Update(ctx, id, patch, identity(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyLeadStats, cache.LeadKey(id))
	return c.JSON(http.StatusOK, echo.Map{"lead": lead})
}

// Delete removes a lead.
func (h *LeadHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Leads.Delete(ctx, id); err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyLeadStats, cache.LeadKey(id))
	return c.JSON(http.StatusOK, echo.Map{"message": "lead deleted"})
}

type addActivityRequest struct {
	ActivityType string `json:"activity_type" validate:"required,oneof=call email meeting note status_change"`
	Description  string `json:"description" validate:"required,max=2000"`
}

// AddActivity appends an entry to a lead's audit trail.
func (h *LeadHandler) AddActivity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req addActivityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	activity, err := h.Leads.AddActivity(c.Request().Context(), id, identity(c).UserID, req.ActivityType, req.Description)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"activity": activity})
}

// Activities lists a lead's audit trail, newest first.
func (h *LeadHandler) Activities(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.Leads.GetByID(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	activities, err := h.Leads.Activities(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"activities": activities})
}

type convertRequest struct {
	ProgramName       string  `json:"program_name" validate:"required,max=255"`
	AmountCents       int64   `json:"amount_cents" validate:"required,gt=0"`
	Stage             string  `json:"stage" validate:"omitempty,oneof=proposal negotiation contract_sent won"`
	ExpectedCloseDate *string `json:"expected_close_date" validate:"omitempty,datetime=2006-01-02"`
	Notes             *string `json:"notes"`
}

// Convert turns a lead into a deal. The deal insert, the status flip and the
// audit row commit together or not at all; a lead already out of the
// pipeline is rejected. The event fires only after the commit.
func (h *LeadHandler) Convert(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req convertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	in := repository.ConvertInput{
		ProgramName: req.ProgramName,
		AmountCents: req.AmountCents,
		Stage:       req.Stage,
		Notes:       req.Notes,
	}
	if req.ExpectedCloseDate != nil {
		d, _ := time.Parse("2006-01-02", *req.ExpectedCloseDate)
		in.ExpectedCloseDate = &d
	}

	ctx := c.Request().Context()
	actingUserID := identity(c).UserID
	deal, err := h.Leads.Convert(ctx, id, in, actingUserID)
	if err != nil {
		switch err {
		case repository.ErrLeadClosed:
			metrics.ConversionsTotal.WithLabelValues("closed").Inc()
		case repository.ErrNotFound:
			metrics.ConversionsTotal.WithLabelValues("not_found").Inc()
		default:
			metrics.ConversionsTotal.WithLabelValues("error").Inc()
		}
		return writeError(c, err)
	}
	metrics.ConversionsTotal.WithLabelValues("ok").Inc()
	h.Cache.Invalidate(ctx, cache.KeyLeadStats, cache.LeadKey(id))

	if err := h.Publish(ctx, queue.LeadConvertedQueue, queue.LeadConvertedEvent{
		LeadID:      deal.LeadID,
		DealID:      deal.ID,
		ProgramName: deal.ProgramName,
		AmountCents: deal.AmountCents,
		Stage:       deal.Stage,
		ConvertedBy: actingUserID,
		ConvertedAt: deal.CreatedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Get().Warn().Err(err).Uint64("deal_id", deal.ID).Msg("conversion event not published")
	}
	return c.JSON(http.StatusCreated, echo.Map{"deal": deal})
}

// Stats serves the leads dashboard aggregate through the cache.
func (h *LeadHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	var stats model.LeadStats
	if h.Cache.GetJSON(ctx, cache.KeyLeadStats, &stats) {
		return c.JSON(http.StatusOK, echo.Map{"stats": stats})
	}
	stats, err := h.Leads.Stats(ctx)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.SetJSON(ctx, cache.KeyLeadStats, stats)
	return c.JSON(http.StatusOK, echo.Map{"stats": stats})
}
