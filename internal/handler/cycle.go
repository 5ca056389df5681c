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

// cycleStore is the slice of the cycle repository the handler needs.
type cycleStore interface {
	Create(ctx context.Context, programID uint64, name string, start, end time.Time, maxStudents *uint32, notes *string) (model.Cycle, error)
	GetByID(ctx context.Context, id uint64) (model.Cycle, error)
	List(ctx context.Context, f repository.CycleFilter) ([]model.Cycle, int64, error)
	Update(ctx context.Context, id uint64, p model.CyclePatch) (model.Cycle, error)
	Delete(ctx context.Context, id uint64) error
	Enroll(ctx context.Context, cycleID, userID uint64, paymentStatus string, totalPaidCents int64, notes *string) (model.Enrollment, error)
	UpdateEnrollment(ctx context.Context, cycleID, enrollmentID uint64, p model.EnrollmentPatch) (model.Enrollment, error)
	RemoveStudent(ctx context.Context, cycleID, enrollmentID uint64) error
	Students(ctx context.Context, cycleID uint64) ([]model.EnrolledStudent, error)
	Upcoming(ctx context.Context) ([]model.Cycle, error)
	Stats(ctx context.Context) (model.CycleStats, error)
}

// statsCache is what the handlers need from the aggregate cache.
type statsCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	SetJSON(ctx context.Context, key string, v interface{})
	Invalidate(ctx context.Context, keys ...string)
}

// publishFunc posts a domain event to the broker. Swappable in tests.
type publishFunc func(ctx context.Context, queueName string, event interface{}) error

// CycleHandler serves cycle CRUD, rosters and enrollment.
type CycleHandler struct {
	Cycles  cycleStore
	Cache   statsCache
	Publish publishFunc
}

func NewCycleHandler(cycles cycleStore, c statsCache) *CycleHandler {
	return &CycleHandler{Cycles: cycles, Cache: c, Publish: queue.Publish}
}

type createCycleRequest struct {
	ProgramID   uint64  `json:"program_id" validate:"required"`
	Name        string  `json:"name" validate:"required,max=255"`
	StartDate   string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	MaxStudents *uint32 `json:"max_students" validate:"omitempty,gt=0"`
	Notes       *string `json:"notes"`
}

// Create opens a new planned cycle.
func (h *CycleHandler) Create(c echo.Context) error {
	var req createCycleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	if end.Before(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end_date must not precede start_date")
	}

	ctx := c.Request().Context()
	cycle, err := h.Cycles.Create(ctx, req.ProgramID, req.Name, start, end, req.MaxStudents, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyCycleStats)
	return c.JSON(http.StatusCreated, echo.Map{"cycle": cycle})
}

// List returns a page of cycles filtered by status and program.
func (h *CycleHandler) List(c echo.Context) error {
	f := repository.CycleFilter{
		Status:    c.QueryParam("status"),
		ProgramID: queryUint(c, "program_id"),
		Page:      queryInt(c, "page"),
		Limit:     queryInt(c, "limit"),
	}
	cycles, total, err := h.Cycles.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"cycles": cycles, "total": total})
}

// Get returns one cycle, read through the entity cache.
func (h *CycleHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var cycle model.Cycle
	if h.Cache.GetJSON(ctx, cache.CycleKey(id), &cycle) {
		return c.JSON(http.StatusOK, echo.Map{"cycle": cycle})
	}
	cycle, err = h.Cycles.GetByID(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.SetJSON(ctx, cache.CycleKey(id), cycle)
	return c.JSON(http.StatusOK, echo.Map{"cycle": cycle})
}

// Update applies a partial cycle update.
func (h *CycleHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var patch model.CyclePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if patch.Status.Present() {
		switch patch.Status.Value() {
		case model.CyclePlanned, model.CycleActive, model.CycleCompleted:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}

	ctx := c.Request().Context()
	cycle, err := h.Cycles.Update(ctx, id, patch)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyCycleStats, cache.CycleKey(id))
	return c.JSON(http.StatusOK, echo.Map{"cycle": cycle})
}

// Delete removes a cycle without enrollments.
func (h *CycleHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Cycles.Delete(ctx, id); err != nil {
		if err == repository.ErrConflict {
			return c.JSON(http.StatusConflict, echo.Map{"error": "cycle has enrolled students"})
		}
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyCycleStats, cache.CycleKey(id))
	return c.JSON(http.StatusOK, echo.Map{"message": "cycle deleted"})
}

type enrollRequest struct {
	UserID         uint64  `json:"user_id" validate:"required"`
	PaymentStatus  string  `json:"payment_status" validate:"omitempty,oneof=pending partial paid"`
	TotalPaidCents int64   `json:"total_paid_cents" validate:"gte=0"`
	Notes          *string `json:"notes"`
}

// Enroll adds a student to a cycle. Seat accounting happens atomically in
// the store, so concurrent requests for the last seat produce exactly one
// success. A confirmation event fires only after the commit.
func (h *CycleHandler) Enroll(c echo.Context) error {
	cycleID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req enrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	enrollment, err := h.Cycles.Enroll(ctx, cycleID, req.UserID, req.PaymentStatus, req.TotalPaidCents, req.Notes)
	if err != nil {
		switch err {
		case repository.ErrCycleFull:
			metrics.EnrollmentsTotal.WithLabelValues("full").Inc()
		case repository.ErrAlreadyEnrolled:
			metrics.EnrollmentsTotal.WithLabelValues("duplicate").Inc()
		case repository.ErrNotFound:
			metrics.EnrollmentsTotal.WithLabelValues("not_found").Inc()
		default:
			metrics.EnrollmentsTotal.WithLabelValues("error").Inc()
		}
		return writeError(c, err)
	}
	metrics.EnrollmentsTotal.WithLabelValues("ok").Inc()
	h.Cache.Invalidate(ctx, cache.KeyCycleStats, cache.CycleKey(cycleID))

	cycleName := ""
	if cycle, err := h.Cycles.GetByID(ctx, cycleID); err == nil {
		cycleName = cycle.Name
	}
	if err := h.Publish(ctx, queue.EnrollmentConfirmedQueue, queue.EnrollmentConfirmedEvent{
		EnrollmentID:   enrollment.ID,
		UserID:         enrollment.UserID,
		CycleID:        enrollment.CycleID,
		CycleName:      cycleName,
		PaymentStatus:  enrollment.PaymentStatus,
		TotalPaidCents: enrollment.TotalPaidCents,
		EnrolledAt:     enrollment.EnrolledAt.UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Get().Warn().Err(err).Uint64("enrollment_id", enrollment.ID).Msg("enrollment event not published")
	}
	return c.JSON(http.StatusCreated, echo.Map{"enrollment": enrollment})
}

// Students returns the roster of a cycle.
func (h *CycleHandler) Students(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.Cycles.GetByID(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	students, err := h.Cycles.Students(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"students": students})
}

// UpdateEnrollment patches the bookkeeping fields of one enrollment, such as
// marking it paid or dropped. Seats are only taken and freed through Enroll
// and RemoveStudent.
func (h *CycleHandler) UpdateEnrollment(c echo.Context) error {
	cycleID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	enrollmentID, err := pathID(c, "enrollmentId")
	if err != nil {
		return err
	}
	var patch model.EnrollmentPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if patch.Status.Present() {
		switch patch.Status.Value() {
		case model.EnrollmentActive, model.EnrollmentCompleted, model.EnrollmentDropped:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	if patch.PaymentStatus.Present() {
		switch patch.PaymentStatus.Value() {
		case "pending", "partial", "paid":
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payment_status")
		}
	}
	if patch.TotalPaidCents.Present() && patch.TotalPaidCents.Value() < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "total_paid_cents must not be negative")
	}

	ctx := c.Request().Context()
	enrollment, err := h.Cycles.UpdateEnrollment(ctx, cycleID, enrollmentID, patch)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyCycleStats, cache.CycleKey(cycleID))
	return c.JSON(http.StatusOK, echo.Map{"enrollment": enrollment})
}

// RemoveStudent drops an enrollment and frees its seat.
func (h *CycleHandler) RemoveStudent(c echo.Context) error {
	cycleID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	enrollmentID, err := pathID(c, "enrollmentId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Cycles.RemoveStudent(ctx, cycleID, enrollmentID); err != nil {
		return writeError(c, err)
	}
	h.Cache.Invalidate(ctx, cache.KeyCycleStats, cache.CycleKey(cycleID))
	return c.JSON(http.StatusOK, echo.Map{"message": "student removed"})
}

// Upcoming returns the next cycles starting today or later.
func (h *CycleHandler) Upcoming(c echo.Context) error {
	cycles, err := h.Cycles.Upcoming(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"cycles": cycles})
}

// Stats serves the cycles dashboard aggregate through the cache.
func (h *CycleHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	var stats model.CycleStats
	if h.Cache.GetJSON(ctx, cache.KeyCycleStats, &stats) {
		return c.JSON(http.StatusOK, echo.Map{"stats": stats})
	}
	stats, err := h.Cycles.Stats(ctx)
	if err != nil {
		return writeError(c, err)
	}
	h.Cache.SetJSON(ctx, cache.KeyCycleStats, stats)
	return c.JSON(http.StatusOK, echo.Map{"stats": stats})
}
