package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubops/training-ops/internal/cache"
	"github.com/clubops/training-ops/internal/queue"
)

func newCycleFixture() (*echo.Echo, *CycleHandler, *memCycleStore, *recordingCache, *publishRecorder) {
	store := newMemCycleStore()
	rc := newRecordingCache()
	pub := &publishRecorder{}
	h := &CycleHandler{Cycles: store, Cache: rc, Publish: pub.publish}
	return newTestEcho(), h, store, rc, pub
}

func cyclePathCtx(e *echo.Echo, method, body string, params map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	c, rec := jsonCtx(e, method, "/", body)
	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func TestCreateCycle(t *testing.T) {
	e, h, _, rc, _ := newCycleFixture()

	c, rec := jsonCtx(e, http.MethodPost, "/api/cycles",
		`{"program_id":1,"name":"Spring Bootcamp","start_date":"2026-10-01","end_date":"2026-12-20","max_students":25}`)
	serve(e, h.Create, c, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"planned"`)
	assert.Equal(t, []string{cache.KeyCycleStats}, rc.invalidations())
}

func TestCreateCycleRejectsBadDates(t *testing.T) {
	e, h, _, _, _ := newCycleFixture()

	c, rec := jsonCtx(e, http.MethodPost, "/api/cycles",
		`{"program_id":1,"name":"Backwards","start_date":"2026-12-20","end_date":"2026-10-01"}`)
	serve(e, h.Create, c, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = jsonCtx(e, http.MethodPost, "/api/cycles",
		`{"program_id":1,"name":"No dates"}`)
	serve(e, h.Create, c, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrollHappyPath(t *testing.T) {
	e, h, store, rc, pub := newCycleFixture()
	max := uint32(10)
	cy := store.addCycle(&max)

	c, rec := cyclePathCtx(e, http.MethodPost,
		`{"user_id":42,"payment_status":"paid","total_paid_cents":250000}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Enroll, c, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got, err := store.GetByID(c.Request().Context(), cy.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.CurrentStudents)
	assert.ElementsMatch(t, []string{cache.KeyCycleStats, cache.CycleKey(cy.ID)}, rc.invalidations())

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, queue.EnrollmentConfirmedQueue, events[0].queue)
	ev, ok := events[0].event.(queue.EnrollmentConfirmedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(42), ev.UserID)
	assert.Equal(t, cy.ID, ev.CycleID)
	assert.Equal(t, cy.Name, ev.CycleName)
}

func TestEnrollLastSeatSingleWinner(t *testing.T) {
	e, h, store, _, pub := newCycleFixture()
	max := uint32(1)
	cy := store.addCycle(&max)

	const contenders = 8
	codes := make([]int, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, rec := cyclePathCtx(e, http.MethodPost,
				fmt.Sprintf(`{"user_id":%d}`, 100+i),
				map[string]string{"id": fmt.Sprint(cy.ID)})
			serve(e, h.Enroll, c, rec)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, code := range codes {
		if code == http.StatusCreated {
			wins++
		} else {
			assert.Equal(t, http.StatusConflict, code)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := store.GetByID(context.Background(), cy.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.CurrentStudents)
	assert.Len(t, pub.published(), 1)
}

func TestEnrollDuplicate(t *testing.T) {
	e, h, store, _, pub := newCycleFixture()
	cy := store.addCycle(nil)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		c, rec := cyclePathCtx(e, http.MethodPost, `{"user_id":42}`,
			map[string]string{"id": fmt.Sprint(cy.ID)})
		serve(e, h.Enroll, c, rec)
		assert.Equal(t, want, rec.Code, "attempt %d", i)
	}
	assert.Len(t, pub.published(), 1)

	got, err := store.GetByID(context.Background(), cy.ID)
	require.NoError(t, err)
	// The failed duplicate did not leak a seat.
	assert.Equal(t, uint32(1), got.CurrentStudents)
}

func TestEnrollUnknownCycle(t *testing.T) {
	e, h, _, rc, pub := newCycleFixture()

	c, rec := cyclePathCtx(e, http.MethodPost, `{"user_id":42}`,
		map[string]string{"id": "999"})
	serve(e, h.Enroll, c, rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, pub.published())
	assert.Empty(t, rc.invalidations())
}

func TestRemoveStudentFreesSeat(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	max := uint32(1)
	cy := store.addCycle(&max)

	c, rec := cyclePathCtx(e, http.MethodPost, `{"user_id":42}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Enroll, c, rec)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Enrollment struct {
			ID uint64 `json:"id"`
		} `json:"enrollment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	c, rec = cyclePathCtx(e, http.MethodDelete, "",
		map[string]string{"id": fmt.Sprint(cy.ID), "enrollmentId": fmt.Sprint(resp.Enrollment.ID)})
	serve(e, h.RemoveStudent, c, rec)
	require.Equal(t, http.StatusOK, rec.Code)

	// The freed seat can be taken again.
	c, rec = cyclePathCtx(e, http.MethodPost, `{"user_id":43}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Enroll, c, rec)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDeleteCycleWithStudents(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	cy := store.addCycle(nil)

	c, rec := cyclePathCtx(e, http.MethodPost, `{"user_id":42}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Enroll, c, rec)
	require.Equal(t, http.StatusCreated, rec.Code)

	c, rec = cyclePathCtx(e, http.MethodDelete, "",
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Delete, c, rec)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "enrolled students")
}

func TestCycleStatsReadThrough(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	store.addCycle(nil)

	// First read misses and fills the cache; the second is served from it.
	for i := 0; i < 2; i++ {
		c, rec := jsonCtx(e, http.MethodGet, "/api/cycles/stats", "")
		serve(e, h.Stats, c, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"total_cycles":1`)
	}
	assert.Equal(t, 1, store.statsCalls)
}

func TestCycleStatsInvalidatedByWrite(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	cy := store.addCycle(nil)

	c, rec := jsonCtx(e, http.MethodGet, "/api/cycles/stats", "")
	serve(e, h.Stats, c, rec)
	require.Equal(t, http.StatusOK, rec.Code)

	c, rec = cyclePathCtx(e, http.MethodPatch, `{"status":"active"}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Update, c, rec)
	require.Equal(t, http.StatusOK, rec.Code)

	c, rec = jsonCtx(e, http.MethodGet, "/api/cycles/stats", "")
	serve(e, h.Stats, c, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, store.statsCalls)
}

func TestUpdateCycleAcceptsDateOnlyForm(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	cy := store.addCycle(nil)

	// The patch takes the same date form the create endpoint accepts.
	c, rec := cyclePathCtx(e, http.MethodPut, `{"start_date":"2026-11-01"}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Update, c, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := store.GetByID(context.Background(), cy.ID)
	require.NoError(t, err)
	assert.Equal(t, 2026, got.StartDate.Year())
	assert.Equal(t, time.November, got.StartDate.Month())
	assert.Equal(t, 1, got.StartDate.Day())

	// Full RFC 3339 keeps working.
	c, rec = cyclePathCtx(e, http.MethodPut, `{"end_date":"2026-12-20T00:00:00Z"}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Update, c, rec)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = store.GetByID(context.Background(), cy.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.EndDate.Day())
}

func TestUpdateEnrollment(t *testing.T) {
	e, h, store, rc, _ := newCycleFixture()
	cy := store.addCycle(nil)

	c, rec := cyclePathCtx(e, http.MethodPost,
		`{"user_id":42,"payment_status":"partial","total_paid_cents":100000}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Enroll, c, rec)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Enrollment struct {
			ID uint64 `json:"id"`
		} `json:"enrollment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	c, rec = cyclePathCtx(e, http.MethodPut,
		`{"payment_status":"paid","total_paid_cents":250000}`,
		map[string]string{"id": fmt.Sprint(cy.ID), "enrollmentId": fmt.Sprint(created.Enrollment.ID)})
	serve(e, h.UpdateEnrollment, c, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"paid"`)
	assert.Contains(t, rec.Body.String(), `250000`)
	assert.Contains(t, rc.invalidations(), cache.CycleKey(cy.ID))

	// The patch never moves the seat counter.
	got, err := store.GetByID(context.Background(), cy.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.CurrentStudents)
}

func TestUpdateEnrollmentUnknown(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	cy := store.addCycle(nil)

	c, rec := cyclePathCtx(e, http.MethodPut, `{"payment_status":"paid"}`,
		map[string]string{"id": fmt.Sprint(cy.ID), "enrollmentId": "999"})
	serve(e, h.UpdateEnrollment, c, rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateEnrollmentRejectsBadValues(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	cy := store.addCycle(nil)

	for _, body := range []string{
		`{"status":"waitlisted"}`,
		`{"payment_status":"refunded"}`,
		`{"total_paid_cents":-1}`,
	} {
		c, rec := cyclePathCtx(e, http.MethodPut, body,
			map[string]string{"id": fmt.Sprint(cy.ID), "enrollmentId": "1"})
		serve(e, h.UpdateEnrollment, c, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestUpdateCycleRejectsUnknownStatus(t *testing.T) {
	e, h, store, _, _ := newCycleFixture()
	cy := store.addCycle(nil)

	c, rec := cyclePathCtx(e, http.MethodPatch, `{"status":"cancelled"}`,
		map[string]string{"id": fmt.Sprint(cy.ID)})
	serve(e, h.Update, c, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
