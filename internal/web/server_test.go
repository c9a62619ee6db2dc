package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/logging"
)

type harness struct {
	handler http.Handler
	store   *bookings.MemoryStore
	cookies []*http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	c := clock.NewFake(time.Date(2026, time.October, 18, 10, 0, 0, 0, loc))
	store := bookings.NewMemoryStore(c)

	authStore := auth.NewStore(auth.NewMemoryUsers(), []byte("0123456789abcdef0123456789abcdef"), []byte("0123456789abcdef"))
	rec := httptest.NewRecorder()
	require.NoError(t, authStore.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), 1))

	s := &Server{
		Auth: authStore,
		Bookings: &bookings.Service{
			Store:    store,
			Clock:    c,
			Resolver: clock.Resolver{Location: loc, AdvanceDays: 7, OpeningTime: clock.MustTimeOfDay("05:59:45")},
			Rules: bookings.Rules{
				MaxAdvanceDays:  60,
				EarliestTeeTime: clock.MustTimeOfDay("06:00"),
				LatestTeeTime:   clock.MustTimeOfDay("18:00"),
			},
		},
		Log: logging.Discard(),
	}
	return &harness{handler: s.Routes(), store: store, cookies: rec.Result().Cookies()}
}

func (h *harness) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if authed {
		for _, c := range h.cookies {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestAPI_CreateAndRead(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/bookings", `{"user_name":"Jane","requested_date":"2026-10-28","requested_time":"08:00"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created bookings.BookingRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, bookings.StatusPending, created.Status)
	assert.Equal(t, time.Date(2026, time.October, 21, 11, 59, 45, 0, time.UTC), created.DueAt.UTC())

	rec = h.do(http.MethodGet, "/api/bookings/1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/bookings", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []bookings.BookingRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = h.do(http.MethodGet, "/api/bookings/1/history", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/bookings", `{"user_name":"Jane","requested_date":"2026-10-23","requested_time":"08:00"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"requested_date"`)

	rec = h.do(http.MethodPost, "/api/bookings", `{"user_name":"Jane","requested_date":"2026-10-28","requested_time":"19:00"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"requested_time"`)

	rec = h.do(http.MethodPost, "/api/bookings", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/bookings/99", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/bookings/abc", "", true).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/bookings", "", false).Code)
}

func TestAPI_CancelOnlyPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, err := h.store.Create(ctx, bookings.NewRequest{Name: "Jane", Date: clock.Date(2026, time.October, 28), Time: "08:00", DueAt: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/api/bookings/1", "", true).Code)
	got, err := h.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, got.Status)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/bookings/1", "", true).Code)
}

func TestAPI_StorageUnavailable(t *testing.T) {
	h := newHarness(t)
	h.store.Fail = errors.New("connection refused")

	rec := h.do(http.MethodGet, "/api/bookings", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestPages(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusFound, rec.Code)

	rec = h.do(http.MethodGet, "/login", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Log in")

	rec = h.do(http.MethodGet, "/bookings/new", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `min="2026-10-26"`)

	form := url.Values{"user_name": {"Jane"}, "requested_date": {"2026-10-28"}, "requested_time": {"08:00"}}
	rec = h.do(http.MethodPost, "/bookings", form.Encode(), true)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/bookings/1", rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, "/bookings/1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2026-10-21 05:59:45 MDT")
	assert.Contains(t, rec.Body.String(), "Cancel request")

	rec = h.do(http.MethodGet, "/", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Jane")

	form.Set("requested_date", "2026-10-20")
	rec = h.do(http.MethodPost, "/bookings", form.Encode(), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "advance window")
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
