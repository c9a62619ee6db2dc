package bookings

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *MemoryStore, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	c := clock.NewFake(time.Date(2026, time.October, 18, 10, 0, 0, 0, loc))
	store := NewMemoryStore(c)
	return &Service{
		Store: store,
		Clock: c,
		Resolver: clock.Resolver{
			Location:    loc,
			AdvanceDays: 7,
			OpeningTime: clock.MustTimeOfDay("05:59:45"),
		},
		Rules: Rules{
			MaxAdvanceDays:  60,
			EarliestTeeTime: clock.MustTimeOfDay("06:00"),
			LatestTeeTime:   clock.MustTimeOfDay("18:00"),
		},
	}, store, loc
}

func TestSubmit_ScenarioA(t *testing.T) {
	svc, store, loc := newService(t)

	r, err := svc.Submit(context.Background(), Submission{Name: " Jane Doe ", Date: "2026-10-28", Time: "08:00"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, "Jane Doe", r.Name)
	assert.Equal(t, "08:00", r.RequestedTime)
	assert.True(t, time.Date(2026, time.October, 21, 5, 59, 45, 0, loc).Equal(r.DueAt))

	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubmit_ScenarioB_InsideAdvanceWindow(t *testing.T) {
	svc, store, _ := newService(t)

	_, err := svc.Submit(context.Background(), Submission{Name: "Jane", Date: "2026-10-23", Time: "08:00"})
	var invalid *clock.InvalidDateError
	require.True(t, errors.As(err, &invalid))

	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "rejected submissions never reach the store")
}

func TestValidate_Rejections(t *testing.T) {
	svc, _, _ := newService(t)

	cases := []struct {
		name  string
		sub   Submission
		field string
	}{
		{"empty name", Submission{Name: "  ", Date: "2026-10-28", Time: "08:00"}, "user_name"},
		{"long name", Submission{Name: strings.Repeat("x", 101), Date: "2026-10-28", Time: "08:00"}, "user_name"},
		{"bad date", Submission{Name: "Jane", Date: "10/28/2026", Time: "08:00"}, "requested_date"},
		{"bad time format", Submission{Name: "Jane", Date: "2026-10-28", Time: "8am"}, "requested_time"},
		{"too early", Submission{Name: "Jane", Date: "2026-10-28", Time: "05:59"}, "requested_time"},
		{"too late", Submission{Name: "Jane", Date: "2026-10-28", Time: "18:01"}, "requested_time"},
		{"too far out", Submission{Name: "Jane", Date: "2026-12-18", Time: "08:00"}, "requested_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Validate(tc.sub)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidate_BoundsAreInclusive(t *testing.T) {
	svc, _, _ := newService(t)

	for _, tt := range []string{"06:00", "18:00"} {
		_, err := svc.Validate(Submission{Name: "Jane", Date: "2026-10-26", Time: tt})
		assert.NoError(t, err, tt)
	}
	_, err := svc.Validate(Submission{Name: "Jane", Date: "2026-12-17", Time: "08:00"})
	assert.NoError(t, err)
}
