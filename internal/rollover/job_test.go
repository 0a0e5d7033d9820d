package rollover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/db"
	"github.com/ukydev/fleet-deliveries/internal/db/memory"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"github.com/ukydev/fleet-deliveries/internal/retry"
	"github.com/ukydev/fleet-deliveries/internal/synchronizer"
)

const (
	account   = "acc"
	today     = "2024-06-02"
	yesterday = "2024-06-01"
)

func newProvider(t *testing.T) *dates.Provider {
	t.Helper()
	// 00:02 in São Paulo.
	p, err := dates.New(dates.DefaultTimezone, func() time.Time {
		return time.Date(2024, 6, 2, 3, 2, 0, 0, time.UTC)
	})
	require.NoError(t, err)
	return p
}

func newJob(t *testing.T, store *memory.Store, policy HistoryPolicy) *Job {
	t.Helper()
	return New(Config{
		Accounts:      store,
		Trucks:        store,
		Deliveries:    store,
		History:       store,
		Dates:         newProvider(t),
		Concurrency:   4,
		Retry:         retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		HistoryPolicy: policy,
	})
}

func truck(t *testing.T, s *memory.Store, id string) models.Truck {
	t.Helper()
	tr, ok := s.Truck(account, id)
	require.True(t, ok)
	return tr
}

func TestRun_PromotesTodayAndArchivesYesterday(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{
		ID:                     "T1",
		AccountID:              account,
		HistoryRef:             "H1",
		DriverRef:              "drv",
		ActiveDeliveriesRef:    []string{"D3"},
		CompletedDeliveriesRef: []string{"D0"},
		CurrentDateDriversRef:  []string{"drv"},
		GeoAddressArray:        []models.GeoAddress{{Latitude: -23.5, Longitude: -46.6}},
		FutureDeliveriesRef: map[string][]string{
			today:        {"D1", "D2"},
			"2024-06-05": {"D5"},
		},
	})
	store.PutDelivery(models.Delivery{ID: "D3", AccountID: account, TruckRef: "T1", DeliveryDate: yesterday, IsComplete: true})
	store.PutDelivery(models.Delivery{ID: "D1", AccountID: account, TruckRef: "T1", DeliveryDate: today})
	store.PutDelivery(models.Delivery{ID: "D2", AccountID: account, TruckRef: "T1", DeliveryDate: today})

	report, err := newJob(t, store, PolicyStrict).Run(context.Background())
	require.NoError(t, err)

	tr := truck(t, store, "T1")
	assert.Equal(t, []string{"D1", "D2"}, tr.ActiveDeliveriesRef)
	assert.Equal(t, map[string][]string{"2024-06-05": {"D5"}}, tr.FutureDeliveriesRef)
	assert.Empty(t, tr.CompletedDeliveriesRef)
	assert.Empty(t, tr.CurrentDateDriversRef)
	assert.Empty(t, tr.GeoAddressArray)
	assert.Equal(t, today, tr.LastRolloverDate)

	h, ok := store.History("H1")
	require.True(t, ok)
	require.Contains(t, h.History, yesterday)
	snap := h.History[yesterday]
	assert.Equal(t, []string{"D3"}, snap.ActiveDeliveriesRef)
	assert.Equal(t, []string{"D0"}, snap.CompletedDeliveriesRef)
	assert.Equal(t, "drv", snap.DriverRef)
	assert.Len(t, snap.GeoAddressArray, 1)

	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.HistoryWritten)
	assert.Equal(t, 2, report.Promoted)
}

func TestRun_LateDeliveryCarriedOverOnce(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: account, ActiveDeliveriesRef: []string{"D4"}})
	store.PutDelivery(models.Delivery{ID: "D4", AccountID: account, TruckRef: "T1", DeliveryDate: yesterday})
	store.PutDelivery(models.Delivery{ID: "U1", AccountID: account, DeliveryDate: yesterday})
	job := newJob(t, store, PolicyAny)

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.LateMarked)

	d, _ := store.Delivery(account, "D4")
	assert.Equal(t, today, d.DeliveryDate)
	assert.True(t, d.Late)
	assert.Equal(t, yesterday, d.LateSince)
	u, _ := store.Delivery(account, "U1")
	assert.Equal(t, today, u.DeliveryDate)
	assert.Equal(t, []string{"D4"}, truck(t, store, "T1").ActiveDeliveriesRef)

	// The re-date write reaches the synchronizer as a change event.
	syncer := synchronizer.New(synchronizer.Config{Trucks: store, Deliveries: store, Dates: newProvider(t)})
	before := models.Delivery{ID: "D4", AccountID: account, TruckRef: "T1", DeliveryDate: yesterday}
	out := syncer.Handle(context.Background(), models.ChangeEvent{Before: &before, After: &d})
	assert.Equal(t, synchronizer.BranchRolloverRedate, out.Branch)

	report, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.LateMarked)
	assert.Equal(t, 1, report.Skipped)

	d, _ = store.Delivery(account, "D4")
	assert.Equal(t, today, d.DeliveryDate)
	assert.Equal(t, yesterday, d.LateSince)
	assert.Equal(t, []string{"D4"}, truck(t, store, "T1").ActiveDeliveriesRef)
}

func TestRun_PrunesPastKeys(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: account, FutureDeliveriesRef: map[string][]string{
		"2024-05-30": {"old"},
		yesterday:    {"older"},
		"2024-06-03": {"next"},
	}})

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Pruned)
	assert.Equal(t, map[string][]string{"2024-06-03": {"next"}}, truck(t, store, "T1").FutureDeliveriesRef)
}

func TestRun_HistoryPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy HistoryPolicy
		truck  models.Truck
		want   bool
	}{
		{"any with completed only", PolicyAny, models.Truck{CompletedDeliveriesRef: []string{"x"}}, true},
		{"strict with completed only", PolicyStrict, models.Truck{CompletedDeliveriesRef: []string{"x"}}, false},
		{"strict without driver", PolicyStrict, models.Truck{ActiveDeliveriesRef: []string{"x"}}, false},
		{"strict with active and driver", PolicyStrict, models.Truck{ActiveDeliveriesRef: []string{"x"}, DriverRef: "d"}, true},
		{"any idle", PolicyAny, models.Truck{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			tt.truck.ID, tt.truck.AccountID = "T1", account
			store.PutTruck(tt.truck)

			report, err := newJob(t, store, tt.policy).Run(context.Background())
			require.NoError(t, err)

			_, ok := store.History("T1")
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, report.HistoryWritten == 1)
		})
	}
}

func TestRun_FailureIsolatedPerTruck(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"T1", "T2", "T3"} {
		store.PutTruck(models.Truck{ID: id, AccountID: account})
	}
	store.FailNext("ApplyRollover", errors.New("document failed validation"))

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Vehicles)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Succeeded)
}

func TestRun_RetriesInterleavedWrite(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: account, FutureDeliveriesRef: map[string][]string{today: {"D1"}}})
	store.PutDelivery(models.Delivery{ID: "D1", AccountID: account, TruckRef: "T1", DeliveryDate: today})
	store.PutDelivery(models.Delivery{ID: "N1", AccountID: account, TruckRef: "T1", DeliveryDate: today})
	var once sync.Once
	store.OnCall("ApplyRollover", func() {
		once.Do(func() {
			require.NoError(t, store.AddActiveDelivery(context.Background(), account, "T1", "N1"))
		})
	})

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.ElementsMatch(t, []string{"D1", "N1"}, truck(t, store, "T1").ActiveDeliveriesRef)
}

func TestRun_KeepsDeliveryIndexedDuringRead(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: account, FutureDeliveriesRef: map[string][]string{today: {"D1"}}})
	store.PutDelivery(models.Delivery{ID: "D1", AccountID: account, TruckRef: "T1", DeliveryDate: today})
	var once sync.Once
	store.OnCall("FindTruck", func() {
		once.Do(func() {
			store.PutDelivery(models.Delivery{ID: "N1", AccountID: account, TruckRef: "T1", DeliveryDate: today})
			require.NoError(t, store.AddActiveDelivery(context.Background(), account, "T1", "N1"))
		})
	})

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.ElementsMatch(t, []string{"D1", "N1"}, truck(t, store, "T1").ActiveDeliveriesRef)
}

func TestRun_DropsScheduledDeliveryCompletedBeforeRollover(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{
		ID:                  "T1",
		AccountID:           account,
		DriverRef:           "drv",
		FutureDeliveriesRef: map[string][]string{today: {"D1", "D2"}},
	})
	before := models.Delivery{ID: "D1", AccountID: account, TruckRef: "T1", DeliveryDate: today}
	after := before
	after.IsComplete = true
	store.PutDelivery(after)
	store.PutDelivery(models.Delivery{ID: "D2", AccountID: account, TruckRef: "T1", DeliveryDate: today})

	syncer := synchronizer.New(synchronizer.Config{Trucks: store, Deliveries: store, Dates: newProvider(t)})
	out := syncer.Handle(context.Background(), models.ChangeEvent{Before: &before, After: &after})
	require.Equal(t, synchronizer.BranchComplete, out.Branch)

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	tr := truck(t, store, "T1")
	assert.Equal(t, []string{"D2"}, tr.ActiveDeliveriesRef)
	assert.Equal(t, []string{"D1"}, tr.CompletedDeliveriesRef)
	assert.Empty(t, tr.FutureDeliveriesRef)
	assert.Equal(t, 1, report.Promoted)

	_, archived := store.History("T1")
	assert.False(t, archived, "today's completion is not yesterday's activity")
}

func TestRun_LateDeliveryRedatedWhenTruckFails(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: account})
	store.PutDelivery(models.Delivery{ID: "D4", AccountID: account, TruckRef: "T1", DeliveryDate: yesterday})
	store.FailNext("ApplyRollover", db.ErrPermanent)

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.LateMarked)
	d, _ := store.Delivery(account, "D4")
	assert.Equal(t, today, d.DeliveryDate)
	assert.True(t, d.Late)
	assert.Equal(t, yesterday, d.LateSince)

	tr := truck(t, store, "T1")
	assert.Equal(t, []string{"D4"}, tr.ActiveDeliveriesRef)
	assert.Empty(t, tr.LastRolloverDate)
}

func TestRun_MultipleAccounts(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: "a1"})
	store.PutTruck(models.Truck{ID: "T2", AccountID: "a2"})
	store.FailNext("FindTrucks", db.ErrPermanent)

	report, err := newJob(t, store, PolicyAny).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Accounts)
	assert.Equal(t, 1, report.AccountsFailed)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRun_ListAccountsFails(t *testing.T) {
	store := memory.New()
	store.FailNext("ListAccounts", db.ErrPermanent)

	_, err := newJob(t, store, PolicyAny).Run(context.Background())
	assert.ErrorIs(t, err, db.ErrPermanent)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAny, p)

	p, err = ParsePolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
