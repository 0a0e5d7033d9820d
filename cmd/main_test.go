package main

import (
	"context"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-deliveries/internal/config"
	"github.com/ukydev/fleet-deliveries/internal/db/memory"
	"github.com/ukydev/fleet-deliveries/internal/ledger"
	"github.com/ukydev/fleet-deliveries/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Timezone: "America/Sao_Paulo",
		Mongo:    config.MongoConfig{Database: "fleet", Timeout: time.Second},
		Rollover: config.RolloverConfig{Schedule: "00:02", Concurrency: 2, MaxAttempts: 3, HistoryPolicy: "any"},
		Sync:     config.SyncConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond},
	}
}

func memoryCollections(s *memory.Store) collections {
	return collections{Accounts: s, Trucks: s, Deliveries: s, History: s, Outcomes: s}
}

func newTestServices(t *testing.T, store *memory.Store, now time.Time) *services {
	t.Helper()
	l, err := ledger.NewRedisLedger(ledger.Config{})
	require.NoError(t, err)
	svc, err := newServices(testConfig(), memoryCollections(store), l, func() time.Time { return now })
	require.NoError(t, err)
	return svc
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "rollover", "reconcile"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestNewServices_WiresSynchronizer(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: "acc"})
	svc := newTestServices(t, store, time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC))

	out := svc.sync.Handle(context.Background(), models.ChangeEvent{
		After: &models.Delivery{ID: "D1", AccountID: "acc", TruckRef: "T1", DeliveryDate: "2024-06-02"},
	})
	assert.False(t, out.Failed(), out.Error)

	truck, _ := store.Truck("acc", "T1")
	assert.Equal(t, []string{"D1"}, truck.ActiveDeliveriesRef)
	assert.Len(t, store.Outcomes(), 1)
}

func TestNewServices_RejectsBadPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Rollover.HistoryPolicy = "sometimes"
	_, err := newServices(cfg, memoryCollections(memory.New()), nil, nil)
	assert.Error(t, err)
}

func TestNewScheduler(t *testing.T) {
	store := memory.New()
	store.PutTruck(models.Truck{ID: "T1", AccountID: "acc", FutureDeliveriesRef: map[string][]string{"2024-06-02": {"D1"}}})
	now := time.Date(2024, 6, 2, 13, 0, 0, 0, time.UTC) // 10:00 in São Paulo
	svc := newTestServices(t, store, now)

	s, err := newScheduler(context.Background(), svc.dates.Location(), 0, 2, time.Hour, svc,
		gocron.WithClock(clockwork.NewFakeClockAt(now)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	var daily gocron.Job
	for _, j := range jobs {
		if j.Name() == rolloverJobName {
			daily = j
		}
	}
	require.NotNil(t, daily)

	s.Start()
	want := time.Date(2024, 6, 3, 0, 2, 0, 0, svc.dates.Location())
	require.Eventually(t, func() bool {
		next, err := daily.NextRun()
		return err == nil && next.Equal(want)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, daily.RunNow())
	require.Eventually(t, func() bool {
		truck, _ := store.Truck("acc", "T1")
		return truck.LastRolloverDate == "2024-06-02"
	}, 2*time.Second, 10*time.Millisecond)

	truck, _ := store.Truck("acc", "T1")
	assert.Equal(t, []string{"D1"}, truck.ActiveDeliveriesRef)
}

func TestNewScheduler_WithoutReconcile(t *testing.T) {
	svc := newTestServices(t, memory.New(), time.Now())
	s, err := newScheduler(context.Background(), svc.dates.Location(), 0, 2, 0, svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	assert.Len(t, s.Jobs(), 1)
}
