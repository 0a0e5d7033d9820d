package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/models"
)

func testProvider(t *testing.T) *dates.Provider {
	t.Helper()
	p, err := dates.New("America/Sao_Paulo", func() time.Time {
		return time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC)
	})
	require.NoError(t, err)
	return p
}

func TestJitterLocation(t *testing.T) {
	d := NewDispatcher("acc", []string{"t1"}, testProvider(t), 1)
	base := cities[0]
	for i := 0; i < 100; i++ {
		loc := jitterLocation(base, 1000, d.rng)
		assert.InDelta(t, base.Latitude, loc.Latitude, 0.01)
		assert.InDelta(t, base.Longitude, loc.Longitude, 0.01)
	}
}

func TestDispatcher_Create(t *testing.T) {
	d := NewDispatcher("acc", []string{"t1", "t2"}, testProvider(t), 1)

	evt := d.Create()
	require.NoError(t, evt.Normalize())
	assert.Equal(t, models.ChangeCreate, evt.Kind())
	assert.Equal(t, "acc", evt.AccountID)
	assert.NotEmpty(t, evt.ID)
	require.NotNil(t, evt.After)
	assert.Contains(t, []string{"t1", "t2"}, evt.After.TruckRef)
	assert.True(t, dates.Tracked(evt.After.DeliveryDate, "2024-06-02"))
	last, _ := dates.Shift("2024-06-02", d.Horizon)
	assert.LessOrEqual(t, evt.After.DeliveryDate, last)
	assert.Len(t, d.deliveries, 1)
}

func TestDispatcher_NextKeepsStateConsistent(t *testing.T) {
	d := NewDispatcher("acc", []string{"t1", "t2", "t3"}, testProvider(t), 42)

	first := d.Next()
	assert.Equal(t, models.ChangeCreate, first.Kind())

	seen := map[string]models.Delivery{}
	ids := map[string]bool{}
	for i := 0; i < 200; i++ {
		evt := d.Next()
		require.NoError(t, evt.Normalize())
		assert.False(t, ids[evt.ID], "event ids are unique")
		ids[evt.ID] = true

		if evt.Before != nil {
			prev, ok := seen[evt.DeliveryID]
			if ok {
				assert.Equal(t, prev, *evt.Before, "before state matches the last after state")
			}
			assert.False(t, evt.Before.IsComplete, "complete deliveries are not written again")
		}
		if evt.After != nil {
			seen[evt.DeliveryID] = *evt.After
		} else {
			delete(seen, evt.DeliveryID)
		}
	}
	for id, delivery := range seen {
		if _, ok := d.deliveries[id]; ok {
			assert.Equal(t, delivery, d.deliveries[id])
		}
	}
}

func TestDispatcher_SameSeedSameSequence(t *testing.T) {
	a := NewDispatcher("acc", []string{"t1", "t2"}, testProvider(t), 7)
	b := NewDispatcher("acc", []string{"t1", "t2"}, testProvider(t), 7)
	for i := 0; i < 20; i++ {
		ea, eb := a.Next(), b.Next()
		assert.Equal(t, ea.Kind(), eb.Kind())
	}
}

func TestHTTPPublisher_Success(t *testing.T) {
	var got models.ChangeEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := NewDispatcher("acc", []string{"t1"}, testProvider(t), 1)
	evt := d.Create()
	p := &HTTPPublisher{URL: ts.URL}
	require.NoError(t, p.Publish(evt))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, evt.DeliveryID, got.DeliveryID)
}

func TestHTTPPublisher_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	p := &HTTPPublisher{URL: ts.URL}
	err := p.Publish(models.ChangeEvent{ID: "e1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPPublisher_Unreachable(t *testing.T) {
	p := &HTTPPublisher{URL: "http://127.0.0.1:1/changes", Client: &http.Client{Timeout: time.Second}}
	assert.Error(t, p.Publish(models.ChangeEvent{ID: "e1"}))
}

func TestTruckIDs(t *testing.T) {
	t.Setenv("SIM_TRUCK_IDS", "")
	assert.Equal(t, []string{"truck-1", "truck-2"}, truckIDs(2))

	t.Setenv("SIM_TRUCK_IDS", " a, b ,,c")
	assert.Equal(t, []string{"a", "b", "c"}, truckIDs(5))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SIM_TEST_INT", "12")
	assert.Equal(t, 12, envInt("SIM_TEST_INT", 3))
	t.Setenv("SIM_TEST_INT", "nope")
	assert.Equal(t, 3, envInt("SIM_TEST_INT", 3))
	t.Setenv("SIM_TEST_INT", "-1")
	assert.Equal(t, 3, envInt("SIM_TEST_INT", 3))

	t.Setenv("SIM_TEST_STR", "")
	assert.Equal(t, "def", envString("SIM_TEST_STR", "def"))
	t.Setenv("SIM_TEST_STR", "x")
	assert.Equal(t, "x", envString("SIM_TEST_STR", "def"))
}
