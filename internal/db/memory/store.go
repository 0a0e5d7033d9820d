// Package memory is an in-process implementation of the db collections with
// the same version and not-found semantics as the Mongo adapter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-deliveries/internal/db"
	"github.com/ukydev/fleet-deliveries/internal/index"
	"github.com/ukydev/fleet-deliveries/internal/models"
)

var (
	_ db.TruckCollection    = (*Store)(nil)
	_ db.DeliveryCollection = (*Store)(nil)
	_ db.HistoryCollection  = (*Store)(nil)
	_ db.AccountLister      = (*Store)(nil)
	_ db.OutcomeCollection  = (*Store)(nil)
)

// Store keeps trucks, deliveries, history and outcomes in maps keyed by
// account and id.
type Store struct {
	mu         sync.Mutex
	trucks     map[string]models.Truck
	deliveries map[string]models.Delivery
	history    map[string]models.HistoryTruck
	outcomes   []models.Outcome
	failures   map[string][]error
	hooks      map[string]func()
}

// New creates an empty store.
func New() *Store {
	return &Store{
		trucks:     make(map[string]models.Truck),
		deliveries: make(map[string]models.Delivery),
		history:    make(map[string]models.HistoryTruck),
		failures:   make(map[string][]error),
		hooks:      make(map[string]func()),
	}
}

func key(accountID, id string) string {
	return accountID + "/" + id
}

// FailNext makes the next calls of the named method return errs in order.
func (s *Store) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], errs...)
}

// OnCall runs fn, without the store lock held, every time the named method
// is entered. Tests use it to interleave concurrent writers.
func (s *Store) OnCall(method string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[method] = fn
}

func (s *Store) enter(method string) error {
	s.mu.Lock()
	hook := s.hooks[method]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if queued := s.failures[method]; len(queued) > 0 {
		s.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

// PutTruck stores a copy of the truck.
func (s *Store) PutTruck(t models.Truck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trucks[key(t.AccountID, t.ID)] = cloneTruck(t)
}

// PutDelivery stores a copy of the delivery.
func (s *Store) PutDelivery(d models.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[key(d.AccountID, d.ID)] = d
}

// DeleteDelivery removes a delivery.
func (s *Store) DeleteDelivery(accountID, deliveryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deliveries, key(accountID, deliveryID))
}

// Truck returns a copy of a stored truck for assertions.
func (s *Store) Truck(accountID, truckID string) (models.Truck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trucks[key(accountID, truckID)]
	return cloneTruck(t), ok
}

// Delivery returns a stored delivery for assertions.
func (s *Store) Delivery(accountID, deliveryID string) (models.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[key(accountID, deliveryID)]
	return d, ok
}

// History returns a stored history document for assertions.
func (s *Store) History(historyID string) (models.HistoryTruck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[historyID]
	return h, ok
}

// Outcomes returns the recorded outcomes.
func (s *Store) Outcomes() []models.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Outcome(nil), s.outcomes...)
}

// FindTruck implements db.TruckCollection.
func (s *Store) FindTruck(_ context.Context, accountID, truckID string) (*models.Truck, error) {
	if err := s.enter("FindTruck"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trucks[key(accountID, truckID)]
	if !ok {
		return nil, fmt.Errorf("truck %s: %w", truckID, db.ErrNotFound)
	}
	t = cloneTruck(t)
	return &t, nil
}

// FindTrucks implements db.TruckCollection.
func (s *Store) FindTrucks(_ context.Context, accountID string) ([]models.Truck, error) {
	if err := s.enter("FindTrucks"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Truck
	for _, t := range s.trucks {
		if t.AccountID == accountID {
			out = append(out, cloneTruck(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddActiveDelivery implements db.TruckCollection.
func (s *Store) AddActiveDelivery(_ context.Context, accountID, truckID, deliveryID string) error {
	if err := s.enter("AddActiveDelivery"); err != nil {
		return err
	}
	return s.mutate(accountID, truckID, func(t *models.Truck) {
		t.ActiveDeliveriesRef = index.ActiveSet(t.ActiveDeliveriesRef).Add(deliveryID)
	})
}

// RemoveActiveDelivery implements db.TruckCollection.
func (s *Store) RemoveActiveDelivery(_ context.Context, accountID, truckID, deliveryID string) (bool, error) {
	if err := s.enter("RemoveActiveDelivery"); err != nil {
		return false, err
	}
	present := false
	err := s.mutate(accountID, truckID, func(t *models.Truck) {
		set := index.ActiveSet(t.ActiveDeliveriesRef)
		present = set.Contains(deliveryID)
		t.ActiveDeliveriesRef = set.RemoveIfPresent(deliveryID)
	})
	return present, err
}

// CompleteDelivery implements db.TruckCollection.
func (s *Store) CompleteDelivery(_ context.Context, accountID, truckID, deliveryID string) error {
	if err := s.enter("CompleteDelivery"); err != nil {
		return err
	}
	return s.mutate(accountID, truckID, func(t *models.Truck) {
		t.ActiveDeliveriesRef = index.ActiveSet(t.ActiveDeliveriesRef).RemoveIfPresent(deliveryID)
		t.CompletedDeliveriesRef = index.ActiveSet(t.CompletedDeliveriesRef).Add(deliveryID)
	})
}

// ReplaceFutureDeliveries implements db.TruckCollection.
func (s *Store) ReplaceFutureDeliveries(_ context.Context, accountID, truckID string, version int64, future index.FutureIndex) error {
	if err := s.enter("ReplaceFutureDeliveries"); err != nil {
		return err
	}
	return s.conditional(accountID, truckID, version, func(t *models.Truck) {
		t.FutureDeliveriesRef = future.Clone()
	})
}

// ApplyRollover implements db.TruckCollection.
func (s *Store) ApplyRollover(_ context.Context, accountID, truckID string, version int64, update db.RolloverUpdate) error {
	if err := s.enter("ApplyRollover"); err != nil {
		return err
	}
	return s.conditional(accountID, truckID, version, func(t *models.Truck) {
		t.ActiveDeliveriesRef = append([]string{}, update.Active...)
		t.CompletedDeliveriesRef = append([]string{}, update.Completed...)
		t.CurrentDateDriversRef = []string{}
		t.GeoAddressArray = []models.GeoAddress{}
		t.FutureDeliveriesRef = update.Future.Clone()
		t.LastRolloverDate = update.Date
	})
}

func (s *Store) mutate(accountID, truckID string, fn func(*models.Truck)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(accountID, truckID)
	t, ok := s.trucks[k]
	if !ok {
		return fmt.Errorf("truck %s: %w", truckID, db.ErrNotFound)
	}
	t = cloneTruck(t)
	fn(&t)
	t.Version++
	s.trucks[k] = t
	return nil
}

func (s *Store) conditional(accountID, truckID string, version int64, fn func(*models.Truck)) error {
	s.mu.Lock()
	t, ok := s.trucks[key(accountID, truckID)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("truck %s: %w", truckID, db.ErrNotFound)
	}
	if t.Version != version {
		return fmt.Errorf("truck %s at version %d: %w", truckID, version, db.ErrConcurrentModification)
	}
	return s.mutate(accountID, truckID, fn)
}

// FindDelivery implements db.DeliveryCollection.
func (s *Store) FindDelivery(_ context.Context, accountID, deliveryID string) (*models.Delivery, error) {
	if err := s.enter("FindDelivery"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[key(accountID, deliveryID)]
	if !ok {
		return nil, fmt.Errorf("delivery %s: %w", deliveryID, db.ErrNotFound)
	}
	return &d, nil
}

// FindDeliveries implements db.DeliveryCollection.
func (s *Store) FindDeliveries(_ context.Context, accountID string, filter db.DeliveryFilter) ([]models.Delivery, error) {
	if err := s.enter("FindDeliveries"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Delivery
	for _, d := range s.deliveries {
		if d.AccountID == accountID && filter.Matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeliveryDate != out[j].DeliveryDate {
			return out[i].DeliveryDate < out[j].DeliveryDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// StampDelivered implements db.DeliveryCollection.
func (s *Store) StampDelivered(_ context.Context, accountID, deliveryID, driverID string, at time.Time) error {
	if err := s.enter("StampDelivered"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(accountID, deliveryID)
	d, ok := s.deliveries[k]
	if !ok {
		return fmt.Errorf("delivery %s: %w", deliveryID, db.ErrNotFound)
	}
	d.DeliveredAt = &at
	if driverID != "" {
		d.DriverRef = driverID
	}
	s.deliveries[k] = d
	return nil
}

// MarkLate implements db.DeliveryCollection.
func (s *Store) MarkLate(_ context.Context, accountID, deliveryID, from, to string) (bool, error) {
	if err := s.enter("MarkLate"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(accountID, deliveryID)
	d, ok := s.deliveries[k]
	if !ok || d.DeliveryDate != from || d.IsComplete {
		return false, nil
	}
	d.DeliveryDate = to
	d.Late = true
	d.LateSince = from
	s.deliveries[k] = d
	return true, nil
}

// AppendHistory implements db.HistoryCollection.
func (s *Store) AppendHistory(_ context.Context, accountID, historyID, truckID, date string, snapshot models.DaySnapshot) error {
	if err := s.enter("AppendHistory"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if historyID == "" {
		historyID = truckID
	}
	h, ok := s.history[historyID]
	if !ok {
		h = models.HistoryTruck{ID: historyID, AccountID: accountID, TruckRef: truckID}
	}
	if h.History == nil {
		h.History = make(map[string]models.DaySnapshot)
	}
	h.History[date] = snapshot
	s.history[historyID] = h
	return nil
}

// ListAccounts implements db.AccountLister.
func (s *Store) ListAccounts(_ context.Context) ([]string, error) {
	if err := s.enter("ListAccounts"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, t := range s.trucks {
		if !seen[t.AccountID] {
			seen[t.AccountID] = true
			out = append(out, t.AccountID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// InsertOutcome implements db.OutcomeCollection.
func (s *Store) InsertOutcome(_ context.Context, outcome models.Outcome) error {
	if err := s.enter("InsertOutcome"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func cloneTruck(t models.Truck) models.Truck {
	t.ActiveDeliveriesRef = append([]string(nil), t.ActiveDeliveriesRef...)
	t.CompletedDeliveriesRef = append([]string(nil), t.CompletedDeliveriesRef...)
	t.CurrentDateDriversRef = append([]string(nil), t.CurrentDateDriversRef...)
	t.GeoAddressArray = append([]models.GeoAddress(nil), t.GeoAddressArray...)
	if t.FutureDeliveriesRef != nil {
		t.FutureDeliveriesRef = index.FutureIndex(t.FutureDeliveriesRef).Clone()
	}
	return t
}
