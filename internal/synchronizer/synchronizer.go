// Package synchronizer keeps the per-truck delivery indexes in step with
// writes to the deliveries collection.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/db"
	"github.com/ukydev/fleet-deliveries/internal/index"
	"github.com/ukydev/fleet-deliveries/internal/ledger"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"github.com/ukydev/fleet-deliveries/internal/retry"
)

// ErrIndexDrift means a delivery the event says was indexed is not where
// its previous state puts it.
var ErrIndexDrift = errors.New("truck index drift")

// DefaultTimeout bounds every store call made while handling an event.
const DefaultTimeout = 5 * time.Second

// Config holds the collaborators of a Synchronizer. Outcomes and Ledger are
// optional.
type Config struct {
	Trucks     db.TruckCollection
	Deliveries db.DeliveryCollection
	Outcomes   db.OutcomeCollection
	Ledger     ledger.Ledger
	Dates      *dates.Provider
	Retry      retry.Policy
	Timeout    time.Duration
}

// Synchronizer turns delivery change events into truck index mutations.
type Synchronizer struct {
	trucks     db.TruckCollection
	deliveries db.DeliveryCollection
	outcomes   db.OutcomeCollection
	ledger     ledger.Ledger
	dates      *dates.Provider
	retry      retry.Policy
	timeout    time.Duration
}

// New creates a Synchronizer.
func New(cfg Config) *Synchronizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Synchronizer{
		trucks:     cfg.Trucks,
		deliveries: cfg.Deliveries,
		outcomes:   cfg.Outcomes,
		ledger:     cfg.Ledger,
		dates:      cfg.Dates,
		retry:      cfg.Retry,
		timeout:    timeout,
	}
}

// Handle applies one change event and reports what it did. It never fails:
// problems are logged and recorded on the outcome.
func (s *Synchronizer) Handle(ctx context.Context, evt models.ChangeEvent) models.Outcome {
	today := s.dates.Today()
	out := models.Outcome{
		ID:          uuid.NewString(),
		EventID:     evt.ID,
		Today:       today,
		ProcessedAt: s.dates.Now(),
	}

	if err := evt.Normalize(); err != nil {
		out.Branch = BranchInvalid
		out.Error = err.Error()
		s.finish(ctx, &out, err)
		return out
	}
	out.AccountID = evt.AccountID
	out.DeliveryID = evt.DeliveryID
	out.Kind = evt.Kind()

	if s.seen(ctx, evt.ID) {
		out.Branch = BranchDuplicate
		out.Duplicate = true
		s.finish(ctx, &out, nil)
		return out
	}

	p := decide(evt, today)
	out.Branch = p.branch
	out.Mutations = p.mutations
	err := s.apply(ctx, evt, p, out.Mutations)
	if err != nil {
		out.Error = err.Error()
	}
	s.finish(ctx, &out, err)
	if err == nil {
		s.mark(ctx, evt.ID)
	}
	return out
}

// apply runs the planned mutations. Truck groups are independent so a
// failure on one truck does not stop the other.
func (s *Synchronizer) apply(ctx context.Context, evt models.ChangeEvent, p plan, mutations []models.Mutation) error {
	var errs []error
	for _, group := range groupByTruck(mutations) {
		if err := s.applyTruck(ctx, evt, group); err != nil {
			errs = append(errs, err)
		}
	}
	if p.stamp {
		if err := s.stamp(ctx, evt, mutations); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// groupByTruck splits mutations per truck, keeping their order.
func groupByTruck(mutations []models.Mutation) [][]*models.Mutation {
	var groups [][]*models.Mutation
	seen := make(map[string]int)
	for i := range mutations {
		m := &mutations[i]
		pos, ok := seen[m.TruckID]
		if !ok {
			pos = len(groups)
			seen[m.TruckID] = pos
			groups = append(groups, nil)
		}
		groups[pos] = append(groups[pos], m)
	}
	return groups
}

func (s *Synchronizer) applyTruck(ctx context.Context, evt models.ChangeEvent, group []*models.Mutation) error {
	var future []*models.Mutation
	var errs []error
	for _, m := range group {
		if m.Index == models.IndexFuture {
			future = append(future, m)
			continue
		}
		if err := s.applyFlat(ctx, evt, m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(future) > 0 {
		if err := s.applyFuture(ctx, evt, future); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// applyFlat runs an atomic set update on the active or completed index.
func (s *Synchronizer) applyFlat(ctx context.Context, evt models.ChangeEvent, m *models.Mutation) error {
	present := true
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		switch m.Op {
		case models.OpAdd:
			err = s.trucks.AddActiveDelivery(ctx, evt.AccountID, m.TruckID, evt.DeliveryID)
		case models.OpRemove:
			present, err = s.trucks.RemoveActiveDelivery(ctx, evt.AccountID, m.TruckID, evt.DeliveryID)
		case models.OpComplete:
			err = s.trucks.CompleteDelivery(ctx, evt.AccountID, m.TruckID, evt.DeliveryID)
		default:
			err = fmt.Errorf("unsupported %s operation %q", m.Index, m.Op)
		}
		return err
	})
	return s.settle(evt, m, present, err)
}

// applyFuture folds all future index mutations of one truck into a single
// read, compute and version-checked write, retried on interleaved writes.
func (s *Synchronizer) applyFuture(ctx context.Context, evt models.ChangeEvent, group []*models.Mutation) error {
	present := make([]bool, len(group))
	err := s.do(ctx, func(ctx context.Context) error {
		truck, err := s.trucks.FindTruck(ctx, evt.AccountID, group[0].TruckID)
		if err != nil {
			return err
		}

		future := index.FutureIndex(truck.FutureDeliveriesRef)
		changed := false
		for i, m := range group {
			present[i] = true
			switch m.Op {
			case models.OpAdd:
				future = future.Add(evt.DeliveryID, m.Date)
				changed = true
			case models.OpRemove:
				next, err := future.Remove(evt.DeliveryID, m.Date)
				if err != nil && !m.Required {
					// Tolerant removals follow the id to whichever date holds it.
					if date, ok := future.Locate(evt.DeliveryID); ok {
						next, err = future.Remove(evt.DeliveryID, date)
					}
				}
				if err != nil {
					present[i] = false
					continue
				}
				future = next
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return s.trucks.ReplaceFutureDeliveries(ctx, evt.AccountID, truck.ID, truck.Version, future)
	})

	var errs []error
	for i, m := range group {
		if e := s.settle(evt, m, present[i], err); e != nil {
			errs = append(errs, e)
		}
	}
	return errors.Join(dedupe(errs)...)
}

// settle records the result of a mutation and returns the error it leaves
// on the outcome, if any.
func (s *Synchronizer) settle(evt models.ChangeEvent, m *models.Mutation, present bool, err error) error {
	entry := log.WithFields(log.Fields{
		"event_id":    evt.ID,
		"account_id":  evt.AccountID,
		"delivery_id": evt.DeliveryID,
		"truck_id":    m.TruckID,
		"index":       m.Index,
		"op":          m.Op,
		"date":        m.Date,
	})

	switch {
	case errors.Is(err, db.ErrNotFound):
		m.Status = models.StatusVehicleMissing
		entry.Warn("Truck not found, skipping index update")
		return nil
	case err != nil:
		m.Status = models.StatusFailed
		m.Error = err.Error()
		entry.WithError(err).Error("Failed to update truck index")
		return fmt.Errorf("%s %s on truck %s: %w", m.Op, m.Index, m.TruckID, err)
	case !present && m.Required:
		drift := driftError(m)
		m.Status = models.StatusAbsent
		m.Error = drift.Error()
		entry.WithError(drift).Error("Delivery missing from truck index")
		return drift
	case !present:
		m.Status = models.StatusAbsent
		entry.Debug("Delivery already absent from truck index")
		return nil
	default:
		m.Status = models.StatusApplied
		return nil
	}
}

func driftError(m *models.Mutation) error {
	if m.Index == models.IndexFuture {
		return fmt.Errorf("%w: truck %s future %s: %w", ErrIndexDrift, m.TruckID, m.Date, index.ErrNotFound)
	}
	return fmt.Errorf("%w: truck %s %s: %w", ErrIndexDrift, m.TruckID, m.Index, index.ErrIDNotFound)
}

// dedupe drops repeated store errors from one combined write so the
// outcome names a failure once.
func dedupe(errs []error) []error {
	seen := make(map[string]bool)
	out := errs[:0]
	for _, err := range errs {
		if !seen[err.Error()] {
			seen[err.Error()] = true
			out = append(out, err)
		}
	}
	return out
}

// stamp writes the delivery time and the completing truck's driver back to
// the delivery.
func (s *Synchronizer) stamp(ctx context.Context, evt models.ChangeEvent, mutations []models.Mutation) error {
	truckID := evt.After.TruckRef
	for _, m := range mutations {
		if m.Op == models.OpComplete && m.Status == models.StatusVehicleMissing {
			return nil
		}
	}

	driver := evt.After.DriverRef
	err := s.do(ctx, func(ctx context.Context) error {
		truck, err := s.trucks.FindTruck(ctx, evt.AccountID, truckID)
		if err != nil {
			return err
		}
		if truck.DriverRef != "" {
			driver = truck.DriverRef
		}
		at := s.dates.Now()
		if evt.After.DeliveredAt != nil {
			at = *evt.After.DeliveredAt
		}
		return s.deliveries.StampDelivered(ctx, evt.AccountID, evt.DeliveryID, driver, at)
	})
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.WithFields(log.Fields{
			"event_id":    evt.ID,
			"delivery_id": evt.DeliveryID,
			"truck_id":    truckID,
		}).WithError(err).Error("Failed to stamp delivered delivery")
		return fmt.Errorf("stamp delivery %s: %w", evt.DeliveryID, err)
	}
	return nil
}

// do runs one store operation with a timeout per attempt, retrying
// transient and concurrent-modification failures.
func (s *Synchronizer) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.retry, db.Retryable, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return db.Classify(fn(opCtx))
	})
}

func (s *Synchronizer) seen(ctx context.Context, eventID string) bool {
	if s.ledger == nil || eventID == "" {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	seen, err := s.ledger.Seen(opCtx, eventID)
	if err != nil {
		log.WithField("event_id", eventID).WithError(err).Warn("Event ledger lookup failed")
		return false
	}
	return seen
}

func (s *Synchronizer) mark(ctx context.Context, eventID string) {
	if s.ledger == nil || eventID == "" {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.ledger.Mark(opCtx, eventID); err != nil {
		log.WithField("event_id", eventID).WithError(err).Warn("Failed to record event in ledger")
	}
}

// finish logs the outcome and persists it when an outcome collection is
// configured.
func (s *Synchronizer) finish(ctx context.Context, out *models.Outcome, err error) {
	entry := log.WithFields(log.Fields{
		"outcome_id":  out.ID,
		"event_id":    out.EventID,
		"account_id":  out.AccountID,
		"delivery_id": out.DeliveryID,
		"kind":        out.Kind,
		"branch":      out.Branch,
		"mutations":   len(out.Mutations),
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("Delivery change handled with errors")
	case out.Branch == BranchUntracked || out.Branch == BranchNoop || out.Duplicate:
		entry.Debug("Delivery change needs no index update")
	default:
		entry.Info("Delivery change applied")
	}

	if s.outcomes == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.outcomes.InsertOutcome(opCtx, *out); err != nil {
		entry.WithError(err).Warn("Failed to persist outcome")
	}
}
