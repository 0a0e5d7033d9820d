package db

import (
	"context"
	"time"

	"github.com/ukydev/fleet-deliveries/internal/index"
	"github.com/ukydev/fleet-deliveries/internal/models"
)

// TruckCollection defines the truck index operations. Every write bumps the
// truck's version so whole-map writers can detect interleaved updates.
type TruckCollection interface {
	FindTruck(ctx context.Context, accountID, truckID string) (*models.Truck, error)
	FindTrucks(ctx context.Context, accountID string) ([]models.Truck, error)
	// AddActiveDelivery is a set union on activeDeliveriesRef.
	AddActiveDelivery(ctx context.Context, accountID, truckID, deliveryID string) error
	// RemoveActiveDelivery pulls the id and reports whether it was present.
	RemoveActiveDelivery(ctx context.Context, accountID, truckID, deliveryID string) (bool, error)
	// CompleteDelivery moves the id from the active to the completed set in
	// a single update.
	CompleteDelivery(ctx context.Context, accountID, truckID, deliveryID string) error
	// ReplaceFutureDeliveries writes the whole future index if the truck is
	// still at version, failing with ErrConcurrentModification otherwise.
	ReplaceFutureDeliveries(ctx context.Context, accountID, truckID string, version int64, future index.FutureIndex) error
	// ApplyRollover resets the daily fields if the truck is still at version.
	ApplyRollover(ctx context.Context, accountID, truckID string, version int64, update RolloverUpdate) error
}

// RolloverUpdate is the new daily state of a truck.
type RolloverUpdate struct {
	Date      string
	Active    index.ActiveSet
	Completed index.ActiveSet
	Future    index.FutureIndex
}

// DeliveryFilter selects deliveries of one account. Zero fields do not
// filter.
type DeliveryFilter struct {
	Date           string
	FromDate       string
	TruckID        string
	IncompleteOnly bool
}

// DeliveryCollection defines the delivery operations the index code needs.
type DeliveryCollection interface {
	FindDelivery(ctx context.Context, accountID, deliveryID string) (*models.Delivery, error)
	FindDeliveries(ctx context.Context, accountID string, filter DeliveryFilter) ([]models.Delivery, error)
	StampDelivered(ctx context.Context, accountID, deliveryID, driverID string, at time.Time) error
	// MarkLate re-dates an incomplete delivery from one date to another and
	// flags it late. It reports false when the delivery no longer matches.
	MarkLate(ctx context.Context, accountID, deliveryID, from, to string) (bool, error)
}

// HistoryCollection stores per-day truck snapshots.
type HistoryCollection interface {
	AppendHistory(ctx context.Context, accountID, historyID, truckID, date string, snapshot models.DaySnapshot) error
}

// AccountLister enumerates the accounts that own trucks.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]string, error)
}

// OutcomeCollection records how change events were handled.
type OutcomeCollection interface {
	InsertOutcome(ctx context.Context, outcome models.Outcome) error
}
