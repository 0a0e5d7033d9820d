package models

import "time"

// IndexKind names which truck index a mutation touches.
type IndexKind string

const (
	IndexActive    IndexKind = "active"
	IndexFuture    IndexKind = "future"
	IndexCompleted IndexKind = "completed"
)

// MutationOp is the operation applied to an index.
type MutationOp string

const (
	OpAdd      MutationOp = "add"
	OpRemove   MutationOp = "remove"
	OpComplete MutationOp = "complete"
)

// Mutation is one index change decided for a change event.
type Mutation struct {
	TruckID string     `bson:"truckId" json:"truckId"`
	Index   IndexKind  `bson:"index" json:"index"`
	Op      MutationOp `bson:"op" json:"op"`
	Date    string     `bson:"date,omitempty" json:"date,omitempty"`
	// Required marks removals whose absence means the index has drifted.
	Required bool   `bson:"required,omitempty" json:"required,omitempty"`
	Status   string `bson:"status,omitempty" json:"status,omitempty"`
	Error    string `bson:"error,omitempty" json:"error,omitempty"`
}

// Mutation statuses.
const (
	StatusApplied        = "applied"
	StatusAbsent         = "absent"
	StatusVehicleMissing = "vehicle_missing"
	StatusFailed         = "failed"
)

// Outcome is the audit record of how one change event was handled.
type Outcome struct {
	ID          string     `bson:"_id" json:"id"`
	EventID     string     `bson:"eventId" json:"eventId"`
	AccountID   string     `bson:"accountId" json:"accountId"`
	DeliveryID  string     `bson:"deliveryId" json:"deliveryId"`
	Kind        ChangeKind `bson:"kind" json:"kind"`
	Branch      string     `bson:"branch" json:"branch"`
	Today       string     `bson:"today" json:"today"`
	Mutations   []Mutation `bson:"mutations,omitempty" json:"mutations,omitempty"`
	Duplicate   bool       `bson:"duplicate,omitempty" json:"duplicate,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	ProcessedAt time.Time  `bson:"processedAt" json:"processedAt"`
}

// Failed reports whether handling the event left an error behind.
func (o Outcome) Failed() bool {
	return o.Error != ""
}
