package models

// Truck is the vehicle record whose delivery indexes are maintained by the
// synchronizer and the daily rollover.
type Truck struct {
	ID           string `bson:"_id" json:"id"`
	AccountID    string `bson:"accountId" json:"accountId"`
	Name         string `bson:"name" json:"name"`
	LicensePlate string `bson:"licensePlate" json:"licensePlate"`
	Size         string `bson:"size" json:"size"`

	ActiveDeliveriesRef    []string `bson:"activeDeliveriesRef" json:"activeDeliveriesRef"`
	CompletedDeliveriesRef []string `bson:"completedDeliveriesRef" json:"completedDeliveriesRef"`
	// FutureDeliveriesRef maps a delivery date to the deliveries scheduled
	// for it. A date never maps to an empty list.
	FutureDeliveriesRef   map[string][]string `bson:"futureDeliveriesRef" json:"futureDeliveriesRef"`
	CurrentDateDriversRef []string            `bson:"currentDateDriversRef" json:"currentDateDriversRef"`
	DriverRef             string              `bson:"driverRef" json:"driverRef"`

	GeoAddressArray []GeoAddress `bson:"geoAddressArray" json:"geoAddressArray"`
	LastLocation    GeoAddress   `bson:"lastLocation" json:"lastLocation"`
	HistoryRef      string       `bson:"historyRef" json:"historyRef"`

	// LastRolloverDate is the civil date of the last rollover applied.
	LastRolloverDate string `bson:"lastRolloverDate,omitempty" json:"lastRolloverDate,omitempty"`
	// Version is bumped by every index write and used as the write
	// precondition for whole-map updates.
	Version int64 `bson:"version" json:"version"`
}

// HasActivity reports whether the truck did anything worth archiving:
// deliveries assigned or completed, drivers on shift, or a recorded route.
func (t *Truck) HasActivity() bool {
	return len(t.ActiveDeliveriesRef) > 0 ||
		len(t.CompletedDeliveriesRef) > 0 ||
		len(t.CurrentDateDriversRef) > 0 ||
		len(t.GeoAddressArray) > 0 ||
		t.DriverRef != ""
}
