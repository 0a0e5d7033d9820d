package models

// DaySnapshot is what a truck looked like at the end of one civil day.
type DaySnapshot struct {
	ActiveDeliveriesRef    []string     `bson:"activeDeliveriesRef" json:"activeDeliveriesRef"`
	CompletedDeliveriesRef []string     `bson:"completedDeliveriesRef" json:"completedDeliveriesRef"`
	CurrentDateDriversRef  []string     `bson:"currentDateDriversRef" json:"currentDateDriversRef"`
	DriverRef              string       `bson:"driverRef" json:"driverRef"`
	GeoAddressArray        []GeoAddress `bson:"geoAddressArray" json:"geoAddressArray"`
}

// HistoryTruck keeps one snapshot per civil date for a truck.
type HistoryTruck struct {
	ID        string                 `bson:"_id" json:"id"`
	AccountID string                 `bson:"accountId" json:"accountId"`
	TruckRef  string                 `bson:"truckRef" json:"truckRef"`
	History   map[string]DaySnapshot `bson:"history" json:"history"`
}

// Snapshot captures the truck's daily fields before they are reset.
func (t *Truck) Snapshot() DaySnapshot {
	return DaySnapshot{
		ActiveDeliveriesRef:    append([]string(nil), t.ActiveDeliveriesRef...),
		CompletedDeliveriesRef: append([]string(nil), t.CompletedDeliveriesRef...),
		CurrentDateDriversRef:  append([]string(nil), t.CurrentDateDriversRef...),
		DriverRef:              t.DriverRef,
		GeoAddressArray:        append([]GeoAddress(nil), t.GeoAddressArray...),
	}
}
