package models

import "time"

// Item is a line of a delivery's cargo.
type Item struct {
	Name     string `bson:"name" json:"name"`
	Quantity string `bson:"quantity" json:"quantity"`
	Unit     string `bson:"unit" json:"unit"`
}

// Delivery is a dispatch order assigned to at most one truck for one civil
// date. An empty TruckRef means the delivery is unassigned.
type Delivery struct {
	ID        string `bson:"_id" json:"id"`
	AccountID string `bson:"accountId" json:"accountId"`

	DeliveryDate string     `bson:"deliveryDate" json:"deliveryDate"`
	TruckRef     string     `bson:"truckRef" json:"truckRef"`
	DriverRef    string     `bson:"driverRef,omitempty" json:"driverRef,omitempty"`
	IsComplete   bool       `bson:"isComplete" json:"isComplete"`
	DeliveredAt  *time.Time `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`

	// Late is set by the rollover when an incomplete delivery is carried
	// over; LateSince keeps the date it was originally due.
	Late      bool   `bson:"late,omitempty" json:"late,omitempty"`
	LateSince string `bson:"lateSince,omitempty" json:"lateSince,omitempty"`

	Address                  string     `bson:"address" json:"address"`
	AddressNumber            string     `bson:"addressNumber" json:"addressNumber"`
	City                     string     `bson:"city" json:"city"`
	State                    string     `bson:"state" json:"state"`
	ClientRef                string     `bson:"clientRef,omitempty" json:"clientRef,omitempty"`
	ExpectedDeliveryInterval string     `bson:"expectedDeliveryInterval" json:"expectedDeliveryInterval"`
	GeoAddress               GeoAddress `bson:"geoAddress" json:"geoAddress"`
	Items                    []Item     `bson:"items" json:"items"`
	Number                   int        `bson:"number" json:"number"`
	CreatedAt                time.Time  `bson:"createdAt" json:"createdAt"`
}

// Assigned reports whether the delivery has a truck.
func (d *Delivery) Assigned() bool {
	return d != nil && d.TruckRef != ""
}
