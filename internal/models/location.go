package models

// GeoAddress is a latitude/longitude pair recorded on deliveries and along a
// truck's daily route.
type GeoAddress struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}
