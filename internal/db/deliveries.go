package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/fleet-deliveries/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDeliveryCollection implements DeliveryCollection for MongoDB.
type MongoDeliveryCollection struct {
	Collection *mongo.Collection
}

// FindDelivery finds a delivery of an account by its ID.
func (c *MongoDeliveryCollection) FindDelivery(ctx context.Context, accountID, deliveryID string) (*models.Delivery, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	var delivery models.Delivery
	if err := c.Collection.FindOne(ctx, byID(accountID, deliveryID)).Decode(&delivery); err != nil {
		return nil, Classify(err)
	}
	return &delivery, nil
}

// FindDeliveries queries the deliveries of an account.
func (c *MongoDeliveryCollection) FindDeliveries(ctx context.Context, accountID string, filter DeliveryFilter) ([]models.Delivery, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	opts := options.Find().SetSort(bson.D{{Key: "deliveryDate", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := c.Collection.Find(ctx, filter.bson(accountID), opts)
	if err != nil {
		return nil, Classify(err)
	}
	defer cursor.Close(ctx)

	var deliveries []models.Delivery
	if err := cursor.All(ctx, &deliveries); err != nil {
		return nil, Classify(err)
	}
	return deliveries, nil
}

// StampDelivered records when and by whom a delivery was completed.
func (c *MongoDeliveryCollection) StampDelivered(ctx context.Context, accountID, deliveryID, driverID string, at time.Time) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}

	set := bson.M{"deliveredAt": at}
	if driverID != "" {
		set["driverRef"] = driverID
	}
	result, err := c.Collection.UpdateOne(ctx, byID(accountID, deliveryID), bson.M{"$set": set})
	if err != nil {
		return Classify(err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("delivery %s: %w", deliveryID, ErrNotFound)
	}
	return nil
}

// MarkLate moves an incomplete delivery still dated from to the date to.
// The match on the old date makes a repeated call a no-op.
func (c *MongoDeliveryCollection) MarkLate(ctx context.Context, accountID, deliveryID, from, to string) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}

	filter := byID(accountID, deliveryID)
	filter["deliveryDate"] = from
	filter["isComplete"] = false

	result, err := c.Collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"deliveryDate": to,
		"late":         true,
		"lateSince":    from,
	}})
	if err != nil {
		return false, Classify(err)
	}
	return result.ModifiedCount > 0, nil
}

func (f DeliveryFilter) bson(accountID string) bson.M {
	filter := bson.M{"accountId": accountID}
	switch {
	case f.Date != "":
		filter["deliveryDate"] = f.Date
	case f.FromDate != "":
		filter["deliveryDate"] = bson.M{"$gte": f.FromDate}
	}
	if f.TruckID != "" {
		filter["truckRef"] = f.TruckID
	}
	if f.IncompleteOnly {
		filter["isComplete"] = false
	}
	return filter
}

// Matches applies the filter to one delivery in memory.
func (f DeliveryFilter) Matches(d models.Delivery) bool {
	if f.Date != "" && d.DeliveryDate != f.Date {
		return false
	}
	if f.Date == "" && f.FromDate != "" && d.DeliveryDate < f.FromDate {
		return false
	}
	if f.TruckID != "" && d.TruckRef != f.TruckID {
		return false
	}
	if f.IncompleteOnly && d.IsComplete {
		return false
	}
	return true
}
