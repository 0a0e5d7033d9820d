package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-deliveries/internal/index"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoTruckCollection implements TruckCollection for MongoDB.
type MongoTruckCollection struct {
	Collection *mongo.Collection
}

// FindTruck finds a truck of an account by its ID.
func (c *MongoTruckCollection) FindTruck(ctx context.Context, accountID, truckID string) (*models.Truck, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	var truck models.Truck
	err := c.Collection.FindOne(ctx, byID(accountID, truckID)).Decode(&truck)
	if err != nil {
		return nil, Classify(err)
	}
	return &truck, nil
}

// FindTrucks returns every truck of an account.
func (c *MongoTruckCollection) FindTrucks(ctx context.Context, accountID string) ([]models.Truck, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	cursor, err := c.Collection.Find(ctx, bson.M{"accountId": accountID})
	if err != nil {
		return nil, Classify(err)
	}
	defer cursor.Close(ctx)

	var trucks []models.Truck
	if err := cursor.All(ctx, &trucks); err != nil {
		return nil, Classify(err)
	}
	return trucks, nil
}

// AddActiveDelivery adds the delivery to the truck's active set.
func (c *MongoTruckCollection) AddActiveDelivery(ctx context.Context, accountID, truckID, deliveryID string) error {
	return c.update(ctx, byID(accountID, truckID), bson.M{
		"$addToSet": bson.M{"activeDeliveriesRef": deliveryID},
		"$inc":      bson.M{"version": 1},
	})
}

// RemoveActiveDelivery pulls the delivery from the truck's active set.
func (c *MongoTruckCollection) RemoveActiveDelivery(ctx context.Context, accountID, truckID, deliveryID string) (bool, error) {
	filter := byID(accountID, truckID)
	filter["activeDeliveriesRef"] = deliveryID

	err := c.update(ctx, filter, bson.M{
		"$pull": bson.M{"activeDeliveriesRef": deliveryID},
		"$inc":  bson.M{"version": 1},
	})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, err
	}

	// The filter also missed when the id was absent; tell that apart from
	// a missing truck.
	n, err := c.Collection.CountDocuments(ctx, byID(accountID, truckID))
	if err != nil {
		return false, Classify(err)
	}
	if n == 0 {
		return false, fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	return false, nil
}

// CompleteDelivery moves the delivery from the active to the completed set.
func (c *MongoTruckCollection) CompleteDelivery(ctx context.Context, accountID, truckID, deliveryID string) error {
	return c.update(ctx, byID(accountID, truckID), bson.M{
		"$pull":     bson.M{"activeDeliveriesRef": deliveryID},
		"$addToSet": bson.M{"completedDeliveriesRef": deliveryID},
		"$inc":      bson.M{"version": 1},
	})
}

// ReplaceFutureDeliveries writes the whole future index guarded by version.
func (c *MongoTruckCollection) ReplaceFutureDeliveries(ctx context.Context, accountID, truckID string, version int64, future index.FutureIndex) error {
	if future == nil {
		future = index.FutureIndex{}
	}
	return c.conditional(ctx, accountID, truckID, version, bson.M{
		"$set": bson.M{"futureDeliveriesRef": future},
		"$inc": bson.M{"version": 1},
	})
}

// ApplyRollover resets the truck's daily fields guarded by version.
func (c *MongoTruckCollection) ApplyRollover(ctx context.Context, accountID, truckID string, version int64, update RolloverUpdate) error {
	active := update.Active
	if active == nil {
		active = index.ActiveSet{}
	}
	completed := update.Completed
	if completed == nil {
		completed = index.ActiveSet{}
	}
	future := update.Future
	if future == nil {
		future = index.FutureIndex{}
	}
	return c.conditional(ctx, accountID, truckID, version, bson.M{
		"$set": bson.M{
			"activeDeliveriesRef":    active,
			"completedDeliveriesRef": completed,
			"currentDateDriversRef":  []string{},
			"geoAddressArray":        []models.GeoAddress{},
			"futureDeliveriesRef":    future,
			"lastRolloverDate":       update.Date,
		},
		"$inc": bson.M{"version": 1},
	})
}

func (c *MongoTruckCollection) conditional(ctx context.Context, accountID, truckID string, version int64, update bson.M) error {
	filter := versionFilter(accountID, truckID, version)

	err := c.update(ctx, filter, update)
	if err == nil || !isNotFound(err) {
		return err
	}
	n, err := c.Collection.CountDocuments(ctx, byID(accountID, truckID))
	if err != nil {
		return Classify(err)
	}
	if n == 0 {
		return fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	return fmt.Errorf("truck %s at version %d: %w", truckID, version, ErrConcurrentModification)
}

// versionFilter matches the truck at version. Trucks written before the
// counter existed carry no version field and count as version 0.
func versionFilter(accountID, truckID string, version int64) bson.M {
	filter := byID(accountID, truckID)
	if version == 0 {
		filter["$or"] = bson.A{
			bson.M{"version": int64(0)},
			bson.M{"version": bson.M{"$exists": false}},
		}
		return filter
	}
	filter["version"] = version
	return filter
}

func (c *MongoTruckCollection) update(ctx context.Context, filter, update bson.M) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}

	result, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return Classify(err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("truck %v: %w", filter["_id"], ErrNotFound)
	}
	return nil
}
