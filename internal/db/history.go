package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-deliveries/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoHistoryCollection implements HistoryCollection for MongoDB.
type MongoHistoryCollection struct {
	Collection *mongo.Collection
}

// AppendHistory sets the snapshot for date, creating the history document
// when the truck has none yet. Writing the same date twice overwrites it.
func (c *MongoHistoryCollection) AppendHistory(ctx context.Context, accountID, historyID, truckID, date string, snapshot models.DaySnapshot) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if historyID == "" {
		historyID = truckID
	}

	_, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": historyID},
		bson.M{
			"$set":         bson.M{"history." + date: snapshot},
			"$setOnInsert": bson.M{"accountId": accountID, "truckRef": truckID},
		},
		options.Update().SetUpsert(true),
	)
	return Classify(err)
}

// FindHistory loads the history document of a truck.
func (c *MongoHistoryCollection) FindHistory(ctx context.Context, historyID string) (*models.HistoryTruck, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	var history models.HistoryTruck
	if err := c.Collection.FindOne(ctx, bson.M{"_id": historyID}).Decode(&history); err != nil {
		return nil, Classify(err)
	}
	return &history, nil
}
