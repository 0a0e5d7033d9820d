package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-deliveries/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoOutcomeCollection stores change-event outcome records.
type MongoOutcomeCollection struct {
	Collection *mongo.Collection
}

// InsertOutcome inserts an outcome record.
func (c *MongoOutcomeCollection) InsertOutcome(ctx context.Context, outcome models.Outcome) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.InsertOne(ctx, outcome)
	return Classify(err)
}
