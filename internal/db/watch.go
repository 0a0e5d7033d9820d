package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// changeStreamEvent is the subset of a change stream document the watcher
// reads. Pre-images need changeStreamPreAndPostImages on the collection.
type changeStreamEvent struct {
	ID            bson.Raw `bson:"_id"`
	OperationType string   `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             *models.Delivery `bson:"fullDocument"`
	FullDocumentBeforeChange *models.Delivery `bson:"fullDocumentBeforeChange"`
}

var (
	errNoPreImage   = errors.New("change stream event has no pre-image")
	errNoPostImage  = errors.New("change stream event has no post-image")
	errUnknownWrite = errors.New("unsupported change stream operation")
)

// Server codes for a resume point that has left the oplog.
const (
	codeChangeStreamHistoryLost = 286
	codeChangeStreamFatalError  = 280
)

// changeStreamOptions reads the post-image each write left behind rather
// than the document at lookup time, and resumes after resumeAfter when set.
func changeStreamOptions(resumeAfter bson.Raw) *options.ChangeStreamOptions {
	opts := options.ChangeStream().
		SetFullDocument(options.WhenAvailable).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	if len(resumeAfter) > 0 {
		opts.SetResumeAfter(resumeAfter)
	}
	return opts
}

// Watch streams delivery writes as change events until ctx is done or the
// stream fails. Events are passed to handle one at a time, in stream order.
// It returns the resume token of the last event it processed so the caller
// can reopen the stream without losing writes. A nil token with an error
// means the resume point is gone and the stream must start fresh.
func (c *MongoDeliveryCollection) Watch(ctx context.Context, resumeAfter bson.Raw, handle func(context.Context, models.ChangeEvent)) (bson.Raw, error) {
	if c.Collection == nil {
		return resumeAfter, fmt.Errorf("mongo collection is nil")
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}}},
	}
	stream, err := c.Collection.Watch(ctx, pipeline, changeStreamOptions(resumeAfter))
	if err != nil {
		if historyLost(err) {
			return nil, Classify(err)
		}
		return resumeAfter, Classify(err)
	}
	defer stream.Close(context.Background())

	token := resumeAfter
	for stream.Next(ctx) {
		var raw changeStreamEvent
		if err := stream.Decode(&raw); err != nil {
			return token, fmt.Errorf("decode change stream event: %w", err)
		}
		evt, err := raw.toChangeEvent()
		if err != nil {
			log.WithFields(log.Fields{
				"operation":   raw.OperationType,
				"delivery_id": raw.DocumentKey.ID,
			}).WithError(err).Warn("Skipping delivery change")
		} else {
			handle(ctx, evt)
		}
		token = stream.ResumeToken()
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		if historyLost(err) {
			return nil, Classify(err)
		}
		return token, Classify(err)
	}
	return token, nil
}

func historyLost(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == codeChangeStreamHistoryLost || cmdErr.Code == codeChangeStreamFatalError
	}
	return false
}

func (e changeStreamEvent) toChangeEvent() (models.ChangeEvent, error) {
	evt := models.ChangeEvent{
		DeliveryID: e.DocumentKey.ID,
		ReceivedAt: time.Now(),
	}
	if data, ok := e.ID.Lookup("_data").StringValueOK(); ok {
		evt.ID = data
	}

	switch e.OperationType {
	case "insert":
		evt.After = e.FullDocument
	case "update", "replace", "delete":
		// Without a pre-image an update cannot be told from a create.
		if e.FullDocumentBeforeChange == nil {
			return evt, errNoPreImage
		}
		evt.Before = e.FullDocumentBeforeChange
		if e.OperationType != "delete" {
			if e.FullDocument == nil {
				return evt, errNoPostImage
			}
			evt.After = e.FullDocument
		}
	default:
		return evt, fmt.Errorf("%w: %s", errUnknownWrite, e.OperationType)
	}

	if err := evt.Normalize(); err != nil {
		return evt, err
	}
	return evt, nil
}
