package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/config"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/db"
	"github.com/ukydev/fleet-deliveries/internal/ledger"
	"github.com/ukydev/fleet-deliveries/internal/logging"
	"github.com/ukydev/fleet-deliveries/internal/reconcile"
	"github.com/ukydev/fleet-deliveries/internal/retry"
	"github.com/ukydev/fleet-deliveries/internal/rollover"
	"github.com/ukydev/fleet-deliveries/internal/synchronizer"
	"go.mongodb.org/mongo-driver/mongo"
)

// collections is the storage a service set runs on.
type collections struct {
	Accounts   db.AccountLister
	Trucks     db.TruckCollection
	Deliveries db.DeliveryCollection
	History    db.HistoryCollection
	Outcomes   db.OutcomeCollection
}

func mongoCollections(s *db.Store) collections {
	return collections{
		Accounts:   s,
		Trucks:     s.Trucks,
		Deliveries: s.Deliveries,
		History:    s.History,
		Outcomes:   s.Outcomes,
	}
}

// services are the components built from one configuration.
type services struct {
	dates     *dates.Provider
	sync      *synchronizer.Synchronizer
	rollover  *rollover.Job
	reconcile *reconcile.Checker
}

func newServices(cfg *config.Config, c collections, l ledger.Ledger, clock dates.Clock) (*services, error) {
	provider, err := dates.New(cfg.Timezone, clock)
	if err != nil {
		return nil, err
	}
	policy, err := rollover.ParsePolicy(cfg.Rollover.HistoryPolicy)
	if err != nil {
		return nil, err
	}

	sync := synchronizer.New(synchronizer.Config{
		Trucks:     c.Trucks,
		Deliveries: c.Deliveries,
		Outcomes:   c.Outcomes,
		Ledger:     l,
		Dates:      provider,
		Retry:      retry.Policy{MaxAttempts: cfg.Sync.MaxAttempts, BaseDelay: cfg.Sync.BaseBackoff},
		Timeout:    cfg.Mongo.Timeout,
	})
	job := rollover.New(rollover.Config{
		Accounts:      c.Accounts,
		Trucks:        c.Trucks,
		Deliveries:    c.Deliveries,
		History:       c.History,
		Dates:         provider,
		Concurrency:   cfg.Rollover.Concurrency,
		Rate:          cfg.Rollover.Rate,
		Retry:         retry.Policy{MaxAttempts: cfg.Rollover.MaxAttempts},
		HistoryPolicy: policy,
		Timeout:       cfg.Mongo.Timeout,
	})
	checker := &reconcile.Checker{
		Accounts:   c.Accounts,
		Trucks:     c.Trucks,
		Deliveries: c.Deliveries,
		Dates:      provider,
		Timeout:    cfg.Mongo.Timeout,
	}
	return &services{dates: provider, sync: sync, rollover: job, reconcile: checker}, nil
}

// runtime holds the live connections of a command.
type runtime struct {
	cfg    *config.Config
	client *mongo.Client
	store  *db.Store
	ledger *ledger.RedisLedger
	*services
}

// bootstrap loads configuration, sets up logging and connects to the
// stores.
func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.Logging, nil)

	client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	store := db.NewStore(client, cfg.Mongo.Database)
	log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")

	l, err := ledger.NewRedisLedger(ledger.Config{
		Enabled:  cfg.Redis.Enabled,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	svc, err := newServices(cfg, mongoCollections(store), l, nil)
	if err != nil {
		_ = l.Close()
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &runtime{cfg: cfg, client: client, store: store, ledger: l, services: svc}, nil
}

func (r *runtime) close() {
	if err := r.ledger.Close(); err != nil {
		log.WithError(err).Warn("Failed to close Redis ledger")
	}
	if err := r.client.Disconnect(context.Background()); err != nil {
		log.WithError(err).Warn("Failed to disconnect from MongoDB")
	}
}
