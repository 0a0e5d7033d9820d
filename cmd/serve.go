package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-deliveries/internal/handlers"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"github.com/ukydev/fleet-deliveries/internal/transport"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// watchRestartDelay spaces change stream reconnects.
const watchRestartDelay = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the triggers and the daily schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			return serve(ctx, rt)
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	if err := rt.store.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("Failed to ensure indexes")
	}

	hour, minute, err := rt.cfg.Rollover.At()
	if err != nil {
		return err
	}
	scheduler, err := newScheduler(ctx, rt.dates.Location(), hour, minute, rt.cfg.Reconcile.Interval, rt.services)
	if err != nil {
		return err
	}
	scheduler.Start()
	log.WithFields(log.Fields{
		"schedule": rt.cfg.Rollover.Schedule,
		"timezone": rt.cfg.Timezone,
	}).Info("Daily rollover scheduled")

	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              rt.cfg.HTTP.Address,
		Handler:           handlers.NewRouter(handlers.NewEventHandler(rt.sync, rt.rollover, rt.reconcile), rt.cfg.HTTP.RateLimit),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.WithField("address", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Shutdown(); err != nil {
			log.WithError(err).Warn("Scheduler shutdown failed")
		}
		return server.Shutdown(shutdownCtx)
	})

	if rt.cfg.MQTT.Enabled {
		sub := transport.NewSubscriber(transport.Config{
			Broker:   rt.cfg.MQTT.Broker,
			ClientID: rt.cfg.MQTT.ClientID,
			Topic:    rt.cfg.MQTT.Topic,
		}, rt.sync)
		g.Go(func() error { return sub.Run(ctx) })
	}

	if rt.cfg.Watch.Enabled {
		if err := rt.store.EnablePreImages(ctx); err != nil {
			log.WithError(err).Warn("Change stream pre-images unavailable; updates will be skipped")
		}
		handle := func(ctx context.Context, evt models.ChangeEvent) { rt.sync.Handle(ctx, evt) }
		g.Go(func() error { return watch(ctx, rt.store.Deliveries, handle, watchRestartDelay) })
	}

	return g.Wait()
}

// changeWatcher opens a change stream after a resume token and returns
// the token of the last event it handled.
type changeWatcher interface {
	Watch(ctx context.Context, resumeAfter bson.Raw, handle func(context.Context, models.ChangeEvent)) (bson.Raw, error)
}

// watch follows the deliveries change stream, reopening it after failures
// from the last handled event until ctx is done.
func watch(ctx context.Context, w changeWatcher, handle func(context.Context, models.ChangeEvent), delay time.Duration) error {
	var token bson.Raw
	for {
		next, err := w.Watch(ctx, token, handle)
		if ctx.Err() != nil {
			return nil
		}
		if next == nil && token != nil {
			log.WithError(err).Error("Delivery change stream cannot resume, starting from now")
		} else {
			log.WithError(err).Warn("Delivery change stream closed, reopening")
		}
		token = next

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
