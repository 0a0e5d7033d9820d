package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Job names registered with the scheduler.
const (
	rolloverJobName  = "daily-rollover"
	reconcileJobName = "reconcile"
)

// newScheduler registers the daily rollover at hour:minute in loc and, when
// interval is positive, the periodic drift check. Neither job overlaps
// itself.
func newScheduler(ctx context.Context, loc *time.Location, hour, minute uint, interval time.Duration, svc *services, opts ...gocron.SchedulerOption) (gocron.Scheduler, error) {
	opts = append([]gocron.SchedulerOption{gocron.WithLocation(loc)}, opts...)
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func() {
			if _, err := svc.rollover.Run(ctx); err != nil {
				log.WithError(err).Error("Scheduled rollover failed")
			}
		}),
		gocron.WithName(rolloverJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule rollover: %w", err)
	}

	if interval > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if _, err := svc.reconcile.Run(ctx); err != nil {
					log.WithError(err).Error("Scheduled reconcile failed")
				}
			}),
			gocron.WithName(reconcileJobName),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("schedule reconcile: %w", err)
		}
	}
	return s, nil
}
