// Package rollover runs the daily maintenance of every truck: archive
// yesterday, promote today's scheduled deliveries and carry late ones over.
package rollover

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/db"
	"github.com/ukydev/fleet-deliveries/internal/index"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"github.com/ukydev/fleet-deliveries/internal/retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// HistoryPolicy decides which trucks get a history entry for yesterday.
type HistoryPolicy string

const (
	// PolicyStrict archives trucks that had active deliveries and a driver.
	PolicyStrict HistoryPolicy = "strict"
	// PolicyAny archives trucks with any recorded activity.
	PolicyAny HistoryPolicy = "any"
)

// ParsePolicy validates a policy name. Empty selects PolicyAny.
func ParsePolicy(s string) (HistoryPolicy, error) {
	switch HistoryPolicy(s) {
	case "", PolicyAny:
		return PolicyAny, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown history policy %q", s)
	}
}

func (p HistoryPolicy) archives(t *models.Truck) bool {
	if p == PolicyStrict {
		return len(t.ActiveDeliveriesRef) > 0 && t.DriverRef != ""
	}
	return t.HasActivity()
}

// Defaults for a zero Config.
const (
	DefaultConcurrency = 8
	DefaultTimeout     = 10 * time.Second
)

// Config holds the collaborators and limits of a Job.
type Config struct {
	Accounts   db.AccountLister
	Trucks     db.TruckCollection
	Deliveries db.DeliveryCollection
	History    db.HistoryCollection
	Dates      *dates.Provider

	Concurrency   int
	Rate          float64 // truck rollovers per second, 0 for no limit
	Retry         retry.Policy
	HistoryPolicy HistoryPolicy
	Timeout       time.Duration
}

// Report summarises one run.
type Report struct {
	Today          string        `json:"today"`
	Yesterday      string        `json:"yesterday"`
	Accounts       int           `json:"accounts"`
	AccountsFailed int           `json:"accountsFailed"`
	Vehicles       int           `json:"vehicles"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	HistoryWritten int           `json:"historyWritten"`
	Promoted       int           `json:"promoted"`
	Pruned         int           `json:"pruned"`
	LateMarked     int           `json:"lateMarked"`
	LateFailed     int           `json:"lateFailed"`
	Duration       time.Duration `json:"duration"`
}

// truckResult is what one truck contributed to the report.
type truckResult struct {
	failed     bool
	skipped    bool
	history    bool
	promoted   int
	pruned     int
	lateMarked int
	lateFailed int
}

// Job is the daily rollover.
type Job struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Job, filling defaults for zero limits.
func New(cfg Config) *Job {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryPolicy == "" {
		cfg.HistoryPolicy = PolicyAny
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Job{cfg: cfg, limiter: rate.NewLimiter(limit, cfg.Concurrency)}
}

// Run rolls every truck of every account over to today. Failures are
// counted per truck and never stop the run; only failing to list the
// accounts returns an error.
func (j *Job) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Today: j.cfg.Dates.Today(), Yesterday: j.cfg.Dates.Yesterday()}

	var accounts []string
	err := j.do(ctx, func(ctx context.Context) error {
		var err error
		accounts, err = j.cfg.Accounts.ListAccounts(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("list accounts: %w", err)
	}

	var mu sync.Mutex
	for _, accountID := range accounts {
		report.Accounts++
		if err := j.runAccount(ctx, accountID, &report, &mu); err != nil {
			report.AccountsFailed++
			log.WithField("account_id", accountID).WithError(err).Error("Rollover failed for account")
		}
	}
	report.Duration = time.Since(started)

	log.WithFields(log.Fields{
		"today":           report.Today,
		"accounts":        report.Accounts,
		"vehicles":        report.Vehicles,
		"succeeded":       report.Succeeded,
		"failed":          report.Failed,
		"skipped":         report.Skipped,
		"history_written": report.HistoryWritten,
		"promoted":        report.Promoted,
		"late_marked":     report.LateMarked,
		"duration":        report.Duration,
	}).Info("Daily rollover finished")
	return report, nil
}

func (j *Job) runAccount(ctx context.Context, accountID string, report *Report, mu *sync.Mutex) error {
	var trucks []models.Truck
	err := j.do(ctx, func(ctx context.Context) error {
		var err error
		trucks, err = j.cfg.Trucks.FindTrucks(ctx, accountID)
		return err
	})
	if err != nil {
		return fmt.Errorf("find trucks: %w", err)
	}

	known := make(map[string]bool, len(trucks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, t := range trucks {
		truckID := t.ID
		known[truckID] = true
		g.Go(func() error {
			res := j.rollTruck(gctx, accountID, truckID, report.Today, report.Yesterday)
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Late deliveries without a known truck are only re-dated.
	late, err := j.lateDeliveries(ctx, accountID, report.Yesterday)
	if err != nil {
		log.WithField("account_id", accountID).WithError(err).Error("Failed to load unassigned late deliveries")
		return nil
	}
	var stray []string
	for _, d := range late {
		if !known[d.TruckRef] {
			stray = append(stray, d.ID)
		}
	}
	marked, failed := j.markLate(ctx, accountID, stray, report.Today, report.Yesterday)
	mu.Lock()
	report.LateMarked += len(marked)
	report.LateFailed += failed
	mu.Unlock()
	return nil
}

func (r *Report) add(res truckResult) {
	r.Vehicles++
	switch {
	case res.failed:
		r.Failed++
	case res.skipped:
		r.Skipped++
	default:
		r.Succeeded++
	}
	if res.history {
		r.HistoryWritten++
	}
	r.Promoted += res.promoted
	r.Pruned += res.pruned
	r.LateMarked += res.lateMarked
	r.LateFailed += res.lateFailed
}

func (j *Job) lateDeliveries(ctx context.Context, accountID, yesterday string) ([]models.Delivery, error) {
	var found []models.Delivery
	err := j.do(ctx, func(ctx context.Context) error {
		var err error
		found, err = j.cfg.Deliveries.FindDeliveries(ctx, accountID, db.DeliveryFilter{Date: yesterday, IncompleteOnly: true})
		return err
	})
	return found, err
}

// truckDeliveries lists the deliveries of one truck dated date.
func (j *Job) truckDeliveries(ctx context.Context, accountID, truckID, date string, incompleteOnly bool) ([]models.Delivery, error) {
	return j.cfg.Deliveries.FindDeliveries(ctx, accountID, db.DeliveryFilter{Date: date, TruckID: truckID, IncompleteOnly: incompleteOnly})
}

func ids(deliveries []models.Delivery) []string {
	out := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, d.ID)
	}
	return out
}

// rollTruck resets one truck under its version guard and then re-dates its
// late deliveries. The deliveries are read after the truck, so a delivery
// indexed in between bumps the version and forces a fresh attempt. The new
// active set is the incomplete deliveries dated today plus yesterday's late
// ones; scheduled ids that no longer match such a delivery are dropped.
func (j *Job) rollTruck(ctx context.Context, accountID, truckID, today, yesterday string) truckResult {
	entry := log.WithFields(log.Fields{"account_id": accountID, "truck_id": truckID, "today": today})
	if err := j.limiter.Wait(ctx); err != nil {
		entry.WithError(err).Error("Rollover cancelled")
		return truckResult{failed: true}
	}

	var (
		res  truckResult
		late []string
	)
	err := j.do(ctx, func(ctx context.Context) error {
		res, late = truckResult{}, nil
		truck, err := j.cfg.Trucks.FindTruck(ctx, accountID, truckID)
		if err != nil {
			return err
		}
		overdue, err := j.truckDeliveries(ctx, accountID, truckID, yesterday, true)
		if err != nil {
			return fmt.Errorf("load late deliveries: %w", err)
		}
		late = ids(overdue)
		if truck.LastRolloverDate == today {
			res.skipped = true
			return nil
		}
		dated, err := j.truckDeliveries(ctx, accountID, truckID, today, false)
		if err != nil {
			return fmt.Errorf("load today's deliveries: %w", err)
		}
		var current, done index.ActiveSet
		for _, d := range dated {
			if d.IsComplete {
				done = done.Add(d.ID)
			} else {
				current = current.Add(d.ID)
			}
		}

		// Deliveries completed today before the rollover stay in today's
		// completed set instead of yesterday's history.
		var completedToday index.ActiveSet
		snapshot := truck.Snapshot()
		snapshot.CompletedDeliveriesRef = nil
		for _, id := range truck.CompletedDeliveriesRef {
			if done.Contains(id) {
				completedToday = completedToday.Add(id)
			} else {
				snapshot.CompletedDeliveriesRef = append(snapshot.CompletedDeliveriesRef, id)
			}
		}

		archived := *truck
		archived.CompletedDeliveriesRef = snapshot.CompletedDeliveriesRef
		if j.cfg.HistoryPolicy.archives(&archived) {
			if err := j.cfg.History.AppendHistory(ctx, accountID, truck.HistoryRef, truck.ID, yesterday, snapshot); err != nil {
				return fmt.Errorf("append history: %w", err)
			}
			res.history = true
		}

		future, promoted := index.FutureIndex(truck.FutureDeliveriesRef).Take(today)
		future, pruned := future.PruneBefore(today)
		for _, id := range promoted {
			if current.Contains(id) {
				res.promoted++
			}
		}
		res.pruned = len(pruned)

		return j.cfg.Trucks.ApplyRollover(ctx, accountID, truck.ID, truck.Version, db.RolloverUpdate{
			Date:      today,
			Active:    index.ActiveSet(nil).Add(current...).Add(late...),
			Completed: completedToday,
			Future:    future,
		})
	})
	if err != nil {
		entry.WithError(err).Error("Truck rollover failed")
		// Late deliveries still move to today and join the truck's current
		// active set.
		marked, failed := j.markLate(ctx, accountID, late, today, yesterday)
		j.placeLate(ctx, entry, accountID, truckID, marked)
		return truckResult{failed: true, lateMarked: len(marked), lateFailed: failed}
	}

	marked, failed := j.markLate(ctx, accountID, late, today, yesterday)
	res.lateMarked, res.lateFailed = len(marked), failed
	entry.WithFields(log.Fields{
		"skipped":     res.skipped,
		"history":     res.history,
		"promoted":    res.promoted,
		"pruned":      res.pruned,
		"late_marked": res.lateMarked,
	}).Debug("Truck rolled over")
	return res
}

// placeLate adds re-dated deliveries to a truck whose rollover failed.
func (j *Job) placeLate(ctx context.Context, entry *log.Entry, accountID, truckID string, ids []string) {
	for _, id := range ids {
		err := j.do(ctx, func(ctx context.Context) error {
			return j.cfg.Trucks.AddActiveDelivery(ctx, accountID, truckID, id)
		})
		if err != nil {
			entry.WithField("delivery_id", id).WithError(err).Error("Failed to index late delivery")
		}
	}
}

// markLate re-dates deliveries from yesterday to today and returns the ids
// it moved. The update only matches while a delivery is still dated
// yesterday and incomplete.
func (j *Job) markLate(ctx context.Context, accountID string, ids []string, today, yesterday string) (marked []string, failed int) {
	for _, id := range ids {
		var ok bool
		err := j.do(ctx, func(ctx context.Context) error {
			var err error
			ok, err = j.cfg.Deliveries.MarkLate(ctx, accountID, id, yesterday, today)
			return err
		})
		switch {
		case err != nil:
			failed++
			log.WithFields(log.Fields{"account_id": accountID, "delivery_id": id}).WithError(err).Error("Failed to mark delivery late")
		case ok:
			marked = append(marked, id)
		}
	}
	return marked, failed
}

func (j *Job) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, j.cfg.Retry, db.Retryable, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
		defer cancel()
		return db.Classify(fn(opCtx))
	})
}
