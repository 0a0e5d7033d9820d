package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/db"
	"github.com/ukydev/fleet-deliveries/internal/models"
)

// Report is the result of checking one account.
type Report struct {
	AccountID  string    `json:"accountId"`
	Today      string    `json:"today"`
	Trucks     int       `json:"trucks"`
	Deliveries int       `json:"deliveries"`
	Findings   []Finding `json:"findings"`
}

// Clean reports whether the account had no findings.
func (r Report) Clean() bool {
	return len(r.Findings) == 0
}

// Checker loads an account's trucks and deliveries and inspects them.
type Checker struct {
	Accounts   db.AccountLister
	Trucks     db.TruckCollection
	Deliveries db.DeliveryCollection
	Dates      *dates.Provider
	Timeout    time.Duration
}

// Run checks every account. An account that cannot be loaded is logged and
// skipped.
func (c *Checker) Run(ctx context.Context) ([]Report, error) {
	accounts, err := c.Accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	reports := make([]Report, 0, len(accounts))
	for _, accountID := range accounts {
		report, err := c.Check(ctx, accountID)
		if err != nil {
			log.WithField("account_id", accountID).WithError(err).Error("Reconciliation failed")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Check inspects one account.
func (c *Checker) Check(ctx context.Context, accountID string) (Report, error) {
	today := c.Dates.Today()
	report := Report{AccountID: accountID, Today: today}

	opCtx, cancel := c.withTimeout(ctx)
	trucks, err := c.Trucks.FindTrucks(opCtx, accountID)
	cancel()
	if err != nil {
		return report, fmt.Errorf("find trucks: %w", err)
	}

	opCtx, cancel = c.withTimeout(ctx)
	tracked, err := c.Deliveries.FindDeliveries(opCtx, accountID, db.DeliveryFilter{FromDate: today})
	cancel()
	if err != nil {
		return report, fmt.Errorf("find deliveries: %w", err)
	}

	deliveries := make(map[string]models.Delivery, len(tracked))
	for _, d := range tracked {
		deliveries[d.ID] = d
	}
	// Indexed ids dated before today are not in the range query.
	for _, id := range referenced(trucks) {
		if _, ok := deliveries[id]; ok {
			continue
		}
		opCtx, cancel = c.withTimeout(ctx)
		d, err := c.Deliveries.FindDelivery(opCtx, accountID, id)
		cancel()
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return report, fmt.Errorf("find delivery %s: %w", id, err)
		default:
			deliveries[id] = *d
		}
	}

	report.Trucks = len(trucks)
	report.Deliveries = len(deliveries)
	report.Findings = Inspect(today, trucks, deliveries)

	entry := log.WithFields(log.Fields{"account_id": accountID, "today": today, "trucks": report.Trucks})
	for _, f := range report.Findings {
		entry.WithFields(log.Fields{
			"kind":        f.Kind,
			"truck_id":    f.TruckID,
			"delivery_id": f.DeliveryID,
			"date":        f.Date,
		}).Warn(f.Detail)
	}
	entry.WithField("findings", len(report.Findings)).Info("Reconciliation finished")
	return report, nil
}

func (c *Checker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func referenced(trucks []models.Truck) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, t := range trucks {
		for _, id := range t.ActiveDeliveriesRef {
			add(id)
		}
		for _, bucket := range t.FutureDeliveriesRef {
			for _, id := range bucket {
				add(id)
			}
		}
	}
	return ids
}
