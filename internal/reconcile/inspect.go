// Package reconcile compares the truck indexes with the deliveries they
// point at and reports where the two have drifted apart.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/ukydev/fleet-deliveries/internal/models"
)

// FindingKind classifies a drift.
type FindingKind string

const (
	// KindDuplicate is an id indexed in more than one place.
	KindDuplicate FindingKind = "duplicate"
	// KindOrphan is a tracked delivery no index holds.
	KindOrphan FindingKind = "orphan"
	// KindStale is an indexed id whose delivery says it belongs elsewhere.
	KindStale FindingKind = "stale"
	// KindEmptyBucket is a future date mapped to no ids.
	KindEmptyBucket FindingKind = "empty_bucket"
	// KindPastKey is a future date the rollover should have removed.
	KindPastKey FindingKind = "past_key"
)

// Finding is one inconsistency.
type Finding struct {
	Kind       FindingKind `json:"kind"`
	TruckID    string      `json:"truckId,omitempty"`
	DeliveryID string      `json:"deliveryId,omitempty"`
	Date       string      `json:"date,omitempty"`
	Detail     string      `json:"detail"`
}

type slot struct {
	truck  string
	active bool
	date   string
}

func (s slot) String() string {
	if s.active {
		return fmt.Sprintf("%s active", s.truck)
	}
	return fmt.Sprintf("%s future %s", s.truck, s.date)
}

// Inspect checks the trucks of one account against its deliveries, keyed
// by id. A referenced id missing from deliveries is reported as stale.
func Inspect(today string, trucks []models.Truck, deliveries map[string]models.Delivery) []Finding {
	var findings []Finding
	slots := make(map[string][]slot)

	for _, t := range trucks {
		for _, id := range t.ActiveDeliveriesRef {
			slots[id] = append(slots[id], slot{truck: t.ID, active: true, date: today})
		}
		for _, date := range sortedKeys(t.FutureDeliveriesRef) {
			ids := t.FutureDeliveriesRef[date]
			if len(ids) == 0 {
				findings = append(findings, Finding{Kind: KindEmptyBucket, TruckID: t.ID, Date: date, Detail: "future date has no deliveries"})
				continue
			}
			if date < today || (date == today && t.LastRolloverDate == today) {
				findings = append(findings, Finding{Kind: KindPastKey, TruckID: t.ID, Date: date, Detail: fmt.Sprintf("future key not after %s", today)})
			}
			for _, id := range ids {
				slots[id] = append(slots[id], slot{truck: t.ID, date: date})
			}
		}
	}

	for _, id := range sortedKeys(slots) {
		held := slots[id]
		if len(held) > 1 {
			findings = append(findings, Finding{Kind: KindDuplicate, DeliveryID: id, Detail: fmt.Sprintf("indexed %d times: %v", len(held), held)})
		}
		for _, s := range held {
			if detail := staleness(deliveries, id, s, today); detail != "" {
				findings = append(findings, Finding{Kind: KindStale, TruckID: s.truck, DeliveryID: id, Date: s.date, Detail: detail})
			}
		}
	}

	for _, id := range sortedKeys(deliveries) {
		d := deliveries[id]
		if !d.Assigned() || d.IsComplete || d.DeliveryDate < today {
			continue
		}
		want := slot{truck: d.TruckRef, active: d.DeliveryDate == today, date: d.DeliveryDate}
		if !contains(slots[id], want) {
			findings = append(findings, Finding{Kind: KindOrphan, TruckID: d.TruckRef, DeliveryID: id, Date: d.DeliveryDate, Detail: "expected in " + want.String()})
		}
	}
	return findings
}

func staleness(deliveries map[string]models.Delivery, id string, s slot, today string) string {
	d, ok := deliveries[id]
	switch {
	case !ok:
		return "delivery does not exist"
	case d.TruckRef != s.truck:
		return fmt.Sprintf("delivery assigned to %q", d.TruckRef)
	case d.IsComplete:
		return "complete delivery still indexed"
	case s.active && d.DeliveryDate != today:
		return fmt.Sprintf("active delivery dated %s", d.DeliveryDate)
	case !s.active && d.DeliveryDate != s.date:
		return fmt.Sprintf("delivery dated %s", d.DeliveryDate)
	default:
		return ""
	}
}

func contains(slots []slot, want slot) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
