package synchronizer

import (
	"github.com/ukydev/fleet-deliveries/internal/models"
)

// Branches of the decision table, recorded on every outcome.
const (
	BranchInvalid        = "invalid"
	BranchDuplicate      = "duplicate"
	BranchUntracked      = "untracked"
	BranchCreate         = "create"
	BranchDelete         = "delete"
	BranchReassign       = "reassign"
	BranchReschedule     = "reschedule"
	BranchComplete       = "complete"
	BranchReopen         = "reopen"
	BranchRolloverRedate = "rollover_redate"
	BranchNoop           = "noop"
)

// placement is where a delivery state belongs in the truck indexes. A zero
// placement means the state is not indexed.
type placement struct {
	truck string
	index models.IndexKind
	date  string
}

func (p placement) indexed() bool {
	return p.index != ""
}

// place finds the index a delivery state belongs to. Unassigned, complete
// and past-dated deliveries are not indexed.
func place(d *models.Delivery, today string) placement {
	if !d.Assigned() || d.IsComplete || d.DeliveryDate == "" {
		return placement{}
	}
	switch {
	case d.DeliveryDate == today:
		return placement{truck: d.TruckRef, index: models.IndexActive, date: d.DeliveryDate}
	case d.DeliveryDate > today:
		return placement{truck: d.TruckRef, index: models.IndexFuture, date: d.DeliveryDate}
	default:
		return placement{}
	}
}

func (p placement) remove(required bool) models.Mutation {
	m := models.Mutation{TruckID: p.truck, Index: p.index, Op: models.OpRemove, Required: required}
	if p.index == models.IndexFuture {
		m.Date = p.date
	}
	return m
}

func (p placement) add() models.Mutation {
	m := models.Mutation{TruckID: p.truck, Index: p.index, Op: models.OpAdd}
	if p.index == models.IndexFuture {
		m.Date = p.date
	}
	return m
}

// plan is the branch taken for an event and the index mutations it needs,
// removals before additions.
type plan struct {
	branch    string
	mutations []models.Mutation
	// stamp asks for deliveredAt and the truck driver to be written back.
	stamp bool
}

// decide evaluates the decision table for a normalized event.
func decide(evt models.ChangeEvent, today string) plan {
	before, after := place(evt.Before, today), place(evt.After, today)

	switch evt.Kind() {
	case models.ChangeCreate:
		if !after.indexed() {
			return plan{branch: BranchUntracked}
		}
		return plan{branch: BranchCreate, mutations: []models.Mutation{after.add()}}

	case models.ChangeDelete:
		if !before.indexed() {
			return plan{branch: BranchUntracked}
		}
		return plan{branch: BranchDelete, mutations: []models.Mutation{before.remove(false)}}
	}

	if isRolloverRedate(evt.Before, evt.After) {
		return plan{branch: BranchRolloverRedate}
	}
	if completes(evt.Before, evt.After) {
		return decideCompletion(evt, before)
	}

	if !before.indexed() && !after.indexed() {
		return plan{branch: BranchUntracked}
	}
	if before == after {
		return plan{branch: BranchNoop}
	}

	p := plan{branch: updateBranch(evt.Before, evt.After)}
	if before.indexed() {
		p.mutations = append(p.mutations, before.remove(true))
	}
	if after.indexed() {
		p.mutations = append(p.mutations, after.add())
	}
	return p
}

func decideCompletion(evt models.ChangeEvent, before placement) plan {
	p := plan{branch: BranchComplete, stamp: true}
	switch {
	case before.index == models.IndexFuture:
		p.mutations = append(p.mutations, before.remove(false))
	case before.index == models.IndexActive && before.truck != evt.After.TruckRef:
		p.mutations = append(p.mutations, before.remove(false))
	}
	p.mutations = append(p.mutations, models.Mutation{
		TruckID: evt.After.TruckRef,
		Index:   models.IndexCompleted,
		Op:      models.OpComplete,
	})
	return p
}

func updateBranch(before, after *models.Delivery) string {
	switch {
	case before.TruckRef != after.TruckRef:
		return BranchReassign
	case before.DeliveryDate != after.DeliveryDate:
		return BranchReschedule
	case before.IsComplete && !after.IsComplete:
		return BranchReopen
	default:
		return BranchNoop
	}
}

// completes reports an assigned delivery turning complete.
func completes(before, after *models.Delivery) bool {
	return !before.IsComplete && after.IsComplete && after.Assigned()
}

// isRolloverRedate recognises the write the daily rollover makes when it
// carries a late delivery over to the next day. The rollover has already
// placed the id in the truck's active set.
func isRolloverRedate(before, after *models.Delivery) bool {
	return after.Late &&
		after.LateSince != "" &&
		after.LateSince == before.DeliveryDate &&
		after.DeliveryDate != before.DeliveryDate &&
		after.TruckRef == before.TruckRef &&
		after.IsComplete == before.IsComplete
}
