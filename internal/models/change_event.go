package models

import (
	"errors"
	"time"
)

// ChangeKind classifies a delivery document write.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

var (
	ErrEmptyChange     = errors.New("change event has neither before nor after state")
	ErrMissingDelivery = errors.New("change event has no delivery id")
	ErrMissingAccount  = errors.New("change event has no account id")
)

// ChangeEvent is one write to a delivery document as delivered by a trigger:
// Before is nil on create and After is nil on delete.
type ChangeEvent struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	DeliveryID string    `json:"deliveryId"`
	Before     *Delivery `json:"before,omitempty"`
	After      *Delivery `json:"after,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// Kind derives the write type from which snapshots are present.
func (e ChangeEvent) Kind() ChangeKind {
	switch {
	case e.Before == nil:
		return ChangeCreate
	case e.After == nil:
		return ChangeDelete
	default:
		return ChangeUpdate
	}
}

// Normalize fills the delivery and account ids from the snapshots when the
// trigger left them out, then validates the event.
func (e *ChangeEvent) Normalize() error {
	if e.Before == nil && e.After == nil {
		return ErrEmptyChange
	}
	for _, d := range []*Delivery{e.After, e.Before} {
		if d == nil {
			continue
		}
		if e.DeliveryID == "" {
			e.DeliveryID = d.ID
		}
		if e.AccountID == "" {
			e.AccountID = d.AccountID
		}
	}
	if e.DeliveryID == "" {
		return ErrMissingDelivery
	}
	if e.AccountID == "" {
		return ErrMissingAccount
	}
	return nil
}
