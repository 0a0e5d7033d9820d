// Package dates computes civil dates in the fleet's fixed timezone.
package dates

import (
	"fmt"
	"time"
)

// Layout is the civil date format used for every date key.
const Layout = "2006-01-02"

// DefaultTimezone is the zone the fleet operates in.
const DefaultTimezone = "America/Sao_Paulo"

// Clock returns the current instant.
type Clock func() time.Time

// Provider answers "what day is it" for one timezone.
type Provider struct {
	loc *time.Location
	now Clock
}

// New loads the timezone and returns a provider. A nil clock uses time.Now.
func New(timezone string, now Clock) (*Provider, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Provider{loc: loc, now: now}, nil
}

// Location returns the provider's timezone.
func (p *Provider) Location() *time.Location {
	return p.loc
}

// Now returns the current instant in the provider's timezone.
func (p *Provider) Now() time.Time {
	return p.now().In(p.loc)
}

// Today returns the current civil date.
func (p *Provider) Today() string {
	return p.Now().Format(Layout)
}

// Yesterday returns the civil date before Today. It steps calendar days,
// not 24 hours, so DST transitions do not skip or repeat a date.
func (p *Provider) Yesterday() string {
	y, m, d := p.Now().Date()
	return time.Date(y, m, d-1, 12, 0, 0, 0, p.loc).Format(Layout)
}

// IsFuture reports whether date is strictly after today.
func (p *Provider) IsFuture(date string) bool {
	return date > p.Today()
}

// Valid reports whether s is a well-formed civil date.
func Valid(s string) bool {
	_, err := time.Parse(Layout, s)
	return err == nil
}

// Shift moves a civil date by n calendar days.
func Shift(date string, n int) (string, error) {
	t, err := time.Parse(Layout, date)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}

// Tracked reports whether date is today or later, which is when a delivery
// belongs in one of a truck's indexes. Dates compare lexically.
func Tracked(date, today string) bool {
	return date != "" && date >= today
}
