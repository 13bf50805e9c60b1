// Package quota decides whether an identity may generate or save another idea.
package quota

import (
	"time"
)

// DefaultDailyLimit caps saves per calendar day for authenticated identities.
const DefaultDailyLimit = 10

const dayLayout = "2006-01-02"

// State is the rolling counter persisted alongside saved ideas.
type State struct {
	DailyCount int
	Day        string
	LastSave   time.Time
}

// Policy evaluates eligibility. The zero value applies DefaultDailyLimit in time.Local
// with the guest cooldown disabled.
type Policy struct {
	DailyLimit    int
	GuestCooldown time.Duration
	Location      *time.Location
}

// Day returns the local calendar day key for the instant.
func (p Policy) Day(now time.Time) string {
	return now.In(p.location()).Format(dayLayout)
}

// Rollover resets the counter when the calendar day has changed since the state was last touched.
func (p Policy) Rollover(state State, now time.Time) State {
	today := p.Day(now)
	if state.Day != today {
		state.DailyCount = 0
		state.Day = today
	}
	if state.DailyCount < 0 {
		state.DailyCount = 0
	}
	return state
}

// CanGenerateOrSave reports whether a new idea may be created.
// Guests have no daily cap; authenticated identities are capped per calendar day.
func (p Policy) CanGenerateOrSave(authenticated bool, state State, now time.Time) bool {
	if !authenticated {
		return p.CooldownRemaining(state, now) == 0
	}
	return p.Rollover(state, now).DailyCount < p.limit()
}

// RecordSave applies a successful save to the state.
func (p Policy) RecordSave(authenticated bool, state State, now time.Time) State {
	state = p.Rollover(state, now)
	if authenticated {
		state.DailyCount++
	}
	state.LastSave = now
	return state
}

// CooldownRemaining returns how long a guest must wait before the next save.
// It is zero when the cooldown is disabled or has elapsed.
func (p Policy) CooldownRemaining(state State, now time.Time) time.Duration {
	if p.GuestCooldown <= 0 || state.LastSave.IsZero() {
		return 0
	}
	remaining := p.GuestCooldown - now.Sub(state.LastSave)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// CountForDay counts the instants that fall on the same local calendar day as now.
func (p Policy) CountForDay(times []time.Time, now time.Time) int {
	today := p.Day(now)
	count := 0
	for _, instant := range times {
		if p.Day(instant) == today {
			count++
		}
	}
	return count
}

// Limit exposes the effective daily limit.
func (p Policy) Limit() int {
	return p.limit()
}

func (p Policy) limit() int {
	if p.DailyLimit <= 0 {
		return DefaultDailyLimit
	}
	return p.DailyLimit
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}
