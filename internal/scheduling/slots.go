package scheduling

import (
	"fmt"
	"time"

	"telehealth-portal-server/internal/models"
)

// Slot is one bookable start time on a date.
type Slot struct {
	Time     string `json:"time"`
	IsBooked bool   `json:"isBooked"`
}

// window is a parsed AvailabilityRule in minutes since midnight.
type window struct {
	start, end           int
	breakStart, breakEnd int
	hasBreak             bool
}

func parseWindow(rule *models.AvailabilityRule) (window, error) {
	var w window
	var err error
	if w.start, err = ParseClock(rule.StartTime); err != nil {
		return w, fmt.Errorf("rule %s start: %w", rule.ID, err)
	}
	if w.end, err = ParseClock(rule.EndTime); err != nil {
		return w, fmt.Errorf("rule %s end: %w", rule.ID, err)
	}
	if rule.HasBreak() {
		if w.breakStart, err = ParseClock(*rule.BreakStart); err != nil {
			return w, fmt.Errorf("rule %s break start: %w", rule.ID, err)
		}
		if w.breakEnd, err = ParseClock(*rule.BreakEnd); err != nil {
			return w, fmt.Errorf("rule %s break end: %w", rule.ID, err)
		}
		w.hasBreak = true
	}
	return w, nil
}

// starts walks [start, end) in slotMinutes steps and skips steps that begin
// inside [breakStart, breakEnd). Only the start time is checked, so on an
// unaligned rule the last slot may run past end.
func (w window) starts(slotMinutes int) []int {
	var out []int
	for m := w.start; m < w.end; m += slotMinutes {
		if w.inBreak(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (w window) inBreak(m int) bool {
	return w.hasBreak && m >= w.breakStart && m < w.breakEnd
}

// onGrid reports whether m is one of the window's slot steps.
func (w window) onGrid(m, slotMinutes int) bool {
	return (m-w.start)%slotMinutes == 0
}

// GenerateSlots derives the slots of date from rule. date must be midnight in
// the clinic time zone. Past dates yield nothing; on the current date, slots
// starting at or before now are dropped. booked holds the "HH:MM" times
// taken by pending or confirmed appointments.
func GenerateSlots(rule *models.AvailabilityRule, date, now time.Time, slotMinutes int, booked map[string]bool) ([]Slot, error) {
	if rule == nil || !rule.IsActive {
		return []Slot{}, nil
	}
	w, err := parseWindow(rule)
	if err != nil {
		return nil, err
	}

	now = now.In(date.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, date.Location())
	if date.Before(today) {
		return []Slot{}, nil
	}
	isToday := date.Equal(today)

	slots := []Slot{}
	for _, m := range w.starts(slotMinutes) {
		if isToday && !At(date, m).After(now) {
			continue
		}
		clock := FormatClock(m)
		slots = append(slots, Slot{Time: clock, IsBooked: booked[clock]})
	}
	return slots, nil
}
