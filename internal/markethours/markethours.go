// Package markethours answers whether the NSE cash market is trading.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST. Open is inclusive, close exclusive.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Calendar is a trading calendar with a fixed holiday set.
type Calendar struct {
	holidays map[string]bool
}

// NewCalendar builds a calendar whose holidays are the IST dates of days.
func NewCalendar(days ...time.Time) *Calendar {
	set := make(map[string]bool, len(days))
	for _, d := range days {
		ist := d.In(IST)
		set[dateKey(ist.Year(), ist.Month(), ist.Day())] = true
	}
	return &Calendar{holidays: set}
}

// Default is the calendar with the built-in NSE 2026 holiday list.
var Default = &Calendar{holidays: defaultHolidays()}

// IsHoliday returns true if the date (in IST) is an exchange holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	return c.holidays[dateKey(ist.Year(), ist.Month(), ist.Day())]
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !c.IsHoliday(ist)
}

// IsMarketOpen returns true if t falls within trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !c.IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// NextOpen returns the next market open. If t is before today's open on a
// trading day, that is today's open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	ist := t.In(IST)

	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && c.IsTradingDay(ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(ist.Year(), ist.Month(), ist.Day()+1, OpenHour, OpenMinute, 0, 0, IST)
}

// TodayClose returns today's close time (3:30 PM IST).
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// IsWeekday returns true if t is Mon–Fri in IST.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// Status is a UI-facing summary of the market state.
type Status struct {
	Open     bool      `json:"open"`
	NextOpen time.Time `json:"next_open"`
	Closes   time.Time `json:"closes,omitempty"`
	Message  string    `json:"message"`
}

// Status summarizes the market at t.
func (c *Calendar) Status(t time.Time) Status {
	if c.IsMarketOpen(t) {
		cl := TodayClose(t)
		return Status{
			Open:     true,
			NextOpen: c.NextOpen(t),
			Closes:   cl,
			Message:  fmt.Sprintf("Market Open - closes in %s", fmtDur(cl.Sub(t))),
		}
	}
	next := c.NextOpen(t)
	var msg string
	switch {
	case !IsWeekday(t):
		msg = "Market Closed - Weekend"
	case c.IsHoliday(t):
		msg = "Market Closed - Holiday"
	default:
		msg = "Market Closed"
	}
	ist := next.In(IST)
	msg += fmt.Sprintf(" (opens %s %s)", ist.Weekday().String()[:3], ist.Format("15:04"))
	return Status{Open: false, NextOpen: next, Message: msg}
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// IsMarketOpen reports whether the default calendar is trading at t.
func IsMarketOpen(t time.Time) bool { return Default.IsMarketOpen(t) }

// NextOpen returns the default calendar's next open after t.
func NextOpen(t time.Time) time.Time { return Default.NextOpen(t) }
