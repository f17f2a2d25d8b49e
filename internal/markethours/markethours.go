// Package markethours reports the NSE session status (IST, Mon–Fri,
// 9:15–15:30, excluding exchange holidays).
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// State is the coarse session state.
type State string

const (
	StateOpen      State = "open"
	StatePreMarket State = "pre-market"
	StateClosed    State = "closed"
	StateHoliday   State = "holiday"
	StateWeekend   State = "weekend"
)

// Status is a point-in-time market status.
type Status struct {
	State    State     `json:"status"`
	Message  string    `json:"message"`
	Time     string    `json:"time"`
	Date     string    `json:"date"`
	NextOpen time.Time `json:"nextOpen"`
}

// IsOpen reports whether the session is trading.
func (s Status) IsOpen() bool { return s.State == StateOpen }

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// NextOpen returns the next market open time (9:15 AM IST on next trading day).
// If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)

	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	// Fallback: next day
	return time.Date(ist.Year(), ist.Month(), ist.Day()+1, OpenHour, OpenMinute, 0, 0, IST)
}

// TodayClose returns today's market close time (3:30 PM IST).
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t.In(IST))
	if d < 0 {
		return 0
	}
	return d
}

// At returns the market status at t.
func At(t time.Time) Status {
	ist := t.In(IST)
	st := Status{
		Time:     ist.Format("15:04:05"),
		Date:     ist.Format("2006-01-02"),
		NextOpen: NextOpen(ist),
	}
	hm := ist.Hour()*60 + ist.Minute()

	switch {
	case !IsWeekday(ist):
		st.State, st.Message = StateWeekend, "Weekend - Market Closed"
	case IsHoliday(ist):
		st.State, st.Message = StateHoliday, "Exchange Holiday - Market Closed"
	case IsMarketOpen(ist):
		st.State = StateOpen
		st.Message = fmt.Sprintf("Market is Open - closes in %s", fmtDur(TimeUntilClose(ist)))
	case hm < OpenHour*60+OpenMinute:
		st.State, st.Message = StatePreMarket, "Opens at 9:15 AM"
	default:
		st.State, st.Message = StateClosed, "Market Closed"
	}
	return st
}

// Now returns the current market status.
func Now() Status { return At(time.Now()) }

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
