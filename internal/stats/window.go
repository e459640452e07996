package stats

import (
	"fmt"
	"time"

	"github.com/pborenstein/apantli/internal/apperr"
)

// Timezone offsets accepted from clients, minutes east of UTC. The real
// world spans UTC-12:00 to UTC+14:00.
const (
	minOffsetMinutes = -720
	maxOffsetMinutes = 840
)

const dateLayout = "2006-01-02"

// Window is a reporting period. Since/Until are UTC instants; zero
// values leave that bound open. OffsetMinutes shifts day and hour
// bucketing into the client's local time.
type Window struct {
	Since         time.Time
	Until         time.Time
	OffsetMinutes int
}

// WindowParams are raw query inputs, prior to validation.
type WindowParams struct {
	// Hours selects a trailing window ending now. 0 means unbounded
	// unless dates are given.
	Hours int

	// StartDate and EndDate are inclusive local calendar dates,
	// YYYY-MM-DD. They take precedence over Hours.
	StartDate string
	EndDate   string

	// OffsetMinutes is the client timezone offset in minutes east of UTC.
	OffsetMinutes int

	// DefaultDays, when positive, bounds the window to the trailing N
	// local days whenever neither Hours nor dates are given.
	DefaultDays int
}

// ParseWindow validates params and resolves local dates to UTC bounds.
// A local date covers [00:00, 24:00) in the client's timezone, so the
// UTC window is the date span shifted back by the offset.
func ParseWindow(p WindowParams) (Window, error) {
	if p.OffsetMinutes < minOffsetMinutes || p.OffsetMinutes > maxOffsetMinutes {
		return Window{}, apperr.Newf(apperr.KindValidation,
			"timezone_offset must be between %d and %d minutes", minOffsetMinutes, maxOffsetMinutes)
	}
	if p.Hours < 0 {
		return Window{}, apperr.New(apperr.KindValidation, "hours must be non-negative")
	}

	w := Window{OffsetMinutes: p.OffsetMinutes}

	if p.StartDate != "" || p.EndDate != "" {
		shift := time.Duration(p.OffsetMinutes) * time.Minute
		if p.StartDate != "" {
			start, err := time.Parse(dateLayout, p.StartDate)
			if err != nil {
				return Window{}, apperr.Newf(apperr.KindValidation, "invalid start_date %q: expected YYYY-MM-DD", p.StartDate)
			}
			w.Since = start.Add(-shift)
		}
		if p.EndDate != "" {
			end, err := time.Parse(dateLayout, p.EndDate)
			if err != nil {
				return Window{}, apperr.Newf(apperr.KindValidation, "invalid end_date %q: expected YYYY-MM-DD", p.EndDate)
			}
			w.Until = end.AddDate(0, 0, 1).Add(-shift)
		}
		if !w.Since.IsZero() && !w.Until.IsZero() && w.Until.Before(w.Since) {
			return Window{}, apperr.New(apperr.KindValidation, "end_date is before start_date")
		}
		return w, nil
	}

	if p.Hours > 0 {
		w.Since = time.Now().UTC().Add(-time.Duration(p.Hours) * time.Hour)
		return w, nil
	}

	if p.DefaultDays > 0 {
		shift := time.Duration(p.OffsetMinutes) * time.Minute
		today := time.Now().UTC().Add(shift).Truncate(24 * time.Hour)
		w.Since = today.AddDate(0, 0, -p.DefaultDays).Add(-shift)
		w.Until = today.AddDate(0, 0, 1).Add(-shift)
	}
	return w, nil
}

func (w Window) String() string {
	return fmt.Sprintf("window[%s, %s, offset=%dm]", w.Since.Format(time.RFC3339), w.Until.Format(time.RFC3339), w.OffsetMinutes)
}
