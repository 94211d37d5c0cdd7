package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded means the reservation would push the period's usage
	// past the tier's cap. Expected denial, surfaced as an upgrade prompt.
	ErrQuotaExceeded = errors.New("quota exceeded for period")

	// ErrUnknownReservation means the reservation was already settled or
	// expired before commit/release.
	ErrUnknownReservation = errors.New("unknown or expired reservation")
)

// Key identifies one usage counter
type Key struct {
	UserID  string
	Feature string
	Period  string // YYYY-MM
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.UserID, k.Feature, k.Period)
}

// Reservation is a provisional debit against a period counter. It must be
// committed once the work succeeds or released if the work never ran.
type Reservation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Feature   string    `json:"feature"`
	Period    string    `json:"period"`
	Unlimited bool      `json:"unlimited"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Reservation) Key() Key {
	return Key{UserID: r.UserID, Feature: r.Feature, Period: r.Period}
}

// PeriodOf formats the calendar-month period for a point in time. Billing
// months roll over at midnight in the configured location.
func PeriodOf(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01")
}
