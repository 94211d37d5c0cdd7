package quota

import "context"

// CounterStore holds the hot pending/committed counts per Key plus the open
// reservations. Implementations must serialize the read-check-increment
// sequence per key: concurrent reservations racing a cap of C admit exactly
// C and reject the rest.
type CounterStore interface {
	// Reserve records a pending debit if committed+pending < cap. A
	// negative cap skips the check (unlimited). Returns ErrQuotaExceeded
	// on a full counter.
	Reserve(ctx context.Context, res *Reservation, cap int64) error

	// Commit settles a reservation into the period's committed count.
	Commit(ctx context.Context, reservationID string) (*Reservation, error)

	// Release drops a reservation without counting it.
	Release(ctx context.Context, reservationID string) (*Reservation, error)

	// Committed returns the period's committed count.
	Committed(ctx context.Context, key Key) (int64, error)

	// Pending returns the period's open reservation count.
	Pending(ctx context.Context, key Key) (int64, error)

	// Correct adjusts a committed count by delta. Administrative use only;
	// the normal path never decrements.
	Correct(ctx context.Context, key Key, delta int64) error
}
