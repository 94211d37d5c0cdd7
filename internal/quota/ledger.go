package quota

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/policy"
)

// ErrFeatureDisabled means the tier's feature toggle is off
var ErrFeatureDisabled = errors.New("feature disabled for tier")

// Archiver persists committed usage into the durable monthly archive
type Archiver interface {
	Increment(ctx context.Context, userID, feature, period string, delta int64) error
}

// Ledger enforces per-feature monthly caps with two-phase reservations.
// Reserve before the work, commit once it succeeded, release if it never
// ran - the cap check counts both pending and committed debits, so partial
// failures can't over-count and racing callers can't over-admit.
type Ledger struct {
	resolver *policy.Resolver
	store    CounterStore
	archiver Archiver // optional
	loc      *time.Location
}

func NewLedger(resolver *policy.Resolver, store CounterStore, archiver Archiver, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		resolver: resolver,
		store:    store,
		archiver: archiver,
		loc:      loc,
	}
}

// CheckAndReserve places a provisional debit against the user's current
// period counter. Unlimited caps skip the comparison but still count usage
// so summaries stay accurate.
func (l *Ledger) CheckAndReserve(ctx context.Context, userID, tier, feature string, now time.Time) (*Reservation, error) {
	ls, err := l.resolver.Resolve(tier)
	if err != nil {
		return nil, err
	}

	if !ls.Enabled(feature) {
		return nil, ErrFeatureDisabled
	}

	resv := &Reservation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Feature:   feature,
		Period:    PeriodOf(now, l.loc),
		CreatedAt: now,
	}

	cap := ls.Quota(feature)
	if cap == policy.Unlimited {
		resv.Unlimited = true
	}

	if err := l.store.Reserve(ctx, resv, cap); err != nil {
		return nil, err
	}

	return resv, nil
}

// Commit finalizes a reservation into the period's permanent count
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	resv, err := l.store.Commit(ctx, reservationID)
	if err != nil {
		return err
	}

	if l.archiver != nil {
		if err := l.archiver.Increment(ctx, resv.UserID, resv.Feature, resv.Period, 1); err != nil {
			// The hot counter already holds the commit; the archive row
			// catches up on the next commit for this key.
			log.Printf("Usage archive write failed for %s: %v", resv.Key(), err)
		}
	}

	return nil
}

// Release rolls a reservation back without counting it
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	_, err := l.store.Release(ctx, reservationID)
	return err
}

// Summary is the usage picture for one (user, feature, period)
type Summary struct {
	UserID    string `json:"user_id"`
	Feature   string `json:"feature"`
	Period    string `json:"period"`
	Committed int64  `json:"committed"`
	Pending   int64  `json:"pending"`
	Cap       int64  `json:"cap"` // -1 = unlimited
}

func (l *Ledger) Summary(ctx context.Context, userID, tier, feature, period string) (*Summary, error) {
	ls, err := l.resolver.Resolve(tier)
	if err != nil {
		return nil, err
	}

	key := Key{UserID: userID, Feature: feature, Period: period}

	committed, err := l.store.Committed(ctx, key)
	if err != nil {
		return nil, err
	}

	pending, err := l.store.Pending(ctx, key)
	if err != nil {
		return nil, err
	}

	return &Summary{
		UserID:    userID,
		Feature:   feature,
		Period:    period,
		Committed: committed,
		Pending:   pending,
		Cap:       ls.Quota(feature),
	}, nil
}

// Correct applies an administrative adjustment to a committed count
func (l *Ledger) Correct(ctx context.Context, userID, feature, period string, delta int64) error {
	key := Key{UserID: userID, Feature: feature, Period: period}

	if err := l.store.Correct(ctx, key, delta); err != nil {
		return err
	}

	if l.archiver != nil {
		if err := l.archiver.Increment(ctx, userID, feature, period, delta); err != nil {
			log.Printf("Usage archive correction failed for %s: %v", key, err)
		}
	}

	return nil
}

// Period returns the ledger's period identifier for a point in time
func (l *Ledger) Period(now time.Time) string {
	return PeriodOf(now, l.loc)
}
