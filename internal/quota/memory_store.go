package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters and reservations in process memory behind one
// mutex per counter key. It backs single-instance deployments and the test
// suite; multi-instance deployments use the Redis store.
type MemoryStore struct {
	mu           sync.Mutex
	counters     map[Key]*memCounter
	reservations map[string]*memReservation
	resvTTL      time.Duration
}

type memCounter struct {
	mu        sync.Mutex
	committed int64
	pending   int64
}

type memReservation struct {
	resv      Reservation
	expiresAt time.Time
}

func NewMemoryStore(resvTTL time.Duration) *MemoryStore {
	if resvTTL <= 0 {
		resvTTL = time.Hour
	}
	return &MemoryStore{
		counters:     make(map[Key]*memCounter),
		reservations: make(map[string]*memReservation),
		resvTTL:      resvTTL,
	}
}

func (s *MemoryStore) counter(key Key) *memCounter {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &memCounter{}
		s.counters[key] = c
	}
	return c
}

func (s *MemoryStore) Reserve(ctx context.Context, res *Reservation, cap int64) error {
	c := s.counter(res.Key())

	// Per-key lock serializes the read-check-increment sequence
	c.mu.Lock()
	defer c.mu.Unlock()

	if cap >= 0 && c.committed+c.pending >= cap {
		return ErrQuotaExceeded
	}

	c.pending++

	s.mu.Lock()
	s.reservations[res.ID] = &memReservation{
		resv:      *res,
		expiresAt: time.Now().Add(s.resvTTL),
	}
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) take(reservationID string) (*Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.reservations[reservationID]
	if !ok {
		return nil, false
	}
	delete(s.reservations, reservationID)

	if time.Now().After(mr.expiresAt) {
		return nil, false
	}

	resv := mr.resv
	return &resv, true
}

func (s *MemoryStore) Commit(ctx context.Context, reservationID string) (*Reservation, error) {
	resv, ok := s.take(reservationID)
	if !ok {
		return nil, ErrUnknownReservation
	}

	c := s.counter(resv.Key())
	c.mu.Lock()
	c.pending--
	c.committed++
	c.mu.Unlock()

	return resv, nil
}

func (s *MemoryStore) Release(ctx context.Context, reservationID string) (*Reservation, error) {
	resv, ok := s.take(reservationID)
	if !ok {
		return nil, ErrUnknownReservation
	}

	c := s.counter(resv.Key())
	c.mu.Lock()
	c.pending--
	c.mu.Unlock()

	return resv, nil
}

func (s *MemoryStore) Committed(ctx context.Context, key Key) (int64, error) {
	c := s.counter(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed, nil
}

func (s *MemoryStore) Pending(ctx context.Context, key Key) (int64, error) {
	c := s.counter(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, nil
}

func (s *MemoryStore) Correct(ctx context.Context, key Key, delta int64) error {
	c := s.counter(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.committed += delta
	if c.committed < 0 {
		c.committed = 0
	}
	return nil
}

// Sweep drops expired reservations and returns their pending debits.
// Run periodically so abandoned reservations don't hold quota forever.
func (s *MemoryStore) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	var expired []Reservation
	for id, mr := range s.reservations {
		if now.After(mr.expiresAt) {
			expired = append(expired, mr.resv)
			delete(s.reservations, id)
		}
	}
	s.mu.Unlock()

	for _, resv := range expired {
		c := s.counter(resv.Key())
		c.mu.Lock()
		c.pending--
		c.mu.Unlock()
	}

	return len(expired)
}
