// README: Challenge storage; the memory implementation is authoritative for consume-on-verify.
package otp

import (
	"context"
	"sync"
	"time"

	"ridepool/internal/types"
)

// Store holds active challenges. Consume must be atomic: compare and mark
// consumed in one step so a verified code can never verify twice.
type Store interface {
	Put(ctx context.Context, ch Challenge) error
	Consume(ctx context.Context, bookingID types.ID, phase Phase, submitted string) error
	Invalidate(ctx context.Context, bookingID types.ID, phase Phase) error
}

type challengeKey struct {
	bookingID types.ID
	phase     Phase
}

// MemStore is the in-process challenge store.
type MemStore struct {
	mu         sync.Mutex
	challenges map[challengeKey]*Challenge
}

func NewMemStore() *MemStore {
	return &MemStore{challenges: make(map[challengeKey]*Challenge)}
}

func (s *MemStore) Put(_ context.Context, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := challengeKey{bookingID: ch.BookingID, phase: ch.Phase}
	s.challenges[key] = &ch
	return nil
}

func (s *MemStore) Consume(_ context.Context, bookingID types.ID, phase Phase, submitted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[challengeKey{bookingID: bookingID, phase: phase}]
	if !ok {
		return ErrNotIssued
	}
	if ch.Consumed {
		return ErrConsumed
	}
	if ch.Code != submitted {
		return ErrMismatch
	}
	now := time.Now().UTC()
	ch.Consumed = true
	ch.ConsumedAt = &now
	return nil
}

func (s *MemStore) Invalidate(_ context.Context, bookingID types.ID, phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, challengeKey{bookingID: bookingID, phase: phase})
	return nil
}
