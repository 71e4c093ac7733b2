// README: OTP service: issues 4-digit handoff codes and verifies them exactly once.
package otp

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ridepool/internal/types"
)

// Service issues and verifies handoff codes. The limiter is optional; when
// present it locks out a (booking, phase) after repeated failures. Limiter
// outages fail open: verification proceeds and the outage is logged.
type Service struct {
	store   Store
	limiter AttemptLimiter
	log     *logrus.Logger
}

func NewService(store Store, limiter AttemptLimiter, log *logrus.Logger) *Service {
	return &Service{store: store, limiter: limiter, log: log}
}

// Issue generates a fresh code for (bookingID, phase), replacing any code
// issued earlier for the same pair, and returns it for the booking record.
func (s *Service) Issue(ctx context.Context, bookingID types.ID, phase Phase) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	ch := Challenge{
		BookingID: bookingID,
		Phase:     phase,
		Code:      code,
		IssuedAt:  time.Now().UTC(),
	}
	if err := s.store.Put(ctx, ch); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"booking_id": bookingID, "phase": phase}).Info("otp issued")
	return code, nil
}

// Verify checks the submitted code. A match consumes the challenge; a
// mismatch counts against the limiter and leaves the challenge usable.
func (s *Service) Verify(ctx context.Context, bookingID types.ID, phase Phase, submitted string) error {
	if s.limiter != nil {
		locked, err := s.limiter.Locked(ctx, bookingID, phase)
		if err != nil {
			s.log.WithError(err).Warn("otp limiter unavailable, continuing without lockout")
		} else if locked {
			return ErrLocked
		}
	}

	err := s.store.Consume(ctx, bookingID, phase, submitted)
	switch {
	case err == nil:
		if s.limiter != nil {
			if cerr := s.limiter.Clear(ctx, bookingID, phase); cerr != nil {
				s.log.WithError(cerr).Warn("otp limiter clear failed")
			}
		}
		s.log.WithFields(logrus.Fields{"booking_id": bookingID, "phase": phase}).Info("otp verified")
		return nil
	case errors.Is(err, ErrMismatch):
		if s.limiter != nil {
			if ferr := s.limiter.Fail(ctx, bookingID, phase); ferr != nil {
				s.log.WithError(ferr).Warn("otp limiter update failed")
			}
		}
		return err
	default:
		return err
	}
}

// Invalidate drops any outstanding challenge for the pair, for re-issue flows.
func (s *Service) Invalidate(ctx context.Context, bookingID types.ID, phase Phase) error {
	return s.store.Invalidate(ctx, bookingID, phase)
}
