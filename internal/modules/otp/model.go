// README: One-time handoff codes bound to a booking and phase (pickup/dropoff).
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"ridepool/internal/types"
)

type Phase string

const (
	PhasePickup  Phase = "pickup"
	PhaseDropoff Phase = "dropoff"
)

var (
	ErrMismatch  = errors.New("otp: code mismatch")
	ErrConsumed  = errors.New("otp: code already consumed")
	ErrNotIssued = errors.New("otp: no code issued")
	ErrLocked    = errors.New("otp: too many failed attempts")
)

// Challenge is an issued code awaiting verification. A successful verify
// marks it consumed; it can never verify again.
type Challenge struct {
	BookingID  types.ID
	Phase      Phase
	Code       string
	IssuedAt   time.Time
	Consumed   bool
	ConsumedAt *time.Time
}

const codeSpace = 10000

// generateCode returns a 4-digit numeric code, zero-padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
