// README: OTP issue/verify tests: single-use consumption, retry after mismatch, lockout policy.
package otp

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"ridepool/internal/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService() *Service {
	return NewService(NewMemStore(), nil, testLogger())
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	code, err := svc.Issue(ctx, types.ID("b1"), PhasePickup)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(code) != 4 {
		t.Fatalf("code %q, want 4 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit", code)
		}
	}

	if err := svc.Verify(ctx, "b1", PhasePickup, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_ReplayFails(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	code, _ := svc.Issue(ctx, "b1", PhaseDropoff)
	if err := svc.Verify(ctx, "b1", PhaseDropoff, code); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if err := svc.Verify(ctx, "b1", PhaseDropoff, code); !errors.Is(err, ErrConsumed) {
		t.Errorf("replay: got %v, want ErrConsumed", err)
	}
}

func TestVerify_MismatchKeepsCodeUsable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	code, _ := svc.Issue(ctx, "b1", PhasePickup)
	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	if err := svc.Verify(ctx, "b1", PhasePickup, wrong); !errors.Is(err, ErrMismatch) {
		t.Fatalf("mismatch: got %v, want ErrMismatch", err)
	}
	if err := svc.Verify(ctx, "b1", PhasePickup, code); err != nil {
		t.Errorf("retry with correct code: %v", err)
	}
}

func TestVerify_NotIssued(t *testing.T) {
	svc := newTestService()
	if err := svc.Verify(context.Background(), "nope", PhasePickup, "1234"); !errors.Is(err, ErrNotIssued) {
		t.Errorf("got %v, want ErrNotIssued", err)
	}
}

func TestIssue_ReplacesPreviousCode(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	first, _ := svc.Issue(ctx, "b1", PhasePickup)
	second, err := svc.Issue(ctx, "b1", PhasePickup)
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	if first != second {
		if err := svc.Verify(ctx, "b1", PhasePickup, first); err == nil {
			t.Error("stale code verified after re-issue")
		}
	}
	if err := svc.Verify(ctx, "b1", PhasePickup, second); err != nil {
		t.Errorf("fresh code rejected: %v", err)
	}
}

func TestPhasesAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	pickup, _ := svc.Issue(ctx, "b1", PhasePickup)
	dropoff, _ := svc.Issue(ctx, "b1", PhaseDropoff)

	if err := svc.Verify(ctx, "b1", PhasePickup, pickup); err != nil {
		t.Fatalf("pickup verify: %v", err)
	}
	// Consuming pickup must not touch the dropoff challenge.
	if err := svc.Verify(ctx, "b1", PhaseDropoff, dropoff); err != nil {
		t.Errorf("dropoff verify: %v", err)
	}
}

// fakeLimiter drives the lockout path without Redis.
type fakeLimiter struct {
	locked  bool
	fails   int
	cleared int
}

func (f *fakeLimiter) Locked(context.Context, types.ID, Phase) (bool, error) {
	return f.locked, nil
}
func (f *fakeLimiter) Fail(context.Context, types.ID, Phase) error {
	f.fails++
	return nil
}
func (f *fakeLimiter) Clear(context.Context, types.ID, Phase) error {
	f.cleared++
	return nil
}

func TestVerify_LockedOut(t *testing.T) {
	ctx := context.Background()
	lim := &fakeLimiter{locked: true}
	svc := NewService(NewMemStore(), lim, testLogger())

	code, _ := svc.Issue(ctx, "b1", PhasePickup)
	if err := svc.Verify(ctx, "b1", PhasePickup, code); !errors.Is(err, ErrLocked) {
		t.Errorf("got %v, want ErrLocked even with the correct code", err)
	}
}

func TestVerify_LimiterBookkeeping(t *testing.T) {
	ctx := context.Background()
	lim := &fakeLimiter{}
	svc := NewService(NewMemStore(), lim, testLogger())

	code, _ := svc.Issue(ctx, "b1", PhasePickup)
	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	_ = svc.Verify(ctx, "b1", PhasePickup, wrong)
	if lim.fails != 1 {
		t.Errorf("fails = %d, want 1", lim.fails)
	}
	if err := svc.Verify(ctx, "b1", PhasePickup, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if lim.cleared != 1 {
		t.Errorf("cleared = %d, want 1", lim.cleared)
	}
}
