// README: Ride aggregate store backed by PostgreSQL; Apply runs one transaction per change.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridepool/internal/types"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const rideCols = `id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng, stops,
	distance_km, duration_min, departure_at, price_per_seat, currency,
	total_seats, available_seats, instant_book, status, version, created_at, updated_at`

const bookingCols = `id, ride_id, passenger_id, seats_booked, status,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	pickup_code, pickup_verified_at, dropoff_code, dropoff_verified_at,
	total_price, currency, payment_status, refund_amount,
	idempotency_key, is_reassignment, original_booking_id, cancel_reason,
	created_at, updated_at`

func (s *PgStore) CreateRide(ctx context.Context, r *Ride) error {
	stops, err := marshalStops(r.Stops)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO rides (`+rideCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		string(r.ID), string(r.DriverID),
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng, stops,
		r.DistanceKm, r.DurationMin, r.DepartureAt,
		r.PricePerSeat.Amount, r.PricePerSeat.Currency,
		r.TotalSeats, r.AvailableSeats, r.InstantBook,
		string(r.Status), r.Version, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *PgStore) GetRide(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideCols+` FROM rides WHERE id = $1`, string(id))
	return scanRide(row)
}

func (s *PgStore) Snapshot(ctx context.Context, rideID types.ID) (*View, error) {
	// The ride row is read first; any later aggregate write bumps its
	// version, so a torn view fails the next Apply instead of corrupting.
	r, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingCols+` FROM bookings
		WHERE ride_id = $1
		ORDER BY created_at, id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	view := &View{Ride: r}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		view.Bookings = append(view.Bookings, b)
	}
	return view, rows.Err()
}

func (s *PgStore) Apply(ctx context.Context, ch Change) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status *string
	if ch.RideStatus != nil {
		v := string(*ch.RideStatus)
		status = &v
	}

	var avail, total int
	err = tx.QueryRow(ctx, `
		UPDATE rides
		SET version = version + 1,
		    available_seats = available_seats + $1,
		    status = COALESCE($2, status),
		    updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING available_seats, total_seats`,
		ch.SeatDelta, status, string(ch.RideID), ch.FromVersion,
	).Scan(&avail, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStaleRide
	}
	if isCheckViolation(err) {
		return fmt.Errorf("seat ledger violation on ride %s: %w", ch.RideID, err)
	}
	if err != nil {
		return err
	}
	if avail < 0 || avail > total {
		return fmt.Errorf("seat ledger violation on ride %s: %d not in [0,%d]", ch.RideID, avail, total)
	}

	for _, b := range ch.Bookings {
		if err := upsertBooking(ctx, tx, b); err != nil {
			// A lost creation race on the idempotency key surfaces like a
			// version miss; the caller re-reads and resolves to the winner.
			if isUniqueViolation(err) {
				return ErrStaleRide
			}
			return err
		}
	}
	for _, ev := range ch.Events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func upsertBooking(ctx context.Context, tx pgx.Tx, b *Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			pickup_code = EXCLUDED.pickup_code,
			pickup_verified_at = EXCLUDED.pickup_verified_at,
			dropoff_code = EXCLUDED.dropoff_code,
			dropoff_verified_at = EXCLUDED.dropoff_verified_at,
			payment_status = EXCLUDED.payment_status,
			refund_amount = EXCLUDED.refund_amount,
			cancel_reason = EXCLUDED.cancel_reason,
			updated_at = NOW()`,
		string(b.ID), string(b.RideID), string(b.PassengerID), b.SeatsBooked, string(b.Status),
		b.PickupPoint.Lat, b.PickupPoint.Lng, b.DropoffPoint.Lat, b.DropoffPoint.Lng,
		b.PickupCode, b.PickupVerifiedAt, b.DropoffCode, b.DropoffVerifiedAt,
		b.TotalPrice.Amount, b.TotalPrice.Currency, string(b.PaymentStatus), b.RefundAmount.Amount,
		b.IdempotencyKey, b.IsReassignment, nullableID(b.OriginalBookingID), b.CancelReason,
		b.CreatedAt,
	)
	return err
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev BookingEvent) error {
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_events (ride_id, booking_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(ev.RideID), nullableID(ev.BookingID), ev.FromStatus, ev.ToStatus, ev.Actor, ev.Reason, created,
	)
	return err
}

func (s *PgStore) AppendEvents(ctx context.Context, evs []BookingEvent) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, ev := range evs {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) GetBooking(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, string(id))
	return scanBooking(row)
}

func (s *PgStore) FindBookingByKey(ctx context.Context, key string) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE idempotency_key = $1`, key)
	return scanBooking(row)
}

func (s *PgStore) ListBookingsByPassenger(ctx context.Context, passengerID types.ID) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingCols+` FROM bookings
		WHERE passenger_id = $1
		ORDER BY created_at DESC, id`, string(passengerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PgStore) SearchRides(ctx context.Context, q SearchQuery) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideCols+` FROM rides
		WHERE status = $1
		  AND ($2::timestamptz IS NULL OR departure_at >= $2)
		  AND ($3::timestamptz IS NULL OR departure_at <= $3)
		  AND available_seats >= $4
		  AND id <> $5
		  AND driver_id <> $6
		ORDER BY departure_at, id`,
		string(q.Status), nullableTime(q.DepartureFrom), nullableTime(q.DepartureTo),
		q.MinSeats, string(q.ExcludeRide), string(q.ExcludeDriver))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) ListRidesByDriver(ctx context.Context, driverID types.ID) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideCols+` FROM rides
		WHERE driver_id = $1
		ORDER BY departure_at DESC, id`, string(driverID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var stops []byte
	err := row.Scan(
		&r.ID, &r.DriverID, &r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng, &stops,
		&r.DistanceKm, &r.DurationMin, &r.DepartureAt, &r.PricePerSeat.Amount, &r.PricePerSeat.Currency,
		&r.TotalSeats, &r.AvailableSeats, &r.InstantBook, &r.Status, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(stops) > 0 {
		if err := json.Unmarshal(stops, &r.Stops); err != nil {
			return nil, fmt.Errorf("decode stops for ride %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var originalID *string
	err := row.Scan(
		&b.ID, &b.RideID, &b.PassengerID, &b.SeatsBooked, &b.Status,
		&b.PickupPoint.Lat, &b.PickupPoint.Lng, &b.DropoffPoint.Lat, &b.DropoffPoint.Lng,
		&b.PickupCode, &b.PickupVerifiedAt, &b.DropoffCode, &b.DropoffVerifiedAt,
		&b.TotalPrice.Amount, &b.TotalPrice.Currency, &b.PaymentStatus, &b.RefundAmount.Amount,
		&b.IdempotencyKey, &b.IsReassignment, &originalID, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if originalID != nil {
		b.OriginalBookingID = types.ID(*originalID)
	}
	b.RefundAmount.Currency = b.TotalPrice.Currency
	return &b, nil
}

func marshalStops(stops []types.Point) ([]byte, error) {
	if len(stops) == 0 {
		return nil, nil
	}
	return json.Marshal(stops)
}

func nullableID(id types.ID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
