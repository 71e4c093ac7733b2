// README: Common money value object used across modules.
package types

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// MulSeats scales a per-seat price by a seat count.
func (m Money) MulSeats(seats int) Money {
	return Money{Amount: m.Amount * int64(seats), Currency: m.Currency}
}
