// README: Shared identifier and geo types used across modules.
package types

// ID is a 32-char hex entity identifier.
type ID string

func (id ID) String() string { return string(id) }

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Zero reports whether the point was left unset.
func (p Point) Zero() bool { return p.Lat == 0 && p.Lng == 0 }
