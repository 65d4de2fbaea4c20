// Package datefmt renders backend timestamps as short labels for chat lists
// and message timelines. Nothing in here returns an error: input that does
// not match a known shape is handed back unchanged.
package datefmt

import "time"

// Shape identifies which timestamp layout a string matched.
type Shape int

const (
	ShapeUnparsed Shape = iota
	ShapeISO            // YYYY-MM-DD HH:MM:SS
	ShapeDotted         // DD.MM.YYYY HH:MM:SS
)

// Single-digit day, month and hour are accepted.
const (
	layoutISO    = "2006-1-2 15:04:05"
	layoutDotted = "2.1.2006 15:04:05"
)

// Timestamp is the result of Parse.
type Timestamp struct {
	Shape Shape
	Time  time.Time
	Raw   string
}

// Parsed reports whether the input matched one of the known shapes.
func (t Timestamp) Parsed() bool {
	return t.Shape != ShapeUnparsed
}

// Parse tries the ISO shape, then the dotted shape, interpreting the wall
// clock in loc. A nil loc means time.Local.
func Parse(s string, loc *time.Location) Timestamp {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(layoutISO, s, loc); err == nil {
		return Timestamp{Shape: ShapeISO, Time: t, Raw: s}
	}
	if t, err := time.ParseInLocation(layoutDotted, s, loc); err == nil {
		return Timestamp{Shape: ShapeDotted, Time: t, Raw: s}
	}
	return Timestamp{Shape: ShapeUnparsed, Raw: s}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
