package filter

import "math"

// Mode selects which tokens get inserted into (and queried against) a
// cell store's bloom filter.
type Mode uint8

const (
	// Disabled means the filter is never built or consulted.
	Disabled Mode = 0
	// Rows inserts row bytes only.
	Rows Mode = 1
	// RowsCols inserts row bytes, plus row||0x00||cfid for every
	// (row, cfid) pair written.
	RowsCols Mode = 2
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "Disabled"
	case Rows:
		return "Rows"
	case RowsCols:
		return "RowsCols"
	default:
		return "Unknown"
	}
}

// RowColToken builds the row||0x00||cfid insertion token used by RowsCols
// mode. The 0x00 separator can't collide with a row byte because rows
// are NUL-free by construction (see package key).
func RowColToken(row []byte, cfid uint8) []byte {
	tok := make([]byte, 0, len(row)+2)
	tok = append(tok, row...)
	tok = append(tok, 0x00, cfid)
	return tok
}

// BitsPerItemForFalsePositiveProbability derives the bits-per-item
// parameter for a target false-positive probability, using the standard
// optimal-bloom-filter relation bits = -log2(p) / ln(2).
func BitsPerItemForFalsePositiveProbability(p float64) int {
	if p <= 0 || p >= 1 {
		return 10 // sane default, matches the builder's own floor
	}
	bits := -math.Log2(p) / math.Ln2
	if bits < 1 {
		bits = 1
	}
	return int(math.Ceil(bits))
}
