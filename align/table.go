package align

import (
	"math"
	"strconv"
	"sync/atomic"
)

// Sentinel is the numeric rendering of a Pending cell. Consumers of the
// exported table have always seen this value on device-start rows whose
// intensity was not yet known
const Sentinel = 999.0

// State tells whether a Cell holds nothing, a real value, or the
// "unknown at device start" marker
type State uint8

const (
	Null State = iota
	Known
	Pending
)

func (s State) String() string {
	switch s {
	case Known:
		return "known"
	case Pending:
		return "pending"
	default:
		return "null"
	}
}

// Cell is one intensity_aligned value
type Cell struct {
	State State
	Value float64
}

func NullCell() Cell           { return Cell{} }
func KnownCell(v float64) Cell { return Cell{State: Known, Value: v} }
func PendingCell() Cell        { return Cell{State: Pending} }

// CellFrom converts a nullable float into a Null or Known cell
func CellFrom(v *float64) Cell {
	if v == nil {
		return NullCell()
	}
	return KnownCell(*v)
}

func (c Cell) IsNull() bool { return c.State == Null }

// Float renders the cell numerically. Pending renders as Sentinel
func (c Cell) Float() (float64, bool) {
	switch c.State {
	case Known:
		return c.Value, true
	case Pending:
		return Sentinel, true
	default:
		return math.NaN(), false
	}
}

// Ptr is Float as a nullable pointer, for persistence
func (c Cell) Ptr() *float64 {
	v, ok := c.Float()
	if !ok {
		return nil
	}
	return &v
}

// String renders the cell the way it is written to CSV: empty for null
func (c Cell) String() string {
	v, ok := c.Float()
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Row is one time-ordered device reading
type Row struct {
	DeviceID      string
	Timestamp     string
	RefillPercent *float64
	Intensity     *float64
	Aligned       Cell
}

// Table is an ordered sequence of rows. Row order encodes event order and is
// never permuted by any transform in this package
type Table struct {
	Rows []Row
	// HasAligned is false until Seed adds the aligned column
	HasAligned bool
	// Version increases with every transform applied to the table
	Version uint64
	// Lineage is assigned by Seed and carried by every later transform, so
	// tables seeded from different inputs never share it
	Lineage uint64
}

var lineages atomic.Uint64

// NewTable builds a table from rows. The slice is copied
func NewTable(rows []Row) Table {
	return Table{Rows: append([]Row(nil), rows...)}
}

func (t Table) Len() int { return len(t.Rows) }

// clone returns a deep copy with the version bumped, ready to be mutated by a
// transform
func (t Table) clone() Table {
	out := Table{
		Rows:       make([]Row, len(t.Rows)),
		HasAligned: t.HasAligned,
		Version:    t.Version + 1,
		Lineage:    t.Lineage,
	}
	for i, r := range t.Rows {
		r.RefillPercent = copyFloat(r.RefillPercent)
		r.Intensity = copyFloat(r.Intensity)
		out.Rows[i] = r
	}
	return out
}

// AlignedColumn returns the aligned cells in row order
func (t Table) AlignedColumn() []Cell {
	out := make([]Cell, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Aligned
	}
	return out
}

// DeviceIDs returns distinct device ids in first-seen order
func (t Table) DeviceIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range t.Rows {
		if !seen[r.DeviceID] {
			seen[r.DeviceID] = true
			ids = append(ids, r.DeviceID)
		}
	}
	return ids
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float64 returns a pointer to v. Handy for building tables by hand
func Float64(v float64) *float64 { return &v }
