package align

// Classification holds per-row boolean masks derived from a table's current
// state. It is computed fresh on every call to Classify and is stamped with
// the table lineage and version it was derived from
type Classification struct {
	Lineage        uint64
	Version        uint64
	MissingAligned []bool
	MissingRefill  []bool
	DeviceBoundary []bool
	SentinelMarked []bool
}

// Len is the number of rows classified
func (c Classification) Len() int { return len(c.MissingRefill) }

// Classify derives the four row masks from t. With legacy set, a Known
// aligned value equal to Sentinel also counts as sentinel-marked
func Classify(t Table, legacy bool) Classification {
	n := len(t.Rows)
	c := Classification{
		Lineage:        t.Lineage,
		Version:        t.Version,
		MissingAligned: make([]bool, n),
		MissingRefill:  make([]bool, n),
		DeviceBoundary: make([]bool, n),
		SentinelMarked: make([]bool, n),
	}
	for i, r := range t.Rows {
		c.MissingAligned[i] = !t.HasAligned || r.Aligned.State == Null
		c.MissingRefill[i] = r.RefillPercent == nil
		c.DeviceBoundary[i] = i == 0 || r.DeviceID != t.Rows[i-1].DeviceID
		c.SentinelMarked[i] = t.HasAligned && isSentinel(r.Aligned, legacy)
	}
	return c
}

func isSentinel(c Cell, legacy bool) bool {
	if c.State == Pending {
		return true
	}
	return legacy && c.State == Known && c.Value == Sentinel
}

// Indices returns the row indices where mask is true
func Indices(mask []bool) []int {
	out := []int{}
	for i, v := range mask {
		if v {
			out = append(out, i)
		}
	}
	return out
}

// Count returns the number of true entries in mask
func Count(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}

// Not returns the negation of mask
func Not(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, v := range mask {
		out[i] = !v
	}
	return out
}

// And returns the element-wise conjunction of a and b, which must have equal
// length
func And(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] && b[i]
	}
	return out
}

// Or returns the element-wise disjunction of a and b
func Or(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] || b[i]
	}
	return out
}
