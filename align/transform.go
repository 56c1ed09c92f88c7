package align

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput is returned for rows without a device id
	ErrMalformedInput = errors.New("malformed input")
	// ErrStaleClassification is returned when a transform is handed a
	// classification computed from a different table version
	ErrStaleClassification = errors.New("stale classification")
	// ErrNotSeeded is returned when a transform that needs the aligned
	// column runs before Seed
	ErrNotSeeded = errors.New("aligned column not seeded")
)

// Validate checks that every row carries a device id
func Validate(t Table) error {
	for i, r := range t.Rows {
		if r.DeviceID == "" {
			return fmt.Errorf("%w: row %d has no device_id", ErrMalformedInput, i)
		}
	}
	return nil
}

// Seed adds the aligned column as a verbatim copy of intensity and starts a
// new lineage
func Seed(t Table) Table {
	out := t.clone()
	out.HasAligned = true
	out.Lineage = lineages.Add(1)
	for i := range out.Rows {
		out.Rows[i].Aligned = CellFrom(out.Rows[i].Intensity)
	}
	return out
}

// MarkDeviceStarts sets Pending on every device-boundary row whose aligned
// value is missing, so that fill-forward cannot carry the previous device's
// intensity into this device's leading gap
func MarkDeviceStarts(t Table, c Classification) (Table, error) {
	if err := checkFresh(t, c); err != nil {
		return Table{}, err
	}
	out := t.clone()
	for i := range out.Rows {
		if c.MissingAligned[i] && c.DeviceBoundary[i] {
			out.Rows[i].Aligned = PendingCell()
		}
	}
	return out, nil
}

// FillForward replaces every null aligned cell with the nearest preceding
// non-null cell in the whole column. It does not reset at device boundaries;
// MarkDeviceStarts is what keeps values from crossing devices. Rows before
// the first non-null cell stay null
func FillForward(t Table) (Table, error) {
	if !t.HasAligned {
		return Table{}, ErrNotSeeded
	}
	out := t.clone()
	last := NullCell()
	for i := range out.Rows {
		if out.Rows[i].Aligned.IsNull() {
			out.Rows[i].Aligned = last
			continue
		}
		last = out.Rows[i].Aligned
	}
	return out, nil
}

// Clean nulls the aligned value on rows without a refill measurement and on
// rows still sentinel-marked
func Clean(t Table, c Classification) (Table, error) {
	if err := checkFresh(t, c); err != nil {
		return Table{}, err
	}
	out := t.clone()
	for i := range out.Rows {
		if c.MissingRefill[i] || c.SentinelMarked[i] {
			out.Rows[i].Aligned = NullCell()
		}
	}
	return out, nil
}

func checkFresh(t Table, c Classification) error {
	if !t.HasAligned {
		return ErrNotSeeded
	}
	if c.Lineage != t.Lineage {
		return fmt.Errorf("%w: classified lineage %d, table lineage %d",
			ErrStaleClassification, c.Lineage, t.Lineage)
	}
	if c.Version != t.Version || c.Len() != t.Len() {
		return fmt.Errorf("%w: classified version %d, table version %d",
			ErrStaleClassification, c.Version, t.Version)
	}
	return nil
}
