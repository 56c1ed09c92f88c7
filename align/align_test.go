package align_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refill_intensity/align"
	"refill_intensity/generator"
)

var testDevices = []string{"DSN_001", "DSN_002", "DSN_003"}

// rendered returns the numeric rendering of the aligned column for one
// device, with null cells as -1 so the result can be compared as a slice
func rendered(t align.Table, deviceID string) []float64 {
	var out []float64
	for _, r := range t.Rows {
		if r.DeviceID != deviceID {
			continue
		}
		v, ok := r.Aligned.Float()
		if !ok {
			v = -1
		}
		out = append(out, v)
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func runExample(t *testing.T) *align.Result {
	t.Helper()
	res, err := align.New(align.DefaultOptions(), nil).Run(generator.WorkedExample())
	require.NoError(t, err)
	return res
}

func TestWorkedExampleShape(t *testing.T) {
	tbl := generator.WorkedExample()
	assert.Equal(t, 40, tbl.Len())
	assert.Equal(t, testDevices, tbl.DeviceIDs())
	assert.False(t, tbl.HasAligned)
}

func TestSeedCopiesIntensity(t *testing.T) {
	tbl := generator.WorkedExample()
	seeded := align.Seed(tbl)

	require.True(t, seeded.HasAligned)
	for i, r := range seeded.Rows {
		assert.Equal(t, align.CellFrom(r.Intensity), r.Aligned, "row %d", i)
	}
}

func TestClassifyInitial(t *testing.T) {
	seeded := align.Seed(generator.WorkedExample())
	c := align.Classify(seeded, false)

	assert.Equal(t, 14, align.Count(align.Not(c.MissingRefill)))
	assert.Equal(t, 6, align.Count(align.Not(c.MissingAligned)))
	assert.Equal(t, []int{0, 15, 30}, align.Indices(c.DeviceBoundary))
	assert.Empty(t, align.Indices(c.SentinelMarked))
}

func TestClassifyIsIdempotent(t *testing.T) {
	res := runExample(t)
	for _, tbl := range []align.Table{res.Seeded, res.Marked, res.Filled, res.Cleaned} {
		first := align.Classify(tbl, false)
		second := align.Classify(tbl, false)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("classification changed between calls (-first +second):\n%s", diff)
		}
	}
}

func TestClassifyEmptyTable(t *testing.T) {
	c := align.Classify(align.Seed(align.NewTable(nil)), false)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, align.Indices(c.DeviceBoundary))
}

func TestMarkDeviceStarts(t *testing.T) {
	res := runExample(t)

	var boundary []float64
	for _, i := range align.Indices(res.Initial.DeviceBoundary) {
		v, ok := res.Marked.Rows[i].Aligned.Float()
		require.True(t, ok, "row %d", i)
		boundary = append(boundary, v)
	}
	assert.Equal(t, []float64{999, 999, 9}, boundary)
	assert.Equal(t, align.Pending, res.Marked.Rows[0].Aligned.State)
	assert.Equal(t, align.Pending, res.Marked.Rows[15].Aligned.State)
	assert.Equal(t, align.Known, res.Marked.Rows[30].Aligned.State)
}

func TestFillForward(t *testing.T) {
	res := runExample(t)

	// DSN_003 starts with a reading, so it never carries a sentinel
	expected := map[string][]float64{
		"DSN_001": concat(repeat(999, 5), repeat(8, 7), repeat(7, 3)),
		"DSN_002": concat(repeat(999, 6), repeat(6, 4), repeat(5, 5)),
		"DSN_003": concat(repeat(9, 7), repeat(10, 3)),
	}
	for _, dev := range testDevices {
		if diff := cmp.Diff(expected[dev], rendered(res.Filled, dev)); diff != "" {
			t.Errorf("%s filled column mismatch (-want +got):\n%s", dev, diff)
		}
	}
}

func TestFillForwardLeavesLeadingNulls(t *testing.T) {
	tbl := align.Seed(align.NewTable([]align.Row{
		{DeviceID: "A"},
		{DeviceID: "A"},
		{DeviceID: "A", Intensity: align.Float64(3)},
		{DeviceID: "A"},
	}))
	filled, err := align.FillForward(tbl)
	require.NoError(t, err)

	assert.Equal(t, []align.Cell{
		align.NullCell(), align.NullCell(), align.KnownCell(3), align.KnownCell(3),
	}, filled.AlignedColumn())
}

func TestFinalClassificationSentinelRows(t *testing.T) {
	res := runExample(t)
	assert.Equal(t,
		[]int{0, 1, 2, 3, 4, 15, 16, 17, 18, 19, 20},
		align.Indices(res.Final.SentinelMarked))
}

func TestClean(t *testing.T) {
	res := runExample(t)

	var populated []int
	for i, r := range res.Cleaned.Rows {
		if !r.Aligned.IsNull() {
			populated = append(populated, i)
		}
	}
	assert.Equal(t, []int{6, 7, 13, 14, 21, 27, 28, 29, 31, 36, 38, 39}, populated)
}

func TestSummary(t *testing.T) {
	res := runExample(t)

	assert.Equal(t, map[string]float64{
		"DSN_001": 7.5,
		"DSN_002": 5.25,
		"DSN_003": 9.5,
	}, res.Summary.Means())
	assert.Equal(t, testDevices, res.Summary.Devices())

	d := res.Summary["DSN_001"]
	assert.Equal(t, 5, d.RefillRows)
	assert.Equal(t, 4, d.AlignedRows)
}

func TestSummaryExcludesDevicesWithoutRefills(t *testing.T) {
	tbl := align.NewTable([]align.Row{
		{DeviceID: "A", Intensity: align.Float64(4)},
		{DeviceID: "A", RefillPercent: align.Float64(90)},
		{DeviceID: "B", Intensity: align.Float64(6)},
		{DeviceID: "B"},
		{DeviceID: "C", RefillPercent: align.Float64(80)},
	})
	res, err := align.New(align.DefaultOptions(), nil).Run(tbl)
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"A": 4}, res.Summary.Means())
	_, ok := res.Summary.Mean("B")
	assert.False(t, ok, "device without refill rows must be absent")
	_, ok = res.Summary.Mean("C")
	assert.False(t, ok, "device without a known intensity must be absent")
}

func TestSummaryRounding(t *testing.T) {
	tbl := align.Table{HasAligned: true, Rows: []align.Row{
		{DeviceID: "A", RefillPercent: align.Float64(1), Aligned: align.KnownCell(1)},
		{DeviceID: "A", RefillPercent: align.Float64(1), Aligned: align.KnownCell(2)},
		{DeviceID: "A", RefillPercent: align.Float64(1), Aligned: align.KnownCell(2)},
	}}
	assert.Equal(t, 1.67, align.Summarize(tbl, 2)["A"].MeanIntensity)
	assert.Equal(t, 1.7, align.Summarize(tbl, 1)["A"].MeanIntensity)

	// 5.125 sits exactly between 5.12 and 5.13
	tie := align.Table{HasAligned: true, Rows: []align.Row{
		{DeviceID: "B", RefillPercent: align.Float64(1), Aligned: align.KnownCell(5)},
		{DeviceID: "B", RefillPercent: align.Float64(1), Aligned: align.KnownCell(5.25)},
	}}
	assert.Equal(t, 5.12, align.Summarize(tie, 2)["B"].MeanIntensity)
	assert.Equal(t, 5.1, align.Summarize(tie, 1)["B"].MeanIntensity)
}

func TestOrderPreserved(t *testing.T) {
	input := generator.Synthetic(generator.DefaultSyntheticConfig())
	res, err := align.New(align.DefaultOptions(), nil).Run(input)
	require.NoError(t, err)

	for _, stage := range []align.Table{res.Seeded, res.Marked, res.Filled, res.Cleaned} {
		require.Equal(t, input.Len(), stage.Len())
		for i := range input.Rows {
			assert.Equal(t, input.Rows[i].DeviceID, stage.Rows[i].DeviceID)
			assert.Equal(t, input.Rows[i].Timestamp, stage.Rows[i].Timestamp)
		}
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	input := generator.WorkedExample()
	before := align.NewTable(input.Rows)

	_, err := align.New(align.DefaultOptions(), nil).Run(input)
	require.NoError(t, err)

	assert.Equal(t, before.Rows, input.Rows)
	assert.False(t, input.HasAligned)
}

func TestNoCrossDeviceBleed(t *testing.T) {
	// A ends on a very high intensity; B has a long leading gap before its
	// first reading
	rows := []align.Row{
		{DeviceID: "A", Intensity: align.Float64(2)},
		{DeviceID: "A", RefillPercent: align.Float64(90)},
		{DeviceID: "A", Intensity: align.Float64(500)},
		{DeviceID: "A", RefillPercent: align.Float64(80)},
		{DeviceID: "B", RefillPercent: align.Float64(99)},
		{DeviceID: "B"},
		{DeviceID: "B", RefillPercent: align.Float64(97)},
		{DeviceID: "B", Intensity: align.Float64(1)},
		{DeviceID: "B", RefillPercent: align.Float64(95)},
	}
	res, err := align.New(align.DefaultOptions(), nil).Run(align.NewTable(rows))
	require.NoError(t, err)

	for i, r := range res.Cleaned.Rows {
		if r.DeviceID == "B" && r.Aligned.State == align.Known {
			assert.NotEqual(t, 500.0, r.Aligned.Value, "row %d carries device A's value", i)
		}
	}
	assert.True(t, res.Cleaned.Rows[4].Aligned.IsNull())
	assert.True(t, res.Cleaned.Rows[6].Aligned.IsNull())
	assert.Equal(t, align.KnownCell(1), res.Cleaned.Rows[8].Aligned)
	assert.Equal(t, align.KnownCell(500), res.Cleaned.Rows[3].Aligned)
}

func TestNoCrossDeviceBleedSynthetic(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		cfg := generator.DefaultSyntheticConfig()
		cfg.Seed = seed
		res, err := align.New(align.DefaultOptions(), nil).Run(generator.Synthetic(cfg))
		require.NoError(t, err)

		// Every known aligned value must have been reported earlier by the
		// same device
		seen := make(map[string]map[float64]bool)
		for i, r := range res.Input.Rows {
			if r.Intensity != nil {
				if seen[r.DeviceID] == nil {
					seen[r.DeviceID] = make(map[float64]bool)
				}
				seen[r.DeviceID][*r.Intensity] = true
			}
			cell := res.Cleaned.Rows[i].Aligned
			if cell.State == align.Known {
				assert.True(t, seen[r.DeviceID][cell.Value],
					"seed %d row %d: %v not reported by %s before", seed, i, cell.Value, r.DeviceID)
			}
		}
	}
}

func TestNullCleanPostcondition(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		cfg := generator.DefaultSyntheticConfig()
		cfg.Seed = seed
		res, err := align.New(align.DefaultOptions(), nil).Run(generator.Synthetic(cfg))
		require.NoError(t, err)

		for i, r := range res.Cleaned.Rows {
			if r.Aligned.IsNull() {
				continue
			}
			assert.NotNil(t, r.RefillPercent, "seed %d row %d", seed, i)
			assert.False(t, res.Final.SentinelMarked[i], "seed %d row %d", seed, i)
			assert.Equal(t, align.Known, r.Aligned.State, "seed %d row %d", seed, i)
		}
	}
}

func TestStaleClassificationRejected(t *testing.T) {
	seeded := align.Seed(generator.WorkedExample())
	c := align.Classify(seeded, false)

	marked, err := align.MarkDeviceStarts(seeded, c)
	require.NoError(t, err)
	filled, err := align.FillForward(marked)
	require.NoError(t, err)

	_, err = align.Clean(filled, c)
	assert.True(t, errors.Is(err, align.ErrStaleClassification))
}

func TestClassificationFromOtherTableRejected(t *testing.T) {
	a := align.Seed(generator.WorkedExample())
	b := align.Seed(generator.Synthetic(generator.DefaultSyntheticConfig()))
	require.Equal(t, a.Version, b.Version)
	require.NotEqual(t, a.Lineage, b.Lineage)

	_, err := align.MarkDeviceStarts(b, align.Classify(a, false))
	assert.ErrorIs(t, err, align.ErrStaleClassification)

	// Same rows, seeded twice: still two lineages
	again := align.Seed(generator.WorkedExample())
	_, err = align.Clean(again, align.Classify(a, false))
	assert.ErrorIs(t, err, align.ErrStaleClassification)
}

func TestTransformsRequireSeed(t *testing.T) {
	tbl := generator.WorkedExample()
	_, err := align.FillForward(tbl)
	assert.ErrorIs(t, err, align.ErrNotSeeded)

	_, err = align.MarkDeviceStarts(tbl, align.Classify(tbl, false))
	assert.ErrorIs(t, err, align.ErrNotSeeded)
}

func TestMalformedInput(t *testing.T) {
	tbl := align.NewTable([]align.Row{
		{DeviceID: "A", RefillPercent: align.Float64(10)},
		{DeviceID: "", Intensity: align.Float64(3)},
	})
	_, err := align.New(align.DefaultOptions(), nil).Run(tbl)
	require.Error(t, err)
	assert.ErrorIs(t, err, align.ErrMalformedInput)
	assert.Contains(t, err.Error(), "row 1")
}

func TestEmptyTable(t *testing.T) {
	res, err := align.New(align.DefaultOptions(), nil).Run(align.NewTable(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Cleaned.Len())
	assert.Empty(t, res.Summary)
}

func sentinelTable() align.Table {
	return align.NewTable([]align.Row{
		{DeviceID: "A", Intensity: align.Float64(align.Sentinel)},
		{DeviceID: "A", RefillPercent: align.Float64(50)},
	})
}

func TestSentinelCollisionPreservedByDefault(t *testing.T) {
	res, err := align.New(align.DefaultOptions(), nil).Run(sentinelTable())
	require.NoError(t, err)

	assert.Equal(t, []align.Collision{{Row: 0, DeviceID: "A"}}, res.Collisions)
	assert.Equal(t, align.KnownCell(align.Sentinel), res.Cleaned.Rows[1].Aligned)
	assert.Equal(t, map[string]float64{"A": 999}, res.Summary.Means())
}

func TestSentinelCollisionLegacyMode(t *testing.T) {
	opts := align.DefaultOptions()
	opts.LegacySentinel = true
	res, err := align.New(opts, nil).Run(sentinelTable())
	require.NoError(t, err)

	assert.Len(t, res.Collisions, 1)
	assert.True(t, res.Cleaned.Rows[1].Aligned.IsNull())
	assert.Empty(t, res.Summary)
}

// A mid-device 999 followed by refill rows with no reading of their own
func filledSentinelTable() align.Table {
	return align.NewTable([]align.Row{
		{DeviceID: "A", RefillPercent: align.Float64(40), Intensity: align.Float64(5)},
		{DeviceID: "A", Intensity: align.Float64(align.Sentinel)},
		{DeviceID: "A", RefillPercent: align.Float64(60)},
		{DeviceID: "A", RefillPercent: align.Float64(80)},
	})
}

func TestLegacySentinelNullsFilledCopies(t *testing.T) {
	opts := align.DefaultOptions()
	opts.LegacySentinel = true
	res, err := align.New(opts, nil).Run(filledSentinelTable())
	require.NoError(t, err)

	assert.Equal(t, []align.Collision{{Row: 1, DeviceID: "A"}}, res.Collisions)
	assert.Equal(t, []float64{5, 999, 999, 999}, rendered(res.Filled, "A"))
	assert.Equal(t, []int{1, 2, 3}, align.Indices(res.Final.SentinelMarked))
	assert.Equal(t, []float64{5, -1, -1, -1}, rendered(res.Cleaned, "A"))
	assert.Equal(t, align.DeviceSummary{DeviceID: "A", MeanIntensity: 5, RefillRows: 3, AlignedRows: 1},
		res.Summary["A"])
}

func TestDefaultModeKeepsFilledSentinelValue(t *testing.T) {
	res, err := align.New(align.DefaultOptions(), nil).Run(filledSentinelTable())
	require.NoError(t, err)

	assert.Empty(t, align.Indices(res.Final.SentinelMarked))
	assert.Equal(t, []float64{5, -1, 999, 999}, rendered(res.Cleaned, "A"))
}

func TestStageLookup(t *testing.T) {
	res := runExample(t)

	for _, name := range []string{"input", "seeded", "marked", "filled", "cleaned"} {
		_, err := res.Stage(name)
		assert.NoError(t, err, name)
	}
	_, err := res.Stage("bogus")
	assert.Error(t, err)
}

func TestCellRendering(t *testing.T) {
	assert.Equal(t, "", align.NullCell().String())
	assert.Equal(t, "999", align.PendingCell().String())
	assert.Equal(t, "7.25", align.KnownCell(7.25).String())
	assert.Nil(t, align.NullCell().Ptr())
	assert.Equal(t, 999.0, *align.PendingCell().Ptr())
}
