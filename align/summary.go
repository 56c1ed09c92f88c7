package align

import (
	"math"
	"sort"
)

// DefaultPrecision is the number of decimals summary means are rounded to
const DefaultPrecision = 2

// DeviceSummary is the aggregated intensity for one device
type DeviceSummary struct {
	DeviceID      string  `json:"device_id"`
	MeanIntensity float64 `json:"mean_intensity"`
	RefillRows    int     `json:"refill_rows"`
	AlignedRows   int     `json:"aligned_rows"`
}

// Summary maps device id to its aggregated intensity. Devices without a
// single aligned refill row are absent
type Summary map[string]DeviceSummary

// Mean returns the rounded mean for a device
func (s Summary) Mean(deviceID string) (float64, bool) {
	d, ok := s[deviceID]
	return d.MeanIntensity, ok
}

// Devices returns the device ids in sorted order
func (s Summary) Devices() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Means flattens the summary to device id -> mean
func (s Summary) Means() map[string]float64 {
	out := make(map[string]float64, len(s))
	for id, d := range s {
		out[id] = d.MeanIntensity
	}
	return out
}

// Summarize groups refill rows by device and averages their Known aligned
// values, rounding to precision decimals with ties to even. Null aligned
// values are skipped and a device left with nothing to average is omitted
func Summarize(t Table, precision int) Summary {
	type acc struct {
		sum           float64
		refill, count int
	}
	groups := make(map[string]*acc)
	for _, r := range t.Rows {
		if r.RefillPercent == nil {
			continue
		}
		g, ok := groups[r.DeviceID]
		if !ok {
			g = &acc{}
			groups[r.DeviceID] = g
		}
		g.refill++
		if r.Aligned.State == Known {
			g.sum += r.Aligned.Value
			g.count++
		}
	}

	out := make(Summary, len(groups))
	for id, g := range groups {
		if g.count == 0 {
			continue
		}
		out[id] = DeviceSummary{
			DeviceID:      id,
			MeanIntensity: round(g.sum/float64(g.count), precision),
			RefillRows:    g.refill,
			AlignedRows:   g.count,
		}
	}
	return out
}

func round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	return math.RoundToEven(v*p) / p
}
