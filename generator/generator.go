package generator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"refill_intensity/align"
)

// reading is a compact literal form used to spell out the worked example.
// Negative values mean "not measured"
type reading struct {
	refill    float64
	intensity float64
}

const none = -1

// WorkedExample returns the 40-row, three-device reference table. DSN_001 and
// DSN_002 start without an intensity reading; DSN_003 starts with one
func WorkedExample() align.Table {
	devices := []struct {
		id       string
		readings []reading
	}{
		{"DSN_001", []reading{
			{none, none}, {none, none}, {95, none}, {none, none}, {none, none},
			{none, 8}, {88, none}, {85, none}, {none, none}, {none, none},
			{none, none}, {none, none}, {none, 7}, {70, none}, {66, none},
		}},
		{"DSN_002", []reading{
			{none, none}, {none, none}, {92, none}, {none, none}, {none, none},
			{none, none}, {81, 6}, {none, none}, {none, none}, {none, none},
			{none, 5}, {none, none}, {60, none}, {55, none}, {51, none},
		}},
		{"DSN_003", []reading{
			{none, 9}, {97, none}, {none, none}, {none, none}, {none, none},
			{none, none}, {74, none}, {none, 10}, {62, none}, {58, none},
		}},
	}

	start := time.Date(2022, 7, 1, 8, 0, 0, 0, time.UTC)
	var rows []align.Row
	for _, d := range devices {
		for i, r := range d.readings {
			rows = append(rows, align.Row{
				DeviceID:      d.id,
				Timestamp:     start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
				RefillPercent: optional(r.refill),
				Intensity:     optional(r.intensity),
			})
		}
	}
	return align.NewTable(rows)
}

func optional(v float64) *float64 {
	if v < 0 {
		return nil
	}
	return align.Float64(v)
}

// SyntheticConfig shapes a generated multi-device table
type SyntheticConfig struct {
	Devices       int
	RowsPerDevice int
	// RefillRate and IntensityRate are the probabilities that a row carries
	// each measurement
	RefillRate    float64
	IntensityRate float64
	Seed          int64
}

// DefaultSyntheticConfig returns a mid-sized table shape
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Devices:       5,
		RowsPerDevice: 200,
		RefillRate:    0.3,
		IntensityRate: 0.1,
		Seed:          1,
	}
}

// Synthetic generates a table of intermittent readings for several devices.
// Each device draws intensities from its own band so values leaking across
// devices would be visible
func Synthetic(cfg SyntheticConfig) align.Table {
	rng := rand.New(rand.NewSource(cfg.Seed))
	start := time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)

	var rows []align.Row
	for d := 0; d < cfg.Devices; d++ {
		id := fmt.Sprintf("DSN_%03d", d+1)
		band := float64(d * 10)
		level := 100.0
		for i := 0; i < cfg.RowsPerDevice; i++ {
			row := align.Row{
				DeviceID:  id,
				Timestamp: start.Add(time.Duration(i) * 5 * time.Minute).Format(time.RFC3339),
			}
			if rng.Float64() < cfg.RefillRate {
				level = math.Max(0, level-rng.Float64()*3)
				row.RefillPercent = align.Float64(math.Round(level*100) / 100)
			}
			if rng.Float64() < cfg.IntensityRate {
				row.Intensity = align.Float64(band + 1 + float64(rng.Intn(9)))
			}
			rows = append(rows, row)
		}
	}
	return align.NewTable(rows)
}
