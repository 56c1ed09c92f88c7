// Package align attributes the most recent known intensity of a device to
// each of its refill rows and summarizes the result per device.
//
// The pipeline is strictly linear: seed, classify, mark device starts,
// fill forward, classify again, clean, summarize. Every step returns a new
// Table so each stage can be inspected on its own
package align

import (
	"fmt"

	"go.uber.org/zap"
)

// Options tunes an Aligner
type Options struct {
	// Precision is the number of decimals summary means are rounded to
	Precision int
	// LegacySentinel treats a genuine intensity of 999.0 as the sentinel,
	// nulling it during cleanup like older exports did
	LegacySentinel bool
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{Precision: DefaultPrecision}
}

// Collision is an input row whose real intensity equals Sentinel
type Collision struct {
	Row      int
	DeviceID string
}

// Result carries every intermediate stage of a run
type Result struct {
	Input   Table
	Seeded  Table
	Marked  Table
	Filled  Table
	Cleaned Table

	// Initial is the classification taken right after seeding, Final the
	// one taken after fill-forward and used for cleanup
	Initial Classification
	Final   Classification

	Summary    Summary
	Collisions []Collision
}

// Stage returns an intermediate table by name: input, seeded, marked,
// filled or cleaned
func (r *Result) Stage(name string) (Table, error) {
	switch name {
	case "input":
		return r.Input, nil
	case "seeded":
		return r.Seeded, nil
	case "marked":
		return r.Marked, nil
	case "filled":
		return r.Filled, nil
	case "cleaned", "":
		return r.Cleaned, nil
	default:
		return Table{}, fmt.Errorf("unknown stage %q", name)
	}
}

// Aligner runs the alignment pipeline
type Aligner struct {
	opts Options
	log  *zap.Logger
}

// New creates an Aligner. A nil logger disables logging
func New(opts Options, log *zap.Logger) *Aligner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aligner{opts: opts, log: log}
}

// Classify computes row masks with the aligner's sentinel mode
func (a *Aligner) Classify(t Table) Classification {
	return Classify(t, a.opts.LegacySentinel)
}

// Run executes the full pipeline over t. The input table is not modified.
// An empty table yields an empty result and no error
func (a *Aligner) Run(t Table) (*Result, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}

	res := &Result{Input: t}
	res.Collisions = findCollisions(t)
	for _, c := range res.Collisions {
		a.log.Warn("intensity equals reserved sentinel value",
			zap.Int("row", c.Row),
			zap.String("device_id", c.DeviceID),
			zap.Float64("sentinel", Sentinel),
			zap.Bool("legacy_sentinel", a.opts.LegacySentinel))
	}

	var err error
	res.Seeded = Seed(t)
	res.Initial = a.Classify(res.Seeded)

	if res.Marked, err = MarkDeviceStarts(res.Seeded, res.Initial); err != nil {
		return nil, fmt.Errorf("mark device starts: %w", err)
	}
	if res.Filled, err = FillForward(res.Marked); err != nil {
		return nil, fmt.Errorf("fill forward: %w", err)
	}

	res.Final = a.Classify(res.Filled)
	if res.Cleaned, err = Clean(res.Filled, res.Final); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}

	res.Summary = Summarize(res.Cleaned, a.opts.Precision)

	a.log.Debug("alignment complete",
		zap.Int("rows", t.Len()),
		zap.Int("device_boundaries", Count(res.Initial.DeviceBoundary)),
		zap.Int("refill_rows", Count(Not(res.Final.MissingRefill))),
		zap.Int("sentinel_rows", Count(res.Final.SentinelMarked)),
		zap.Int("devices_summarized", len(res.Summary)))

	return res, nil
}

func findCollisions(t Table) []Collision {
	var out []Collision
	for i, r := range t.Rows {
		if r.Intensity != nil && *r.Intensity == Sentinel {
			out = append(out, Collision{Row: i, DeviceID: r.DeviceID})
		}
	}
	return out
}
