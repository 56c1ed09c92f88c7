package database

import (
	"fmt"

	"refill_intensity/align"
	"refill_intensity/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const readingBatchSize = 1000

// Store persists alignment results
type Store struct {
	db *gorm.DB
}

// NewStore creates a store on top of an open connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveRun writes the cleaned table and the device summary of a run in a
// single transaction and returns the stored run
func (s *Store) SaveRun(source string, res *align.Result, legacySentinel bool) (*models.AlignmentRun, error) {
	run := &models.AlignmentRun{
		ID:             uuid.NewString(),
		Source:         source,
		RowCount:       res.Cleaned.Len(),
		DeviceCount:    len(res.Input.DeviceIDs()),
		CollisionCount: len(res.Collisions),
		LegacySentinel: legacySentinel,
	}

	readings := make([]models.AlignedReading, 0, res.Cleaned.Len())
	for i, r := range res.Cleaned.Rows {
		readings = append(readings, models.AlignedReading{
			RunID:            run.ID,
			RowIndex:         i,
			DeviceID:         r.DeviceID,
			Timestamp:        r.Timestamp,
			RefillPercent:    r.RefillPercent,
			Intensity:        r.Intensity,
			IntensityAligned: r.Aligned.Ptr(),
		})
	}

	summaries := make([]models.DeviceIntensitySummary, 0, len(res.Summary))
	for _, id := range res.Summary.Devices() {
		d := res.Summary[id]
		summaries = append(summaries, models.DeviceIntensitySummary{
			RunID:         run.ID,
			DeviceID:      id,
			MeanIntensity: d.MeanIntensity,
			RefillRows:    d.RefillRows,
			AlignedRows:   d.AlignedRows,
		})
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		if len(readings) > 0 {
			if err := tx.CreateInBatches(readings, readingBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert aligned readings: %w", err)
			}
		}
		if len(summaries) > 0 {
			if err := tx.Create(&summaries).Error; err != nil {
				return fmt.Errorf("failed to insert device summaries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	run.Summaries = summaries
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(limit int) ([]models.AlignmentRun, error) {
	var runs []models.AlignmentRun
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads a run with its device summaries. An empty id selects the
// most recent run
func (s *Store) GetRun(id string) (*models.AlignmentRun, error) {
	var run models.AlignmentRun
	q := s.db.Preload("Summaries", func(db *gorm.DB) *gorm.DB {
		return db.Order("device_id ASC")
	})
	var err error
	if id == "" {
		err = q.Order("created_at DESC").First(&run).Error
	} else {
		err = q.First(&run, "id = ?", id).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %q: %w", id, err)
	}
	return &run, nil
}

// GetReadings returns the stored cleaned rows of a run in original order
func (s *Store) GetReadings(runID string) ([]models.AlignedReading, error) {
	var readings []models.AlignedReading
	err := s.db.Where("run_id = ?", runID).Order("row_index ASC").Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load readings for run %s: %w", runID, err)
	}
	return readings, nil
}
