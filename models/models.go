package models

import (
	"time"
)

// AlignmentRun records one execution of the alignment pipeline over a table
type AlignmentRun struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Source         string    `gorm:"not null;size:1024" json:"source"`
	RowCount       int       `gorm:"not null" json:"row_count"`
	DeviceCount    int       `gorm:"not null" json:"device_count"`
	CollisionCount int       `gorm:"not null;default:0" json:"collision_count"`
	LegacySentinel bool      `gorm:"not null;default:false" json:"legacy_sentinel"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`

	Readings  []AlignedReading         `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"-"`
	Summaries []DeviceIntensitySummary `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"summaries,omitempty"`
}

// TableName customizes the table name
func (AlignmentRun) TableName() string {
	return "alignment_runs"
}

// AlignedReading is one row of the cleaned table
type AlignedReading struct {
	ID               uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID            string   `gorm:"uniqueIndex:idx_run_row;not null;size:36" json:"run_id"`
	RowIndex         int      `gorm:"uniqueIndex:idx_run_row;not null" json:"row_index"`
	DeviceID         string   `gorm:"index;not null;size:255" json:"device_id"`
	Timestamp        string   `gorm:"size:64" json:"timestamp"`
	RefillPercent    *float64 `json:"refill_percent"`
	Intensity        *float64 `json:"intensity"`
	IntensityAligned *float64 `json:"intensity_aligned"`
}

// TableName customizes the table name
func (AlignedReading) TableName() string {
	return "aligned_readings"
}

// DeviceIntensitySummary is the rounded mean aligned intensity of a device
type DeviceIntensitySummary struct {
	ID            uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID         string  `gorm:"uniqueIndex:idx_run_device;not null;size:36" json:"run_id"`
	DeviceID      string  `gorm:"uniqueIndex:idx_run_device;not null;size:255" json:"device_id"`
	MeanIntensity float64 `gorm:"not null" json:"mean_intensity"`
	RefillRows    int     `gorm:"not null" json:"refill_rows"`
	AlignedRows   int     `gorm:"not null" json:"aligned_rows"`
}

// TableName customizes the table name
func (DeviceIntensitySummary) TableName() string {
	return "device_intensity_summaries"
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&AlignmentRun{},
		&AlignedReading{},
		&DeviceIntensitySummary{},
	}
}
