package scanner

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"refill_intensity/align"
	"refill_intensity/config"
	"refill_intensity/logger"
)

// LoadStats counts problems found while reading a table
type LoadStats struct {
	Rows          int
	SkippedBlank  int
	InvalidValues int
}

// columnIndex maps configured header names to positions in a CSV header
type columnIndex struct {
	deviceID, timestamp, refill, intensity int
}

func indexHeader(header []string, cols config.ColumnsConfig) (columnIndex, error) {
	idx := columnIndex{-1, -1, -1, -1}
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case cols.DeviceID:
			idx.deviceID = i
		case cols.Timestamp:
			idx.timestamp = i
		case cols.RefillPercent:
			idx.refill = i
		case cols.Intensity:
			idx.intensity = i
		}
	}

	var missing []string
	if idx.deviceID < 0 {
		missing = append(missing, cols.DeviceID)
	}
	if idx.refill < 0 {
		missing = append(missing, cols.RefillPercent)
	}
	if idx.intensity < 0 {
		missing = append(missing, cols.Intensity)
	}
	if len(missing) > 0 {
		return idx, fmt.Errorf("header is missing column(s): %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseNullable reads an optional numeric cell. Blank and NaN-like cells are
// null
func parseNullable(s string) (*float64, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "na", "n/a":
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LoadTable reads a device readings CSV. The first record must be a header
// naming the configured columns. Unparseable numeric cells are logged and
// treated as null; a row without a device id fails the whole table
func LoadTable(r io.Reader, cols config.ColumnsConfig, source string) (align.Table, LoadStats, error) {
	var stats LoadStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	records, err := reader.ReadAll()
	if err != nil {
		return align.Table{}, stats, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return align.Table{}, stats, fmt.Errorf("empty CSV file")
	}

	idx, err := indexHeader(records[0], cols)
	if err != nil {
		return align.Table{}, stats, err
	}

	rows := make([]align.Row, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		record := records[i]

		// Skip empty rows
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			stats.SkippedBlank++
			continue
		}

		row := align.Row{
			DeviceID:  field(record, idx.deviceID),
			Timestamp: field(record, idx.timestamp),
		}
		if row.DeviceID == "" {
			return align.Table{}, stats, fmt.Errorf("%w: line %d in %s has no %s",
				align.ErrMalformedInput, i+1, source, cols.DeviceID)
		}

		if row.RefillPercent, err = parseNullable(field(record, idx.refill)); err != nil {
			stats.InvalidValues++
			logger.Warnf("Line %d in %s has invalid %s: %s", i+1, source, cols.RefillPercent, field(record, idx.refill))
		}
		if row.Intensity, err = parseNullable(field(record, idx.intensity)); err != nil {
			stats.InvalidValues++
			logger.Warnf("Line %d in %s has invalid %s: %s", i+1, source, cols.Intensity, field(record, idx.intensity))
		}

		rows = append(rows, row)
	}

	stats.Rows = len(rows)
	return align.NewTable(rows), stats, nil
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteTable writes t as CSV in row order. The aligned column is appended
// once it exists; pending cells are written as the sentinel value
func WriteTable(w io.Writer, t align.Table, cols config.ColumnsConfig) error {
	writer := csv.NewWriter(w)

	header := []string{cols.DeviceID, cols.Timestamp, cols.RefillPercent, cols.Intensity}
	if t.HasAligned {
		header = append(header, cols.Aligned)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		record := []string{r.DeviceID, r.Timestamp, formatNullable(r.RefillPercent), formatNullable(r.Intensity)}
		if t.HasAligned {
			record = append(record, r.Aligned.String())
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSummary writes the device summary as CSV sorted by device id
func WriteSummary(w io.Writer, s align.Summary, precision int) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"device_id", "mean_intensity", "refill_rows", "aligned_rows"}); err != nil {
		return err
	}
	for _, id := range s.Devices() {
		d := s[id]
		if err := writer.Write([]string{
			id,
			strconv.FormatFloat(d.MeanIntensity, 'f', precision, 64),
			strconv.Itoa(d.RefillRows),
			strconv.Itoa(d.AlignedRows),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
