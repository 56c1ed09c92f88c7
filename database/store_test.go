package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"refill_intensity/align"
	"refill_intensity/config"
	"refill_intensity/generator"
)

func openTestDB(t *testing.T) (*gorm.DB, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "results.db")
	cfg.Migration.Directory = filepath.Join(t.TempDir(), "migrations")

	db, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close() })

	require.NoError(t, AutoMigrate(db))
	return db, cfg
}

func TestSaveRunRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)

	res, err := align.New(align.DefaultOptions(), nil).Run(generator.WorkedExample())
	require.NoError(t, err)

	run, err := store.SaveRun("devices.csv", res, false)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, 40, run.RowCount)
	assert.Equal(t, 3, run.DeviceCount)

	loaded, err := store.GetRun(run.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Summaries, 3)
	got := map[string]float64{}
	for _, s := range loaded.Summaries {
		got[s.DeviceID] = s.MeanIntensity
	}
	assert.Equal(t, map[string]float64{"DSN_001": 7.5, "DSN_002": 5.25, "DSN_003": 9.5}, got)

	readings, err := store.GetReadings(run.ID)
	require.NoError(t, err)
	require.Len(t, readings, 40)
	var populated []int
	for _, r := range readings {
		if r.IntensityAligned != nil {
			populated = append(populated, r.RowIndex)
		}
	}
	assert.Equal(t, []int{6, 7, 13, 14, 21, 27, 28, 29, 31, 36, 38, 39}, populated)
	assert.Equal(t, 8.0, *readings[6].IntensityAligned)
	assert.Nil(t, readings[0].RefillPercent)
}

func TestListRuns(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)

	res, err := align.New(align.DefaultOptions(), nil).Run(generator.WorkedExample())
	require.NoError(t, err)
	for _, src := range []string{"a.csv", "b.csv"} {
		_, err := store.SaveRun(src, res, false)
		require.NoError(t, err)
	}

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGetRunUnknown(t *testing.T) {
	db, _ := openTestDB(t)
	_, err := NewStore(db).GetRun("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMigrationRunner(t *testing.T) {
	db, cfg := openTestDB(t)
	runner := NewMigrationRunner(db, cfg)

	path, err := runner.CreateMigration("Add device index")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path,
		[]byte("CREATE INDEX idx_readings_device_run ON aligned_readings (device_id, run_id);"), 0644))

	pending, err := runner.GetPendingMigrations()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "add device index", pending[0].Name)

	require.NoError(t, runner.RunMigrations())

	status, err := runner.GetMigrationStatus()
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied)

	pending, err = runner.GetPendingMigrations()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConnectWithoutDriver(t *testing.T) {
	_, err := Connect(config.Default())
	assert.ErrorIs(t, err, ErrNoDriver)
}
