package metrics

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/yombcpu/internal/errors"
	"codeberg.org/mutker/yombcpu/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(i int) *Snapshot {
	return &Snapshot{
		Timestamp: time.UnixMilli(int64(1_700_000_000_000 + i)),
		CPU:       CPUMetrics{Cores: 4, ValidCores: 3, Average: 0.375, Max: 1},
		Memory:    0.25,
		Link:      LinkMetrics{Status: 1, MonitorOn: true, FrameSize: 6},
	}
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM cycles").Scan(&n))
	return n
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "db", "metrics.db")
	cfg.BatchTimeout = 0
	return cfg
}

func TestRepositoryBatches(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 3
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.Record(snapshot(1)))
	require.NoError(t, repo.Record(snapshot(2)))
	assert.Equal(t, 0, countRows(t, cfg.DBPath), "buffered until the batch is full")

	require.NoError(t, repo.Record(snapshot(3)))
	assert.Equal(t, 3, countRows(t, cfg.DBPath))

	require.NoError(t, repo.Record(snapshot(4)))
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())
	assert.Equal(t, 4, countRows(t, cfg.DBPath), "close flushes the remainder")
}

func TestRepositoryStoresValues(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Record(snapshot(7)))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var ts, cores, valid, status, on, size int64
	var avg, maxUtil, mem float64
	require.NoError(t, db.QueryRow(`SELECT timestamp, core_count, valid_cores, cpu_average, cpu_max,
		memory, status, monitor_on, frame_size FROM cycles`).
		Scan(&ts, &cores, &valid, &avg, &maxUtil, &mem, &status, &on, &size))

	assert.Equal(t, int64(1_700_000_000_007), ts)
	assert.Equal(t, int64(4), cores)
	assert.Equal(t, int64(3), valid)
	assert.InDelta(t, 0.375, avg, 1e-9)
	assert.InDelta(t, 1.0, maxUtil, 1e-9)
	assert.InDelta(t, 0.25, mem, 1e-9)
	assert.Equal(t, int64(1), status)
	assert.Equal(t, int64(1), on)
	assert.Equal(t, int64(6), size)
}

func TestPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100
	cfg.BatchTimeout = 1
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Record(snapshot(1)))
	require.Eventually(t, func() bool { return countRows(t, cfg.DBPath) == 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchemaMigrationBacksUp(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	backups, err := filepath.Glob(filepath.Join(cfg.backupDir(), "metrics_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db, err = sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()
	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestServiceDisabledIsNoop(t *testing.T) {
	c, err := NewService(DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, c.Record(context.Background(), snapshot(1)))
	assert.NoError(t, c.Close())
}

func TestServiceValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = ""

	_, err := NewService(cfg, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))
}

func TestServiceRecord(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1
	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)

	assert.True(t, errors.HasCode(c.Record(context.Background(), nil), ErrInvalidMetrics))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.HasCode(c.Record(ctx, snapshot(1)), ErrOperationTimeout))

	require.NoError(t, c.Record(context.Background(), snapshot(2)))
	require.NoError(t, c.Close())
	assert.Equal(t, 1, countRows(t, cfg.DBPath))
}
