package metrics

import (
	"path/filepath"

	"codeberg.org/mutker/yombcpu/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/yombcpu/metrics.db"
	defaultBatchSize    = 20
	defaultBatchTimeout = 10
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize is the number of snapshots buffered before a write.
	BatchSize int
	// BatchTimeout is the maximum age in seconds of a buffered snapshot.
	BatchTimeout int
	// BackupDir receives a copy of the database before a schema change.
	// Defaults to a backups directory next to DBPath.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false, // Disabled by default
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch settings must not be negative")
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
