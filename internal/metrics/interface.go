package metrics

import (
	"context"
	"time"
)

// Collector records one snapshot per request/response cycle.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot summarizes one request/response cycle.
type Snapshot struct {
	Timestamp time.Time
	CPU       CPUMetrics
	Memory    float64
	Link      LinkMetrics
}

type CPUMetrics struct {
	Cores      int
	ValidCores int
	Average    float64
	Max        float64
}

type LinkMetrics struct {
	Status    byte
	MonitorOn bool
	FrameSize int
}
