package engine

import (
	"log/slog"

	"github.com/Daironode/aingle-sub000/internal/telemetry"
)

// Default limits.
const (
	DefaultMaxEntryBytes = 4_000_000
	DefaultMaxTagBytes   = 1_000
)

// Options configures the pipeline stages. Zero values select defaults.
type Options struct {
	// MaxEntryBytes bounds entry content size. An entry of exactly this
	// size is accepted.
	MaxEntryBytes int

	// MaxTagBytes bounds link tag size.
	MaxTagBytes int

	// FetchMissing asks the network for dependencies that are not stored
	// locally.
	FetchMissing bool

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Clock   Clock
	RunIDs  RunIDGenerator
}

func (o Options) withDefaults() Options {
	if o.MaxEntryBytes <= 0 {
		o.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if o.MaxTagBytes <= 0 {
		o.MaxTagBytes = DefaultMaxTagBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = NewSystemClock()
	}
	if o.RunIDs == nil {
		o.RunIDs = UUIDv7Generator{}
	}
	return o
}

// passLogger returns a logger tagged with a fresh run id for one stage pass.
func (o Options) passLogger(stage string) *slog.Logger {
	return o.Logger.With("stage", stage, "run_id", o.RunIDs.Generate())
}
