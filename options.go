package neurite

import (
	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/recovery"
	"github.com/neuritedb/neurite/resource"
	"github.com/neuritedb/neurite/txlog"
)

// Options configures a database handle.
type Options struct {
	// FS is the filesystem the database lives on. Defaults to the local
	// filesystem; tests swap in fault-injecting implementations.
	FS fs.FileSystem

	// Logger receives lifecycle events. Defaults to a no-op logger.
	Logger *Logger

	// Checkpoints selects the checkpoint layout. New databases default to
	// the separate checkpoint file; KindInline keeps checkpoint records in
	// the transaction log itself.
	Checkpoints checkpoint.Kind

	// RotationThreshold is the log file size beyond which commits rotate
	// to a fresh file.
	RotationThreshold int64

	// BufferSize is the log append buffer size. Zero derives it from the
	// CPU count.
	BufferSize int

	// Compression is applied to command payloads in the log.
	Compression txlog.Compression

	// Durability selects the log flush strategy.
	Durability txlog.DurabilityMode

	// FailOnMissingFiles makes startup fail when log or id files are
	// missing instead of forcing recovery from whatever survives.
	FailOnMissingFiles bool

	// Resources bounds memory, background work and IO throughput.
	Resources resource.Config

	// Guard is the availability guard consulted by transactions and
	// recovery. Defaults to a fresh guard in the available state.
	Guard *AvailabilityGuard

	// LogMonitors receive rotation and forced-flush events in addition to
	// the database's own bookkeeping.
	LogMonitors []txlog.Monitor

	// CheckpointMonitors receive an event for every checkpoint written.
	CheckpointMonitors []checkpoint.Monitor

	// RecoveryMonitors receive recovery phase events.
	RecoveryMonitors []recovery.Monitor
}

// DefaultOptions are the options used unless overridden.
var DefaultOptions = Options{
	Checkpoints:        checkpoint.KindSeparate,
	RotationThreshold:  txlog.DefaultRotationThreshold,
	Durability:         txlog.DurabilitySync,
	FailOnMissingFiles: true,
}
