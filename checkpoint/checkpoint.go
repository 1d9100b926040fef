// Package checkpoint persists and finds checkpoint records, the positions
// recovery starts from. Two interchangeable layouts exist: inline, which
// appends checkpoint entries to the transaction log itself, and separate,
// which keeps them in a dedicated checkpoint file.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/resource"
	"github.com/neuritedb/neurite/txlog"
)

// Kind selects a checkpoint layout.
type Kind string

const (
	KindInline   Kind = "inline"
	KindSeparate Kind = "separate"
)

// Info describes one checkpoint.
type Info struct {
	// Position is the log position the checkpoint covers: everything
	// before it was durable in the store when the checkpoint was taken.
	Position txlog.LogPosition

	// EntryPosition is where the checkpoint record itself lives. For the
	// separate layout the version field is meaningless and the offset
	// addresses the checkpoint file.
	EntryPosition txlog.LogPosition

	StoreID uuid.UUID
	Reason  string
	Time    time.Time
}

// Layout reads and writes checkpoints.
type Layout interface {
	// FindLatest returns the most recent durable checkpoint, if any.
	FindLatest() (Info, bool, error)

	// Reachable returns every durable checkpoint in write order.
	Reachable() ([]Info, error)

	// Write makes info durable and returns where the record was put.
	// The record is only considered written once Write returns.
	Write(ctx context.Context, info Info) (txlog.LogPosition, error)

	// Close releases any file handles the layout holds.
	Close() error
}

// Appender is the slice of the log writer the inline layout appends
// through.
type Appender interface {
	Append(e txlog.Entry) (txlog.LogPosition, error)
	Flush() error
}

// Monitor receives checkpoint events. Implementations must be safe for
// concurrent use.
type Monitor interface {
	CheckpointWritten(info Info, elapsed time.Duration)
}

// NoopMonitor discards all events.
type NoopMonitor struct{}

func (NoopMonitor) CheckpointWritten(info Info, elapsed time.Duration) {}

// MultiMonitor fans events out to several monitors.
func MultiMonitor(monitors ...Monitor) Monitor {
	return multiMonitor(monitors)
}

type multiMonitor []Monitor

func (m multiMonitor) CheckpointWritten(info Info, elapsed time.Duration) {
	for _, mon := range m {
		mon.CheckpointWritten(info, elapsed)
	}
}

// Options configure a layout.
type Options struct {
	// Monitor receives a CheckpointWritten event per successful write.
	Monitor Monitor

	// IO throttles checkpoint writes. Nil means unlimited.
	IO *resource.Controller
}

// New builds the layout named by kind.
func New(kind Kind, fsys fs.FileSystem, files *txlog.Files, storeID uuid.UUID, optFns ...func(o *Options)) (Layout, error) {
	switch kind {
	case KindInline, "":
		return NewInline(files, optFns...), nil
	case KindSeparate:
		return NewSeparate(fsys, files, storeID, optFns...), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint layout %q", kind)
	}
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := Options{Monitor: NoopMonitor{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Monitor == nil {
		opts.Monitor = NoopMonitor{}
	}

	return opts
}

func toEntry(info Info) txlog.CheckpointEntry {
	return txlog.CheckpointEntry{
		Position: info.Position,
		Time:     info.Time.UnixMilli(),
		StoreID:  info.StoreID,
		Reason:   info.Reason,
	}
}

func fromEntry(e txlog.CheckpointEntry, entryPos txlog.LogPosition) Info {
	return Info{
		Position:      e.Position,
		EntryPosition: entryPos,
		StoreID:       e.StoreID,
		Reason:        e.Reason,
		Time:          time.UnixMilli(e.Time),
	}
}
