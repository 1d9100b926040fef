package txlog

import (
	"time"

	"github.com/google/uuid"
)

// EntryType discriminates the kinds of entries in a transaction log.
type EntryType uint8

const (
	EntryStart      EntryType = 1
	EntryCommand    EntryType = 2
	EntryCommit     EntryType = 3
	EntryCheckpoint EntryType = 4
)

func (t EntryType) String() string {
	switch t {
	case EntryStart:
		return "start"
	case EntryCommand:
		return "command"
	case EntryCommit:
		return "commit"
	case EntryCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Entry is a single record in the transaction log.
type Entry interface {
	EntryType() EntryType
}

// StartEntry opens a transaction group. LastCommittedTx is the highest
// committed transaction id observed when the group began.
type StartEntry struct {
	Time            int64
	LastCommittedTx uint64
}

func (StartEntry) EntryType() EntryType { return EntryStart }

// CommandEntry carries one opaque store mutation.
type CommandEntry struct {
	Payload []byte
}

func (CommandEntry) EntryType() EntryType { return EntryCommand }

// CommitEntry closes a transaction group and assigns its id.
type CommitEntry struct {
	TxID uint64
	Time int64
}

func (CommitEntry) EntryType() EntryType { return EntryCommit }

// CheckpointEntry records that everything before Position was durable in
// the store when the checkpoint was taken.
type CheckpointEntry struct {
	Position LogPosition
	Time     int64
	StoreID  uuid.UUID
	Reason   string
}

func (CheckpointEntry) EntryType() EntryType { return EntryCheckpoint }

// When returns the checkpoint time as a time.Time.
func (e CheckpointEntry) When() time.Time { return time.UnixMilli(e.Time) }

// UnknownEntry stands in for an entry whose type this version does not
// understand. The payload is validated and skipped, never interpreted.
type UnknownEntry struct {
	Kind   EntryType
	Length uint32
}

func (e UnknownEntry) EntryType() EntryType { return e.Kind }
