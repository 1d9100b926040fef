package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/txlog"
)

// MetadataFileName is the on-disk name of the store descriptor.
const MetadataFileName = "metadata.json"

const metadataFormatVersion = 1

// ErrCorruptMetadata is returned when the descriptor fails to parse.
var ErrCorruptMetadata = errors.New("store: corrupt metadata file")

// metadataFile is the JSON payload persisted to metadata.json.
type metadataFile struct {
	Format                   int       `json:"format"`
	StoreID                  uuid.UUID `json:"store_id"`
	LastCommittedTx          uint64    `json:"last_committed_tx"`
	LastClosedTx             uint64    `json:"last_closed_tx"`
	LastClosedLogVersion     uint64    `json:"last_closed_log_version"`
	LastClosedByteOffset     uint64    `json:"last_closed_byte_offset"`
	CurrentLogVersion        uint64    `json:"current_log_version"`
	MissingFilesRecoveryTime int64     `json:"missing_files_recovery_time"`
}

// Metadata is the durable store descriptor. It carries the store
// identity, the transaction counters recovery needs, and the current
// log version. Counter updates are in-memory until Save; version bumps
// and forced-recovery markers hit disk immediately.
type Metadata struct {
	mu   sync.Mutex
	fsys fs.FileSystem
	path string
	data metadataFile
}

// LoadMetadata reads the descriptor from dir, creating and durably
// writing a fresh one with a new store id when none exists. The second
// return reports whether the descriptor was just created.
func LoadMetadata(fsys fs.FileSystem, dir string) (*Metadata, bool, error) {
	m := &Metadata{fsys: fsys, path: filepath.Join(dir, MetadataFileName)}

	f, err := fsys.OpenFile(m.path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		m.data = metadataFile{
			Format:  metadataFormatVersion,
			StoreID: uuid.New(),
		}

		if err := m.saveLocked(); err != nil {
			return nil, false, err
		}

		return m, true, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, false, fmt.Errorf("read metadata: %w", err)
	}

	if err := json.Unmarshal(content, &m.data); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrCorruptMetadata, err)
	}

	if m.data.Format != metadataFormatVersion {
		return nil, false, fmt.Errorf("%w: unsupported format %d", ErrCorruptMetadata, m.data.Format)
	}

	if m.data.StoreID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: missing store id", ErrCorruptMetadata)
	}

	return m, false, nil
}

// StoreID returns the store identity.
func (m *Metadata) StoreID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.data.StoreID
}

// LastCommittedTransaction returns the highest transaction id known to
// have committed.
func (m *Metadata) LastCommittedTransaction() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.data.LastCommittedTx
}

// SetLastCommitted records tx in memory. Save persists it.
func (m *Metadata) SetLastCommitted(tx uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx > m.data.LastCommittedTx {
		m.data.LastCommittedTx = tx
	}
}

// LastClosedTransaction returns the last closed transaction id and the
// log position right after its commit entry.
func (m *Metadata) LastClosedTransaction() (uint64, txlog.LogPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.data.LastClosedTx, txlog.LogPosition{
		Version: m.data.LastClosedLogVersion,
		Offset:  m.data.LastClosedByteOffset,
	}
}

// SetLastClosed records the closed transaction and its log position in
// memory. Save persists it.
func (m *Metadata) SetLastClosed(tx uint64, pos txlog.LogPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx <= m.data.LastClosedTx {
		return
	}

	m.data.LastClosedTx = tx
	m.data.LastClosedLogVersion = pos.Version
	m.data.LastClosedByteOffset = pos.Offset
}

// CurrentLogVersion returns the version of the log file appends go to.
func (m *Metadata) CurrentLogVersion() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.data.CurrentLogVersion
}

// NextLogVersion increments the log version and persists the descriptor
// before returning, so a crash between the bump and the new file leaves
// the counter ahead of the files rather than behind.
func (m *Metadata) NextLogVersion() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.CurrentLogVersion++

	if err := m.saveLocked(); err != nil {
		m.data.CurrentLogVersion--

		return 0, err
	}

	return m.data.CurrentLogVersion, nil
}

// MissingFilesRecoveryTime returns when forced recovery last rebuilt
// missing files, or the zero time if it never has.
func (m *Metadata) MissingFilesRecoveryTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data.MissingFilesRecoveryTime == 0 {
		return time.Time{}
	}

	return time.UnixMilli(m.data.MissingFilesRecoveryTime)
}

// RecordForcedRecovery durably marks that recovery proceeded despite
// missing files at t.
func (m *Metadata) RecordForcedRecovery(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.MissingFilesRecoveryTime = t.UnixMilli()

	return m.saveLocked()
}

// Save persists the descriptor atomically.
func (m *Metadata) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saveLocked()
}

func (m *Metadata) saveLocked() error {
	content, err := json.MarshalIndent(&m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	// Descriptor writes are tiny and sit on the commit path during
	// rotation, so they bypass the background IO limiter.
	return writeFileAtomic(context.Background(), m.fsys, nil, m.path, content)
}
