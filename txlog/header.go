package txlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Log file header layout (64 bytes):
//
//	[0:4]   magic "NTXL"
//	[4]     format version
//	[5:8]   reserved
//	[8:16]  log version (little endian)
//	[16:24] last committed transaction id at creation time (little endian)
//	[24:40] store id (UUID bytes)
//	[40:64] reserved
const (
	HeaderSize    = 64
	FormatVersion = 1
)

var logMagic = [4]byte{'N', 'T', 'X', 'L'}

var (
	// ErrIncompleteHeader marks a file whose header is missing, short or
	// has no valid magic. Readers treat such a file as an empty stream.
	ErrIncompleteHeader = errors.New("txlog: incomplete log file header")

	// ErrUnsupportedFormat marks a header with a valid magic but an
	// unknown format version.
	ErrUnsupportedFormat = errors.New("txlog: unsupported log format version")
)

// LogHeader describes a single transaction log file. It is written once
// when the file is created and never modified afterwards.
type LogHeader struct {
	Format          uint8
	Version         uint64
	LastCommittedTx uint64
	StoreID         uuid.UUID
}

// StartPosition returns the position of the first entry in the file.
func (h LogHeader) StartPosition() LogPosition {
	return StartPosition(h.Version)
}

// StartPosition returns the position of the first entry in the log file
// with the given version.
func StartPosition(version uint64) LogPosition {
	return LogPosition{Version: version, Offset: HeaderSize}
}

func encodeHeader(h LogHeader) [HeaderSize]byte {
	var buf [HeaderSize]byte

	copy(buf[0:4], logMagic[:])
	buf[4] = h.Format
	binary.LittleEndian.PutUint64(buf[8:16], h.Version)
	binary.LittleEndian.PutUint64(buf[16:24], h.LastCommittedTx)
	copy(buf[24:40], h.StoreID[:])

	return buf
}

func writeHeader(w io.Writer, h LogHeader) error {
	buf := encodeHeader(h)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}

	return nil
}

// readHeader reads and validates the header at the start of r. A short
// read or a bad magic yields ErrIncompleteHeader so that callers can
// treat half-created files as empty.
func readHeader(r io.ReaderAt) (LogHeader, error) {
	var buf [HeaderSize]byte

	n, err := r.ReadAt(buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return LogHeader{}, fmt.Errorf("read log header: %w", err)
	}
	if n < HeaderSize {
		return LogHeader{}, ErrIncompleteHeader
	}

	if [4]byte(buf[0:4]) != logMagic {
		return LogHeader{}, ErrIncompleteHeader
	}

	h := LogHeader{
		Format:          buf[4],
		Version:         binary.LittleEndian.Uint64(buf[8:16]),
		LastCommittedTx: binary.LittleEndian.Uint64(buf[16:24]),
		StoreID:         uuid.UUID(buf[24:40]),
	}

	if h.Format != FormatVersion {
		return LogHeader{}, fmt.Errorf("%w: %d", ErrUnsupportedFormat, h.Format)
	}

	return h, nil
}
