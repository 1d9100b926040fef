package txlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
)

// Entry frame layout:
//
//	[0:4]  CRC32 (IEEE) over bytes [4:10] and the payload
//	[4]    entry type
//	[5]    flags, bits 0-1 hold the payload compression codec
//	[6:10] payload length (little endian)
//	[10:]  payload
const (
	frameHeaderSize = 10

	// maxEntrySize bounds a single entry. Anything larger is treated as
	// corruption rather than an allocation request.
	maxEntrySize = 100 * 1024 * 1024
)

const compressionFlagMask = 0x03

var (
	// ErrInvalidCRC indicates a failed payload checksum validation.
	ErrInvalidCRC = errors.New("txlog: invalid CRC checksum")

	// ErrInvalidEntryType indicates a frame with the reserved zero type.
	ErrInvalidEntryType = errors.New("txlog: invalid entry type")

	// ErrShortRead indicates an entry that was cut off mid frame.
	ErrShortRead = errors.New("txlog: short read")

	// ErrRecordTooLarge indicates an entry that exceeds the maximum size.
	ErrRecordTooLarge = errors.New("txlog: record exceeds maximum size")
)

var zeroFrameHeader [frameHeaderSize]byte

// Encode writes e to w as a single framed entry and returns the number of
// bytes written. Command payloads are compressed with c when it pays off.
func Encode(w io.Writer, e Entry, c Compression) (int64, error) {
	payload, codec, err := encodePayload(e, c)
	if err != nil {
		return 0, err
	}

	if len(payload) > maxEntrySize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
	}

	var header [frameHeaderSize]byte
	header[4] = byte(e.EntryType())
	header[5] = byte(codec) & compressionFlagMask
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(payload)))

	crc := crc32.ChecksumIEEE(header[4:frameHeaderSize])
	crc = crc32.Update(crc, crc32.IEEETable, payload)
	binary.LittleEndian.PutUint32(header[0:4], crc)

	if _, err := w.Write(header[:]); err != nil {
		return 0, fmt.Errorf("write entry header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return 0, fmt.Errorf("write entry payload: %w", err)
	}

	return int64(frameHeaderSize + len(payload)), nil
}

// Decode reads the next entry from r and returns it along with the number
// of bytes consumed. A clean end of data yields io.EOF; a zeroed frame
// header is treated the same way, since truncated or preallocated regions
// read as zeroes. Entries of unknown type are checksum validated, skipped
// and surfaced as UnknownEntry.
func Decode(r io.Reader) (Entry, int64, error) {
	var header [frameHeaderSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: truncated entry header", ErrShortRead)
		}

		return nil, 0, fmt.Errorf("read entry header: %w", err)
	}

	if header == zeroFrameHeader {
		return nil, 0, io.EOF
	}

	crc := binary.LittleEndian.Uint32(header[0:4])
	typ := EntryType(header[4])
	flags := header[5]
	length := binary.LittleEndian.Uint32(header[6:10])

	if typ == 0 {
		return nil, 0, ErrInvalidEntryType
	}
	if length > maxEntrySize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: truncated entry payload", ErrShortRead)
		}

		return nil, 0, fmt.Errorf("read entry payload: %w", err)
	}

	actual := crc32.ChecksumIEEE(header[4:frameHeaderSize])
	actual = crc32.Update(actual, crc32.IEEETable, payload)
	if actual != crc {
		return nil, 0, fmt.Errorf("%w: expected %08x, got %08x", ErrInvalidCRC, crc, actual)
	}

	consumed := int64(frameHeaderSize) + int64(length)

	entry, err := decodePayload(typ, flags, payload, length)
	if err != nil {
		return nil, 0, err
	}

	return entry, consumed, nil
}

func encodePayload(e Entry, c Compression) ([]byte, Compression, error) {
	switch v := e.(type) {
	case StartEntry:
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Time))
		binary.LittleEndian.PutUint64(buf[8:16], v.LastCommittedTx)

		return buf, CompressionNone, nil
	case CommandEntry:
		return compressPayload(v.Payload, c)
	case CommitEntry:
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint64(buf[0:8], v.TxID)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(v.Time))

		return buf, CompressionNone, nil
	case CheckpointEntry:
		reason := []byte(v.Reason)
		if len(reason) > int(^uint16(0)) {
			reason = reason[:^uint16(0)]
		}

		buf := make([]byte, 42+len(reason))
		binary.LittleEndian.PutUint64(buf[0:8], v.Position.Version)
		binary.LittleEndian.PutUint64(buf[8:16], v.Position.Offset)
		binary.LittleEndian.PutUint64(buf[16:24], uint64(v.Time))
		copy(buf[24:40], v.StoreID[:])
		binary.LittleEndian.PutUint16(buf[40:42], uint16(len(reason)))
		copy(buf[42:], reason)

		return buf, CompressionNone, nil
	default:
		return nil, 0, fmt.Errorf("%w: %T", ErrInvalidEntryType, e)
	}
}

func decodePayload(typ EntryType, flags byte, payload []byte, length uint32) (Entry, error) {
	switch typ {
	case EntryStart:
		if len(payload) != 16 {
			return nil, fmt.Errorf("%w: start entry has %d payload bytes", ErrShortRead, len(payload))
		}

		return StartEntry{
			Time:            int64(binary.LittleEndian.Uint64(payload[0:8])),
			LastCommittedTx: binary.LittleEndian.Uint64(payload[8:16]),
		}, nil
	case EntryCommand:
		data, err := decompressPayload(payload, Compression(flags&compressionFlagMask))
		if err != nil {
			return nil, err
		}

		return CommandEntry{Payload: data}, nil
	case EntryCommit:
		if len(payload) != 16 {
			return nil, fmt.Errorf("%w: commit entry has %d payload bytes", ErrShortRead, len(payload))
		}

		return CommitEntry{
			TxID: binary.LittleEndian.Uint64(payload[0:8]),
			Time: int64(binary.LittleEndian.Uint64(payload[8:16])),
		}, nil
	case EntryCheckpoint:
		if len(payload) < 42 {
			return nil, fmt.Errorf("%w: checkpoint entry has %d payload bytes", ErrShortRead, len(payload))
		}

		reasonLen := int(binary.LittleEndian.Uint16(payload[40:42]))
		if 42+reasonLen > len(payload) {
			return nil, fmt.Errorf("%w: checkpoint reason cut off", ErrShortRead)
		}

		return CheckpointEntry{
			Position: LogPosition{
				Version: binary.LittleEndian.Uint64(payload[0:8]),
				Offset:  binary.LittleEndian.Uint64(payload[8:16]),
			},
			Time:    int64(binary.LittleEndian.Uint64(payload[16:24])),
			StoreID: uuid.UUID(payload[24:40]),
			Reason:  string(payload[42 : 42+reasonLen]),
		}, nil
	default:
		return UnknownEntry{Kind: typ, Length: length}, nil
	}
}

// EncodedSize returns the framed size of e without writing it.
func EncodedSize(e Entry, c Compression) (int64, error) {
	var buf bytes.Buffer

	return Encode(&buf, e, c)
}
