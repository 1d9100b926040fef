package txlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// CorruptionError reports an undecodable entry together with the file and
// position where it was found.
type CorruptionError struct {
	Path     string
	Position LogPosition
	Err      error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted transaction log %s at %s: %v", e.Path, e.Position, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Reader iterates entries across log file versions. When one file ends it
// transparently opens the next version; a missing next file or one with an
// incomplete header marks the end of the stream.
type Reader struct {
	files   *Files
	ch      *Channel
	br      *bufio.Reader
	version uint64
	offset  int64
	header  LogHeader
}

// NewReader positions a reader at from. Offsets inside the header are
// rounded up to the first entry.
func NewReader(files *Files, from LogPosition) (*Reader, error) {
	r := &Reader{files: files}
	if err := r.open(from.Version, int64(from.Offset)); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Reader) open(version uint64, offset int64) error {
	ch, header, err := r.files.OpenForRead(version)
	if err != nil {
		return err
	}

	if offset < HeaderSize {
		offset = HeaderSize
	}

	sr := io.NewSectionReader(ch.f, offset, 1<<62)

	r.ch = ch
	r.br = bufio.NewReaderSize(sr, 1<<16)
	r.version = version
	r.offset = offset
	r.header = header

	return nil
}

// Header returns the header of the file currently being read.
func (r *Reader) Header() LogHeader { return r.header }

// Position returns the position of the next entry to be read.
func (r *Reader) Position() LogPosition {
	return LogPosition{Version: r.version, Offset: uint64(r.offset)}
}

// Next returns the next entry and the position it was read from. The end
// of the stream is reported as io.EOF. Undecodable data is wrapped in a
// CorruptionError carrying the offending file and position.
func (r *Reader) Next() (Entry, LogPosition, error) {
	for {
		pos := r.Position()

		entry, n, err := Decode(r.br)
		if err == nil {
			r.offset += n

			return entry, pos, nil
		}

		if errors.Is(err, io.EOF) {
			if bridged, berr := r.bridge(); berr != nil {
				return nil, pos, berr
			} else if bridged {
				continue
			}

			return nil, pos, io.EOF
		}

		return nil, pos, &CorruptionError{Path: r.ch.Path(), Position: pos, Err: err}
	}
}

// bridge advances to the next log version. It reports false when the next
// file is missing or its header is incomplete, which both mean the stream
// genuinely ends here.
func (r *Reader) bridge() (bool, error) {
	next := r.version + 1

	ch, header, err := r.files.OpenForRead(next)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrIncompleteHeader) {
			return false, nil
		}

		return false, err
	}

	r.ch.Close()

	sr := io.NewSectionReader(ch.f, HeaderSize, 1<<62)

	r.ch = ch
	r.br = bufio.NewReaderSize(sr, 1<<16)
	r.version = next
	r.offset = HeaderSize
	r.header = header

	return true, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.ch == nil {
		return nil
	}

	err := r.ch.Close()
	r.ch = nil

	return err
}
