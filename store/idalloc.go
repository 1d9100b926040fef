package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/resource"
)

// IDFileName is the on-disk name of the persisted id freelist.
const IDFileName = "nodes.id"

const (
	idMagic         = "NIDS"
	idFormatVersion = 1

	// magic + format + padding + high watermark + bitmap length.
	idHeaderSize = 4 + 1 + 3 + 8 + 4
)

// ErrCorruptIDFile is returned when the id file fails structural or
// checksum validation.
var ErrCorruptIDFile = errors.New("store: corrupt id file")

// IDAllocator hands out node identifiers. Released ids are kept in a
// roaring bitmap freelist and reused lowest-first before the high
// watermark grows. Id 0 is never allocated.
type IDAllocator struct {
	mu   sync.Mutex
	free *roaring64.Bitmap
	high uint64
}

// NewIDAllocator returns an empty allocator whose first Allocate call
// yields 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{free: roaring64.New()}
}

// Allocate returns the lowest free id, or grows the high watermark when
// the freelist is empty.
func (a *IDAllocator) Allocate() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.free.IsEmpty() {
		id := a.free.Minimum()
		a.free.Remove(id)

		return id
	}

	a.high++

	return a.high
}

// Release returns id to the freelist. Releasing an id above the high
// watermark or id 0 is a no-op.
func (a *IDAllocator) Release(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == 0 || id > a.high {
		return
	}

	a.free.Add(id)
}

// MarkUsed records that id is in use, growing the high watermark when
// needed. Ids skipped over by the growth land on the freelist. Replay
// calls this for every node id it observes.
func (a *IDAllocator) MarkUsed(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == 0 {
		return
	}

	if id > a.high {
		if id > a.high+1 {
			a.free.AddRange(a.high+1, id)
		}

		a.high = id

		return
	}

	a.free.Remove(id)
}

// HighWatermark returns the highest id ever handed out.
func (a *IDAllocator) HighWatermark() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.high
}

// FreeCount returns the number of ids currently on the freelist.
func (a *IDAllocator) FreeCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.free.GetCardinality()
}

// Save writes the allocator state to path atomically.
func (a *IDAllocator) Save(ctx context.Context, fsys fs.FileSystem, ctrl *resource.Controller, path string) error {
	a.mu.Lock()
	bitmap, err := a.free.ToBytes()
	high := a.high
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("serialize freelist: %w", err)
	}

	buf := make([]byte, 0, idHeaderSize+len(bitmap)+crc32.Size)
	buf = append(buf, idMagic...)
	buf = append(buf, idFormatVersion, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint64(buf, high)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bitmap)))
	buf = append(buf, bitmap...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	return writeFileAtomic(ctx, fsys, ctrl, path, buf)
}

// LoadIDAllocator reads an allocator previously written by Save. A
// missing file surfaces as os.ErrNotExist; the caller decides whether
// that is fatal.
func LoadIDAllocator(fsys fs.FileSystem, path string) (*IDAllocator, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open id file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}

	if len(data) < idHeaderSize+crc32.Size {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorruptIDFile, len(data))
	}

	body, sum := data[:len(data)-crc32.Size], data[len(data)-crc32.Size:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(sum); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch: expected 0x%08x, got 0x%08x", ErrCorruptIDFile, want, got)
	}

	if string(body[:4]) != idMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptIDFile)
	}

	if body[4] != idFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrCorruptIDFile, body[4])
	}

	high := binary.LittleEndian.Uint64(body[8:16])
	bitmapLen := binary.LittleEndian.Uint32(body[16:20])

	if int(bitmapLen) != len(body)-idHeaderSize {
		return nil, fmt.Errorf("%w: freelist length mismatch", ErrCorruptIDFile)
	}

	free := roaring64.New()
	if bitmapLen > 0 {
		if err := free.UnmarshalBinary(body[idHeaderSize:]); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorruptIDFile, err)
		}
	}

	// A freelist entry above the watermark would be handed out twice,
	// once from the list and once when the watermark reaches it.
	if !free.IsEmpty() && free.Maximum() > high {
		return nil, fmt.Errorf("%w: freelist exceeds high watermark", ErrCorruptIDFile)
	}

	return &IDAllocator{free: free, high: high}, nil
}
