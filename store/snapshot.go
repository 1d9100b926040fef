package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/resource"
)

// SnapshotFileName is the on-disk name of the node snapshot.
const SnapshotFileName = "nodes.db"

const (
	snapshotMagic         = "NNOD"
	snapshotFormatVersion = 1

	// magic + format + padding + applied transaction + node count.
	snapshotHeaderSize = 4 + 1 + 3 + 8 + 8
)

// ErrCorruptSnapshot is returned when the snapshot fails structural or
// checksum validation.
var ErrCorruptSnapshot = errors.New("store: corrupt snapshot file")

// snapshotSize returns the encoded size of a snapshot holding nodes,
// checksum included.
func snapshotSize(nodes map[uint64]*Node) int {
	n := snapshotHeaderSize + 4

	for _, node := range nodes {
		n += 12 + labelBytes(node.Labels)
		for k, v := range node.Properties {
			n += 4 + len(k) + len(v)
		}
	}

	return n
}

// encodeSnapshot serializes all nodes, sorted by id for deterministic
// output. appliedTx is the highest transaction id whose effects the
// nodes include; replay after a crash resumes right above it.
func encodeSnapshot(appliedTx uint64, nodes map[uint64]*Node) ([]byte, error) {
	ids := make([]uint64, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf bytes.Buffer

	buf.Grow(snapshotSize(nodes))

	cw := NewChecksumWriter(&buf)

	hdr := make([]byte, 0, snapshotHeaderSize)
	hdr = append(hdr, snapshotMagic...)
	hdr = append(hdr, snapshotFormatVersion, 0, 0, 0)
	hdr = binary.LittleEndian.AppendUint64(hdr, appliedTx)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(ids)))

	if _, err := cw.Write(hdr); err != nil {
		return nil, err
	}

	for _, id := range ids {
		rec, err := encodeNodeRecord(nodes[id])
		if err != nil {
			return nil, err
		}

		if _, err := cw.Write(rec); err != nil {
			return nil, err
		}
	}

	var sum [4]byte

	binary.LittleEndian.PutUint32(sum[:], cw.Sum())
	buf.Write(sum[:])

	return buf.Bytes(), nil
}

// saveSnapshot writes all nodes to path atomically.
func saveSnapshot(ctx context.Context, fsys fs.FileSystem, ctrl *resource.Controller, path string, appliedTx uint64, nodes map[uint64]*Node) error {
	content, err := encodeSnapshot(appliedTx, nodes)
	if err != nil {
		return err
	}

	return writeFileAtomic(ctx, fsys, ctrl, path, content)
}

// loadSnapshot reads a snapshot previously written by saveSnapshot. A
// missing file surfaces as os.ErrNotExist.
func loadSnapshot(fsys fs.FileSystem, path string) (map[uint64]*Node, uint64, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat snapshot: %w", err)
	}

	if info.Size() < snapshotHeaderSize+4 {
		return nil, 0, fmt.Errorf("%w: file too small (%d bytes)", ErrCorruptSnapshot, info.Size())
	}

	// Everything but the trailing checksum feeds the running sum.
	br := bufio.NewReaderSize(f, 256*1024)
	cr := NewChecksumReader(io.LimitReader(br, info.Size()-4))

	hdr := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(cr, hdr); err != nil {
		return nil, 0, fmt.Errorf("%w: header cut off", ErrCorruptSnapshot)
	}

	if string(hdr[:4]) != snapshotMagic {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}

	if hdr[4] != snapshotFormatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported format %d", ErrCorruptSnapshot, hdr[4])
	}

	appliedTx := binary.LittleEndian.Uint64(hdr[8:16])
	count := binary.LittleEndian.Uint64(hdr[16:24])

	nodes := make(map[uint64]*Node)

	for i := uint64(0); i < count; i++ {
		n, err := decodeNodeRecord(cr)
		if err != nil {
			return nil, 0, err
		}

		if _, dup := nodes[n.ID]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate node %d", ErrCorruptSnapshot, n.ID)
		}

		nodes[n.ID] = n
	}

	if _, err := cr.Read(make([]byte, 1)); err != io.EOF {
		return nil, 0, fmt.Errorf("%w: trailing bytes after last node", ErrCorruptSnapshot)
	}

	var sum [4]byte

	if _, err := io.ReadFull(br, sum[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: checksum cut off", ErrCorruptSnapshot)
	}

	if err := cr.Verify(binary.LittleEndian.Uint32(sum[:])); err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrCorruptSnapshot, err)
	}

	return nodes, appliedTx, nil
}

func encodeNodeRecord(n *Node) ([]byte, error) {
	if len(n.Labels) > int(^uint16(0)) {
		return nil, fmt.Errorf("node %d has %d labels", n.ID, len(n.Labels))
	}

	if len(n.Properties) > int(^uint16(0)) {
		return nil, fmt.Errorf("node %d has %d properties", n.ID, len(n.Properties))
	}

	buf := make([]byte, 0, 12+labelBytes(n.Labels))
	buf = binary.LittleEndian.AppendUint64(buf, n.ID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(n.Labels)))

	var err error

	for _, l := range n.Labels {
		if buf, err = appendString(buf, l); err != nil {
			return nil, err
		}
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(n.Properties)))

	keys := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if buf, err = appendString(buf, k); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, n.Properties[k]); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

func decodeNodeRecord(r io.Reader) (*Node, error) {
	var fixed [10]byte

	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: node record cut off", ErrCorruptSnapshot)
	}

	n := &Node{
		ID:         binary.LittleEndian.Uint64(fixed[0:8]),
		Properties: map[string]string{},
	}

	labelCount := int(binary.LittleEndian.Uint16(fixed[8:10]))
	for i := 0; i < labelCount; i++ {
		l, err := readLenString(r)
		if err != nil {
			return nil, err
		}

		n.Labels = append(n.Labels, l)
	}

	var pc [2]byte

	if _, err := io.ReadFull(r, pc[:]); err != nil {
		return nil, fmt.Errorf("%w: node record cut off", ErrCorruptSnapshot)
	}

	propCount := int(binary.LittleEndian.Uint16(pc[:]))
	for i := 0; i < propCount; i++ {
		k, err := readLenString(r)
		if err != nil {
			return nil, err
		}

		v, err := readLenString(r)
		if err != nil {
			return nil, err
		}

		n.Properties[k] = v
	}

	return n, nil
}

func readLenString(r io.Reader) (string, error) {
	var lb [2]byte

	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", fmt.Errorf("%w: string length cut off", ErrCorruptSnapshot)
	}

	b := make([]byte, binary.LittleEndian.Uint16(lb[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: string cut off", ErrCorruptSnapshot)
	}

	return string(b), nil
}
