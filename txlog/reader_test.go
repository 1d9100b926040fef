package txlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuritedb/neurite/internal/fs"
)

func TestReader_BridgesAcrossVersions(t *testing.T) {
	dir := t.TempDir()

	lf, _, _ := newTestLog(t, dir)

	_, err := lf.Append(CommandEntry{Payload: []byte("v0")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())

	_, err = lf.Rotate()
	require.NoError(t, err)

	_, err = lf.Append(CommandEntry{Payload: []byte("v1")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())

	_, err = lf.Rotate()
	require.NoError(t, err)

	_, err = lf.Append(CommandEntry{Payload: []byte("v2")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())
	require.NoError(t, lf.Close())

	files := NewFiles(fs.Default, filepath.Join(dir, DirectoryName))
	r, err := NewReader(files, LogPosition{Version: 0, Offset: HeaderSize})
	require.NoError(t, err)
	defer r.Close()

	var seen []string
	var versions []uint64

	for {
		e, pos, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		seen = append(seen, string(e.(CommandEntry).Payload))
		versions = append(versions, pos.Version)
	}

	assert.Equal(t, []string{"v0", "v1", "v2"}, seen)
	assert.Equal(t, []uint64{0, 1, 2}, versions)
}

func TestReader_EndOfStreamWhenNextFileMissing(t *testing.T) {
	dir := t.TempDir()

	lf, _, _ := newTestLog(t, dir)

	_, err := lf.Append(CommandEntry{Payload: []byte("only")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())
	require.NoError(t, lf.Close())

	files := NewFiles(fs.Default, filepath.Join(dir, DirectoryName))
	r, err := NewReader(files, LogPosition{Version: 0, Offset: HeaderSize})
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.Next()
	require.NoError(t, err)

	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_HeaderOnlyNextFileEndsStream(t *testing.T) {
	dir := t.TempDir()

	lf, _, _ := newTestLog(t, dir)

	_, err := lf.Append(CommandEntry{Payload: []byte("data")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())
	require.NoError(t, lf.Close())

	// A crash during rotation can leave the next file with a partial
	// header. Readers must treat it as the end of the stream.
	short := filepath.Join(dir, DirectoryName, "txlog_1.log")
	require.NoError(t, os.WriteFile(short, []byte("NTXL"), 0o644))

	files := NewFiles(fs.Default, filepath.Join(dir, DirectoryName))
	r, err := NewReader(files, LogPosition{Version: 0, Offset: HeaderSize})
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.Next()
	require.NoError(t, err)

	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_CompleteNextHeaderIsFollowed(t *testing.T) {
	dir := t.TempDir()

	lf, _, _ := newTestLog(t, dir)

	_, err := lf.Append(CommandEntry{Payload: []byte("before")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())

	// Rotation leaves version 1 with a header and no entries yet.
	_, err = lf.Rotate()
	require.NoError(t, err)
	require.NoError(t, lf.Close())

	files := NewFiles(fs.Default, filepath.Join(dir, DirectoryName))
	r, err := NewReader(files, LogPosition{Version: 0, Offset: HeaderSize})
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.Next()
	require.NoError(t, err)

	_, pos, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, LogPosition{Version: 1, Offset: HeaderSize}, pos)
}

func TestReader_CorruptionCarriesPosition(t *testing.T) {
	dir := t.TempDir()

	lf, _, _ := newTestLog(t, dir)

	_, err := lf.Append(CommandEntry{Payload: []byte("good")})
	require.NoError(t, err)

	bad, err := lf.Append(CommandEntry{Payload: []byte("bad")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())
	require.NoError(t, lf.Close())

	// Flip a payload byte of the second entry.
	path := filepath.Join(dir, DirectoryName, "txlog_0.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[int(bad.Offset)+frameHeaderSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	files := NewFiles(fs.Default, filepath.Join(dir, DirectoryName))
	r, err := NewReader(files, LogPosition{Version: 0, Offset: HeaderSize})
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.Next()
	require.NoError(t, err)

	_, _, err = r.Next()
	require.Error(t, err)

	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, path, corrupt.Path)
	assert.Equal(t, bad, corrupt.Position)
	assert.ErrorIs(t, err, ErrInvalidCRC)
}

func TestReader_StartsMidStream(t *testing.T) {
	dir := t.TempDir()

	lf, _, _ := newTestLog(t, dir)

	_, err := lf.Append(CommandEntry{Payload: []byte("skipped")})
	require.NoError(t, err)

	second, err := lf.Append(CommandEntry{Payload: []byte("read")})
	require.NoError(t, err)
	require.NoError(t, lf.Flush())
	require.NoError(t, lf.Close())

	files := NewFiles(fs.Default, filepath.Join(dir, DirectoryName))
	r, err := NewReader(files, second)
	require.NoError(t, err)
	defer r.Close()

	e, pos, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, CommandEntry{Payload: []byte("read")}, e)
	assert.Equal(t, second, pos)
}
