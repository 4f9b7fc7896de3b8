package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackSingleFile(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "data.hos")
	payload := bytes.Repeat([]byte("hierarchical data "), 512)
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	var buf bytes.Buffer
	require.NoError(t, Pack(context.Background(), path, &buf))

	// zstd should shave something off a repetitive payload.
	assert.Less(t, buf.Len(), len(payload))

	dest := t.TempDir()
	restored, err := Unpack(context.Background(), &buf, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "data.hos"), restored)

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPackUnpackDirectory(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "data.badger")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MANIFEST"), []byte("manifest"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "000001.sst"), []byte("table"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, Pack(context.Background(), dir, &buf))

	dest := t.TempDir()
	restored, err := Unpack(context.Background(), &buf, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "data.badger"), restored)

	got, err := os.ReadFile(filepath.Join(restored, "MANIFEST"))
	require.NoError(t, err)
	assert.Equal(t, []byte("manifest"), got)

	got, err = os.ReadFile(filepath.Join(restored, "sub", "000001.sst"))
	require.NoError(t, err)
	assert.Equal(t, []byte("table"), got)
}

func TestPackMissingPath(t *testing.T) {
	var buf bytes.Buffer
	err := Pack(context.Background(), filepath.Join(t.TempDir(), "absent"), &buf)
	require.Error(t, err)
}

func TestPackHonoursCancellation(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "data.badger")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := Pack(ctx, dir, &buf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnpackRejectsTraversal(t *testing.T) {
	// Hand-build an archive whose entry climbs out of the destination.
	var raw bytes.Buffer
	zw, err := zstd.NewWriter(&raw)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	body := []byte("evil")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../escape", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	dest := t.TempDir()
	_, err = Unpack(context.Background(), &raw, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the destination")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackRejectsEmptyArchive(t *testing.T) {
	var raw bytes.Buffer
	zw, err := zstd.NewWriter(&raw)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	_, err = Unpack(context.Background(), &raw, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestUnpackGarbageInput(t *testing.T) {
	_, err := Unpack(context.Background(), bytes.NewReader([]byte("not an archive")), t.TempDir())
	require.Error(t, err)
}
