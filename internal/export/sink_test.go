package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSink_CommitMovesIntoPlace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink := NewDirSink(dir)

	blob, err := sink.Create("clip.gif")
	require.NoError(t, err)
	assert.Equal(t, ".gif", filepath.Ext(blob.Path()), "temp file keeps the extension")
	assert.NotContains(t, dirEntries(t, dir), "clip.gif", "nothing visible before commit")

	_, err = blob.Write([]byte("GIF89a"))
	require.NoError(t, err)

	art, err := blob.Commit()
	require.NoError(t, err)
	assert.Equal(t, "clip.gif", art.Name)
	assert.Equal(t, filepath.Join(dir, "clip.gif"), art.Path)
	assert.EqualValues(t, 6, art.Size)
	assert.Equal(t, []string{"clip.gif"}, dirEntries(t, dir))

	_, err = blob.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrBlobClosed)
	_, err = blob.Commit()
	assert.ErrorIs(t, err, ErrBlobClosed)
}

func TestDirSink_DiscardLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir)

	blob, err := sink.Create("clip.mp4")
	require.NoError(t, err)
	_, err = blob.Write([]byte("partial"))
	require.NoError(t, err)

	blob.Discard()
	blob.Discard()
	assert.Empty(t, dirEntries(t, dir))
}

func TestDirSink_OverwritesPreviousArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t.json"), []byte("old"), 0644))

	blob, err := NewDirSink(dir).Create("t.json")
	require.NoError(t, err)
	_, err = blob.Write([]byte("new"))
	require.NoError(t, err)
	_, err = blob.Commit()
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "t.json"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestDirSink_RejectsPaths(t *testing.T) {
	sink := NewDirSink(t.TempDir())
	for _, name := range []string{"", "a/b.gif", "../x.gif"} {
		_, err := sink.Create(name)
		assert.Error(t, err, name)
	}
}
