package admission

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkraso01/cognicodeide/internal/executor"
)

func TestSnapshotFilesDeterministic(t *testing.T) {
	files := []executor.FileData{
		{Name: "main.py", Content: "print(1)"},
		{Name: "util.py", Path: "lib/util.py", Content: "pass"},
	}

	hash1, snap1, err := SnapshotFiles(files, 1<<20)
	require.NoError(t, err)
	hash2, snap2, err := SnapshotFiles(files, 1<<20)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
	assert.Len(t, hash1, 64)
	require.NotNil(t, snap1)
	require.NotNil(t, snap2)
	assert.Equal(t, *snap1, *snap2)
	assert.Contains(t, *snap1, `"name":"main.py"`)
}

func TestSnapshotFilesOrderInvariant(t *testing.T) {
	forward := []executor.FileData{
		{Name: "main.py", Content: "print(1)"},
		{Name: "util.py", Path: "lib/util.py", Content: "pass"},
		{Name: "conf.py", Path: "lib/conf.py", Content: "x = 1"},
	}
	reversed := []executor.FileData{forward[2], forward[1], forward[0]}

	hashForward, snapForward, err := SnapshotFiles(forward, 1<<20)
	require.NoError(t, err)
	hashReversed, snapReversed, err := SnapshotFiles(reversed, 1<<20)
	require.NoError(t, err)

	assert.Equal(t, hashForward, hashReversed, "file order must not change the digest")
	require.NotNil(t, snapForward)
	require.NotNil(t, snapReversed)
	assert.Equal(t, *snapForward, *snapReversed)
}

func TestSnapshotFilesContentSensitive(t *testing.T) {
	base := []executor.FileData{{Name: "main.py", Content: "print(1)"}}
	edited := []executor.FileData{{Name: "main.py", Content: "print(2)"}}

	hashBase, _, err := SnapshotFiles(base, 1<<20)
	require.NoError(t, err)
	hashEdited, _, err := SnapshotFiles(edited, 1<<20)
	require.NoError(t, err)

	assert.NotEqual(t, hashBase, hashEdited)
}

func TestSnapshotFilesThreshold(t *testing.T) {
	big := []executor.FileData{{Name: "big.txt", Content: strings.Repeat("x", 1024)}}

	hash, snapshot, err := SnapshotFiles(big, 64)
	require.NoError(t, err)
	assert.Len(t, hash, 64)
	assert.Nil(t, snapshot, "oversized snapshots must be dropped, hash kept")

	hash2, snapshot2, err := SnapshotFiles(big, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, hash, hash2, "threshold must not affect the hash")
	assert.NotNil(t, snapshot2)
}

func TestSnapshotFilesIgnoresExecutionFields(t *testing.T) {
	plain := []executor.FileData{{Name: "main.py", Content: "print(1)"}}
	flagged := []executor.FileData{{Name: "main.py", Content: "print(1)", IsMain: true}}

	hashPlain, _, err := SnapshotFiles(plain, 1<<20)
	require.NoError(t, err)
	hashFlagged, _, err := SnapshotFiles(flagged, 1<<20)
	require.NoError(t, err)

	assert.Equal(t, hashPlain, hashFlagged, "hash covers name, path, and content only")
}
