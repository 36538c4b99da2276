package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/hashutil"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func chunkHashesOf(t *testing.T, path string) []hashutil.Hash {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	hashes, err := hashutil.ChunkHashes(f)
	require.NoError(t, err)
	return hashes
}

func TestDiffIndicesMissingReceiverWantsEverything(t *testing.T) {
	dir := t.TempDir()
	initiatorPath := filepath.Join(dir, "src.bin")
	writeFile(t, initiatorPath, bytes.Repeat([]byte{1}, hashutil.ChunkSize*3))

	indices, err := DiffIndices(filepath.Join(dir, "missing.bin"), chunkHashesOf(t, initiatorPath))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, indices)
}

func TestDiffIndicesFindsOnlyChangedChunks(t *testing.T) {
	dir := t.TempDir()
	a := bytes.Repeat([]byte{1}, hashutil.ChunkSize*3)
	b := append([]byte(nil), a...)
	for i := 0; i < hashutil.ChunkSize; i++ {
		b[hashutil.ChunkSize+i] = 2
	}

	receiverPath := filepath.Join(dir, "receiver.bin")
	initiatorPath := filepath.Join(dir, "initiator.bin")
	writeFile(t, receiverPath, a)
	writeFile(t, initiatorPath, b)

	indices, err := DiffIndices(receiverPath, chunkHashesOf(t, initiatorPath))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, indices)
}

func TestDiffIndicesIncludesTrailingChunksReceiverLacks(t *testing.T) {
	dir := t.TempDir()
	receiverPath := filepath.Join(dir, "receiver.bin")
	initiatorPath := filepath.Join(dir, "initiator.bin")
	writeFile(t, receiverPath, bytes.Repeat([]byte{1}, hashutil.ChunkSize))
	writeFile(t, initiatorPath, bytes.Repeat([]byte{1}, hashutil.ChunkSize*2))

	indices, err := DiffIndices(receiverPath, chunkHashesOf(t, initiatorPath))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, indices)
}

func TestBuildAndApplyPatchesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := bytes.Repeat([]byte{1}, hashutil.ChunkSize*3)
	b := append([]byte(nil), a...)
	for i := 0; i < hashutil.ChunkSize; i++ {
		b[hashutil.ChunkSize+i] = 2
	}

	receiverPath := filepath.Join(dir, "target.bin")
	initiatorPath := filepath.Join(dir, "initiator.bin")
	writeFile(t, receiverPath, a)
	writeFile(t, initiatorPath, b)

	indices, err := DiffIndices(receiverPath, chunkHashesOf(t, initiatorPath))
	require.NoError(t, err)

	patches, err := BuildPatches(initiatorPath, indices)
	require.NoError(t, err)
	require.NoError(t, ApplyPatches(receiverPath, patches))

	got, err := os.ReadFile(receiverPath)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".transfer-")
	}
}

func TestVersionFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	writeFile(t, path, []byte("hi"))

	v, err := ReadVersion(path)
	require.NoError(t, err)
	assert.Equal(t, 0, v, "missing sidecar defaults to version 0")

	require.NoError(t, WriteVersion(path, 3))
	v, err = ReadVersion(path)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestWriteDeltaAndReconstructVersion(t *testing.T) {
	dir := t.TempDir()
	v0 := []byte("hello world this is version zero padding padding")
	v1 := append([]byte(nil), v0...)
	copy(v1, "HELLO")

	require.NoError(t, WriteDelta(dir, "file.txt", 0, 1, []ChunkPatch{{Index: 0, Bytes: v1}}))

	got, err := ReconstructVersion(dir, "file.txt", 1)
	require.NoError(t, err)
	assert.Equal(t, v1, got[:len(v1)])
}

func TestDecideServerMode(t *testing.T) {
	assert.Equal(t, NoChangeMode, DecideServerMode("3", "3"))
	assert.Equal(t, ServerDeltaMode, DecideServerMode("2", "3"))
}
