package localstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeldSetRoundTrip(t *testing.T) {
	dir := t.TempDir()

	h := NewHeldSet([]string{"vf_1", "vf_2"})
	require.NoError(t, SaveHeldSet(dir, "alice", h))

	got, err := LoadHeldSet(dir, "alice")
	require.NoError(t, err)
	assert.True(t, got.Held("vf_1"))
	assert.True(t, got.Held("vf_2"))
	assert.False(t, got.Held("vf_3"))
}

func TestHeldSetDefaultsEmptyWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadHeldSet(dir, "bob")
	require.NoError(t, err)
	assert.False(t, got.Held("vf_1"))
}

func TestHeldSetSaveReplacesWholesale(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, SaveHeldSet(dir, "alice", NewHeldSet([]string{"vf_1"})))
	require.NoError(t, SaveHeldSet(dir, "alice", NewHeldSet([]string{"vf_2"})))

	got, err := LoadHeldSet(dir, "alice")
	require.NoError(t, err)
	assert.False(t, got.Held("vf_1"))
	assert.True(t, got.Held("vf_2"))
}
