package state

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenSetAddIsIdempotent(t *testing.T) {
	s := NewSeenSet()
	s.Add("8453:0xa")
	s.Add("8453:0xa")
	s.Add("")

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains("8453:0xa"))
	assert.False(t, s.Contains("1:0xa"))
}

func TestSeenSetEvictionKeepsMostRecent(t *testing.T) {
	s := NewSeenSet()
	for i := 0; i < 10; i++ {
		s.Add(fmt.Sprintf("8453:0x%02d", i))
	}

	dropped := s.EvictOldestIfOverCapacity(3)

	assert.Equal(t, 7, dropped)
	assert.Equal(t, []string{"8453:0x07", "8453:0x08", "8453:0x09"}, s.Keys())
	assert.False(t, s.Contains("8453:0x00"))
	assert.True(t, s.Contains("8453:0x09"))
}

func TestSeenSetUnboundedWhenMaxSizeUnset(t *testing.T) {
	s := NewSeenSet("a", "b", "c")
	assert.Equal(t, 0, s.EvictOldestIfOverCapacity(0))
	assert.Equal(t, 3, s.Len())
}

func TestSeenSetRoundTripAppliesEviction(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	s := NewSeenSet("A", "B", "C")
	require.NoError(t, SaveSeenSet(ctx, backend, "guild-1", s, 2))

	loaded, err := LoadSeenSet(ctx, backend, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, loaded.Keys())

	other, err := LoadSeenSet(ctx, backend, "guild-2")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len(), "scopes must not share seen keys")
}

func TestLoadSeenSetDegradesToEmpty(t *testing.T) {
	backend := NewMemoryBackend()
	backend.FailLoad = errors.New("disk on fire")

	s, err := LoadSeenSet(context.Background(), backend, GlobalScope)
	require.Error(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Len())
}

func TestLoadSeenSetCorruptDocument(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(ctx, seenKey(GlobalScope), []byte("{not json")))

	s, err := LoadSeenSet(ctx, backend, GlobalScope)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptState)
	assert.Equal(t, 0, s.Len())
}

func TestLoadReadFailureIsNotCorruption(t *testing.T) {
	backend := NewMemoryBackend()
	backend.FailLoad = errors.New("timeout")

	_, err := LoadDeployIndex(context.Background(), backend, GlobalScope)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptState)
}

func TestDeployIndexIsCaseInsensitive(t *testing.T) {
	idx := NewDeployIndex()
	idx.RecordAttribution("0xDEAD00000000000000000000000000000000BEEF", "0xAAAA")
	idx.RecordAttribution("0xdead00000000000000000000000000000000beef", "0xaaaa")
	idx.RecordAttribution("0xdead00000000000000000000000000000000beef", "0xbbbb")
	idx.RecordAttribution("", "0xcccc")

	assert.Equal(t, 2, idx.CountFor("0xDead00000000000000000000000000000000Beef"))
	assert.Equal(t, 0, idx.CountFor(""))
	assert.Equal(t, 1, idx.Len())
}

func TestDeployIndexRoundTripAndTop(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	idx := NewDeployIndex()
	idx.RecordAttribution("0xb", "0x1")
	idx.RecordAttribution("0xa", "0x1")
	idx.RecordAttribution("0xa", "0x2")
	require.NoError(t, SaveDeployIndex(ctx, backend, GlobalScope, idx))

	loaded, err := LoadDeployIndex(ctx, backend, GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CountFor("0xA"))
	assert.Equal(t, []ActorCount{{Address: "0xa", Count: 2}, {Address: "0xb", Count: 1}}, loaded.Top(5))
	assert.Len(t, loaded.Top(1), 1)
}
