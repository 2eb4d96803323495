package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeSequential_StopsAtFirstMissing(t *testing.T) {
	var probed []string
	exists := func(_ context.Context, ref string) (bool, error) {
		probed = append(probed, ref)
		return ref != "https://r.example/m/read/6", nil
	}

	refs, err := ProbeSequential(context.Background(), "https://r.example/m/read/3", 0, exists)
	require.NoError(t, err)

	require.Len(t, refs, 3)
	assert.Equal(t, ChapterRef{Title: "Chapter 3", Ref: "https://r.example/m/read/3", Number: 3}, refs[0])
	assert.Equal(t, "https://r.example/m/read/5", refs[2].Ref)
	assert.Len(t, probed, 4)
}

func TestProbeSequential_Limit(t *testing.T) {
	always := func(context.Context, string) (bool, error) { return true, nil }

	refs, err := ProbeSequential(context.Background(), "https://r.example/c?id=1", 5, always)
	require.NoError(t, err)
	assert.Len(t, refs, 5)
	assert.Equal(t, "https://r.example/c?id=5", refs[4].Ref)
}

func TestProbeSequential_NoNumber(t *testing.T) {
	always := func(context.Context, string) (bool, error) { return true, nil }
	refs, err := ProbeSequential(context.Background(), "https://r.example/oneshot", 0, always)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	never := func(context.Context, string) (bool, error) { return false, nil }
	_, err = ProbeSequential(context.Background(), "https://r.example/m/1", 0, never)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProbeSequential_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, string) (bool, error) { return false, boom }
	_, err := ProbeSequential(context.Background(), "https://r.example/m/1", 0, failing)
	assert.ErrorIs(t, err, boom)
}
