package chunker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewtheguy/saveaudiostream/internal/encode"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "show.db")
	s, err := store.OpenSQLite(path, store.ExpectedMetadata{
		Name: "show", AudioFormat: model.FormatWAV, SampleRateHz: 16000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFirstChunkUsesSessionStartAsTimestamp(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	c, err := Open(ctx, st, model.FormatWAV, 1000, 5000, Config{
		SplitIntervalSeconds: 1, TargetSampleRateHz: 16000,
	})
	require.NoError(t, err)

	// 1 second of audio at 16kHz triggers a split.
	require.NoError(t, c.Push(ctx, encode.EncodedFrame{Payload: make([]byte, 32000), SampleCount: 16000}, 1000))

	chunks, err := st.ReadChunks(ctx, 0, 1<<62, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, int64(5000), chunks[0].TimestampMs)
	require.True(t, chunks[0].IsTimestampFromSource)
}

func TestSecondChunkTimestampDerivedFromSampleCount(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	c, err := Open(ctx, st, model.FormatWAV, 1001, 5000, Config{
		SplitIntervalSeconds: 1, TargetSampleRateHz: 16000,
	})
	require.NoError(t, err)

	require.NoError(t, c.Push(ctx, encode.EncodedFrame{Payload: make([]byte, 32000), SampleCount: 16000}, 1000))
	require.NoError(t, c.Push(ctx, encode.EncodedFrame{Payload: make([]byte, 32000), SampleCount: 16000}, 2000))

	chunks, err := st.ReadChunks(ctx, 0, 1<<62, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.False(t, chunks[1].IsTimestampFromSource)
	require.Equal(t, int64(6000), chunks[1].TimestampMs, "second chunk starts 1s (16000 samples) after session start")
}

func TestFinishFlushesPartialChunk(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	c, err := Open(ctx, st, model.FormatWAV, 1002, 0, Config{
		SplitIntervalSeconds: 10, TargetSampleRateHz: 16000,
	})
	require.NoError(t, err)

	require.NoError(t, c.Push(ctx, encode.EncodedFrame{Payload: make([]byte, 1000), SampleCount: 500}, 0))
	require.NoError(t, c.Finish(ctx))

	chunks, err := st.ReadChunks(ctx, 0, 1<<62, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestDriftBeyondSlewIsFatal(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	c, err := Open(ctx, st, model.FormatWAV, 1003, 0, Config{
		SplitIntervalSeconds: 10, TargetSampleRateHz: 16000, MaxDriftMs: 500,
	})
	require.NoError(t, err)

	// 1s of encoded audio but only 100ms of wall clock elapsed: 900ms drift.
	err = c.Push(ctx, encode.EncodedFrame{Payload: make([]byte, 32000), SampleCount: 16000}, 100)
	require.ErrorIs(t, err, ErrTimestampDrift)
}
