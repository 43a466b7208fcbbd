package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

func openTestStore(t *testing.T, expected ExpectedMetadata) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "show.db")
	s, err := OpenSQLite(path, expected)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenOrCreateSeedsMetadataOnce(t *testing.T) {
	expected := ExpectedMetadata{Name: "morning-show", AudioFormat: model.FormatOpus, BitrateKbps: 16, SampleRateHz: 48000, SplitInterval: 10}
	path := filepath.Join(t.TempDir(), "show.db")

	s1, err := OpenSQLite(path, expected)
	require.NoError(t, err)
	m1, _ := s1.Metadata(context.Background())
	require.NotEmpty(t, m1.UniqueID)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path, expected)
	require.NoError(t, err)
	defer s2.Close()
	m2, _ := s2.Metadata(context.Background())
	require.Equal(t, m1.UniqueID, m2.UniqueID, "unique_id must persist across reopen")
}

func TestOpenOrCreateRejectsMetadataMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.db")
	base := ExpectedMetadata{Name: "show", AudioFormat: model.FormatAAC, BitrateKbps: 64, SampleRateHz: 16000}

	s1, err := OpenSQLite(path, base)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	changed := base
	changed.SampleRateHz = 48000
	_, err = OpenSQLite(path, changed)
	require.ErrorIs(t, err, ErrMetadataMismatch)
}

func TestOpenSectionIdempotent(t *testing.T) {
	s := openTestStore(t, ExpectedMetadata{Name: "s", AudioFormat: model.FormatWAV, SampleRateHz: 16000})
	ctx := context.Background()

	require.NoError(t, s.OpenSection(ctx, 1000, 5000))
	require.NoError(t, s.OpenSection(ctx, 1000, 5000), "re-opening with identical args must succeed (P6)")

	err := s.OpenSection(ctx, 1000, 9999)
	require.ErrorIs(t, err, ErrSectionConflict)
}

func TestAppendChunkMonotonicAndReadBack(t *testing.T) {
	s := openTestStore(t, ExpectedMetadata{Name: "s", AudioFormat: model.FormatWAV, SampleRateHz: 16000})
	ctx := context.Background()
	require.NoError(t, s.OpenSection(ctx, 1, 0))

	id1, err := s.AppendChunk(ctx, 1, []byte("aaaa"), 0, true)
	require.NoError(t, err)
	id2, err := s.AppendChunk(ctx, 1, []byte("bbbb"), 1000, false)
	require.NoError(t, err)
	require.Greater(t, id2, id1, "chunk ids must be strictly increasing (I1)")

	chunks, err := s.ReadChunks(ctx, id1, id2, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, []byte("aaaa"), chunks[0].AudioData)
	require.True(t, chunks[0].IsTimestampFromSource)
	require.False(t, chunks[1].IsTimestampFromSource)
}

func TestRoleViolationOnRecipient(t *testing.T) {
	s := openTestStore(t, ExpectedMetadata{Name: "s", AudioFormat: model.FormatWAV, SampleRateHz: 16000, IsRecipient: true})
	ctx := context.Background()

	err := s.OpenSection(ctx, 1, 0)
	require.ErrorIs(t, err, ErrRoleViolation)

	_, err = s.AppendChunk(ctx, 1, []byte("x"), 0, true)
	require.ErrorIs(t, err, ErrRoleViolation)
}

func TestPruneNeverPartiallyDeletesSection(t *testing.T) {
	s := openTestStore(t, ExpectedMetadata{Name: "s", AudioFormat: model.FormatWAV, SampleRateHz: 16000})
	ctx := context.Background()

	require.NoError(t, s.OpenSection(ctx, 1, 1000))
	_, err := s.AppendChunk(ctx, 1, make([]byte, 32000), 1000, true) // 1s of 16kHz mono s16
	require.NoError(t, err)

	require.NoError(t, s.OpenSection(ctx, 2, 100000))
	_, err = s.AppendChunk(ctx, 2, make([]byte, 32000), 100000, true)
	require.NoError(t, err)

	removed, err := s.Prune(ctx, 50000)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	sections, err := s.ListSections(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, int64(2), sections[0].SectionID)

	chunks, err := s.ReadChunks(ctx, 0, 1<<62, 0)
	require.NoError(t, err)
	for _, c := range chunks {
		require.Equal(t, int64(2), c.SectionID, "no chunk may survive without its parent section (P7)")
	}
}
