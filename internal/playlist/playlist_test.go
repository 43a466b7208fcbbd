package playlist

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/oggcontainer"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

func openStore(t *testing.T, format model.AudioFormat) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "show.db")
	s, err := store.OpenSQLite(path, store.ExpectedMetadata{
		Name: "show", AudioFormat: format, SampleRateHz: 16000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSegmentAACReturnsRawStoredBytes(t *testing.T) {
	st := openStore(t, model.FormatAAC)
	ctx := context.Background()
	require.NoError(t, st.OpenSection(ctx, 1, 0))
	raw := []byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}
	id, err := st.AppendChunk(ctx, 1, raw, 0, true)
	require.NoError(t, err)

	data, ct, err := Segment(ctx, st, model.FormatAAC, 16000, id)
	require.NoError(t, err)
	require.Equal(t, raw, data)
	require.Equal(t, "audio/aac", ct)
}

func TestSegmentWAVSynthesizesPlayableFile(t *testing.T) {
	st := openStore(t, model.FormatWAV)
	ctx := context.Background()
	require.NoError(t, st.OpenSection(ctx, 1, 0))
	pcm := make([]byte, 2000) // 1000 mono samples at 16kHz
	id, err := st.AppendChunk(ctx, 1, pcm, 0, true)
	require.NoError(t, err)

	data, ct, err := Segment(ctx, st, model.FormatWAV, 16000, id)
	require.NoError(t, err)
	require.Equal(t, "audio/wav", ct)
	require.True(t, strings.HasPrefix(string(data[:4]), "RIFF"))
	require.Contains(t, string(data[:12]), "WAVE")
}

func TestSegmentURIMatchesCodecScheme(t *testing.T) {
	require.Equal(t, "opus-segment/5.m4s", segmentURI(model.FormatOpus, 5))
	require.Equal(t, "aac-segment/5.aac", segmentURI(model.FormatAAC, 5))
	require.Equal(t, "wav-segment/5.wav", segmentURI(model.FormatWAV, 5))
}

func TestBuildRejectsEmptyRange(t *testing.T) {
	st := openStore(t, model.FormatAAC)
	ctx := context.Background()
	_, err := Build(ctx, st, model.FormatAAC, 16000, 1, 100)
	require.Error(t, err)
}

func TestExportOggRestitchesPacketsIntoOneLogicalStream(t *testing.T) {
	chunkA, err := oggcontainer.BuildChunk(7, 48000, 0, []oggcontainer.Packet{
		{Data: []byte{0x01, 0x02}, Granule: 960},
		{Data: []byte{0x03, 0x04}, Granule: 1920},
	})
	require.NoError(t, err)
	// A second chunk encoded with its own BOS page and serial — the
	// situation that makes raw byte concatenation an invalid Ogg file.
	chunkB, err := oggcontainer.BuildChunk(7, 48000, 0, []oggcontainer.Packet{
		{Data: []byte{0x05, 0x06}, Granule: 960},
	})
	require.NoError(t, err)

	chunks := []model.Chunk{
		{ID: 1, AudioData: chunkA},
		{ID: 2, AudioData: chunkB},
	}

	out, err := ExportOgg(chunks, 99, 48000)
	require.NoError(t, err)

	pages, err := oggcontainer.Demux(out)
	require.NoError(t, err)
	packets := oggcontainer.AudioPackets(pages)
	require.Equal(t, [][]byte{{0x01, 0x02}, {0x03, 0x04}, {0x05, 0x06}}, packets)

	// Exactly one OpusHead/BOS page pair for the whole export, not one
	// per source chunk.
	var bosCount int
	for _, p := range pages {
		if p.Flags&0x02 != 0 {
			bosCount++
		}
	}
	require.Equal(t, 1, bosCount)
}

func TestBuildTargetDurationIsCeilOfLongestChunk(t *testing.T) {
	st := openStore(t, model.FormatWAV)
	ctx := context.Background()
	require.NoError(t, st.OpenSection(ctx, 1, 0))
	// 20000 samples at 16kHz = 1.25s; ceil must round up to 2, not
	// truncate to 1.
	pcm := make([]byte, 20000*2)
	id, err := st.AppendChunk(ctx, 1, pcm, 0, true)
	require.NoError(t, err)

	text, err := Build(ctx, st, model.FormatWAV, 16000, id, id)
	require.NoError(t, err)
	require.Contains(t, text, "#EXT-X-TARGETDURATION:2")
}

func TestExportWAVProducesValidRIFFHeader(t *testing.T) {
	pcm := make([]byte, 4000)
	data, err := ExportWAV(pcm, 16000)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data[:4]), "RIFF"))
	require.Contains(t, string(data[:12]), "WAVE")
}
