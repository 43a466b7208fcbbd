package syncapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

func openShow(t *testing.T) ShowHandle {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "show.db"), store.ExpectedMetadata{
		Name: "show", AudioFormat: model.FormatAAC, SampleRateHz: 16000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.OpenSection(ctx, 1, 1000))
	_, err = st.AppendChunk(ctx, 1, []byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}, 1000, true)
	require.NoError(t, err)
	return ShowHandle{Store: st, Format: model.FormatAAC, SampleRateHz: 16000}
}

func TestSourceServerHealth(t *testing.T) {
	s := NewSourceServer(map[string]ShowHandle{"show": openShow(t)})
	mux := http.NewServeMux()
	s.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSourceServerMetadataIncludesBounds(t *testing.T) {
	s := NewSourceServer(map[string]ShowHandle{"show": openShow(t)})
	mux := http.NewServeMux()
	s.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sync/shows/show/metadata", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got MetadataDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, int64(1), got.MinID)
	require.Equal(t, int64(1), got.MaxID)
	require.Equal(t, "aac", got.AudioFormat)
}

func TestSourceServerUnknownShow404s(t *testing.T) {
	s := NewSourceServer(map[string]ShowHandle{"show": openShow(t)})
	mux := http.NewServeMux()
	s.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sync/shows/missing/metadata", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSourceServerSegmentsBase64EncodesPayload(t *testing.T) {
	s := NewSourceServer(map[string]ShowHandle{"show": openShow(t)})
	mux := http.NewServeMux()
	s.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sync/shows/show/segments?start_id=0&end_id=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var segs []SegmentDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &segs))
	require.Len(t, segs, 1)
	require.Equal(t, []byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}, segs[0].AudioData)
}

func TestPlaybackServerFormat(t *testing.T) {
	p := NewPlaybackServer(openShow(t))
	mux := http.NewServeMux()
	p.Register(mux, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/format", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "aac")
}

func TestPlaybackServerAACSegmentServesRawBytes(t *testing.T) {
	p := NewPlaybackServer(openShow(t))
	mux := http.NewServeMux()
	p.Register(mux, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/aac-segment/1.aac", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}, rec.Body.Bytes())
}
