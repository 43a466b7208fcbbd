package syncclient

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

// fakeSource serves a minimal C9 surface backed by a sender store, for
// exercising Puller without a real network.
func fakeSource(t *testing.T, sender store.Store) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sync/shows/show/metadata", func(w http.ResponseWriter, r *http.Request) {
		minID, maxID, err := sender.MinMaxChunkID(r.Context())
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]int64{"min_id": minID, "max_id": maxID})
	})
	mux.HandleFunc("GET /api/sync/shows/show/sections", func(w http.ResponseWriter, r *http.Request) {
		sections, err := sender.ListSections(r.Context(), 0, 0)
		require.NoError(t, err)
		out := make([]map[string]int64, len(sections))
		for i, s := range sections {
			out[i] = map[string]int64{"id": s.SectionID, "start_timestamp_ms": s.StartTimestamp}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /api/sync/shows/show/segments", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		startID := parseInt(q.Get("start_id"))
		endID := parseInt(q.Get("end_id"))
		limit := int(parseInt(q.Get("limit")))
		chunks, err := sender.ReadChunks(r.Context(), startID, endID, limit)
		require.NoError(t, err)
		type seg struct {
			ID                    int64  `json:"id"`
			TimestampMs           int64  `json:"timestamp_ms"`
			IsTimestampFromSource bool   `json:"is_timestamp_from_source"`
			AudioData             []byte `json:"audio_data"`
			SectionID             int64  `json:"section_id"`
		}
		out := make([]seg, len(chunks))
		for i, c := range chunks {
			out[i] = seg{c.ID, c.TimestampMs, c.IsTimestampFromSource, c.AudioData, c.SectionID}
		}
		json.NewEncoder(w).Encode(out)
	})
	return httptest.NewServer(mux)
}

func parseInt(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func TestPullReplicatesAllChunksFromScratch(t *testing.T) {
	sender, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sender.db"), store.ExpectedMetadata{
		Name: "show", AudioFormat: model.FormatWAV, SampleRateHz: 16000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })

	ctx := context.Background()
	require.NoError(t, sender.OpenSection(ctx, 1, 1000))
	for i := 0; i < 5; i++ {
		_, err := sender.AppendChunk(ctx, 1, []byte{byte(i)}, int64(1000+i), i == 0)
		require.NoError(t, err)
	}

	srv := fakeSource(t, sender)
	defer srv.Close()

	replica, err := store.OpenSQLite(filepath.Join(t.TempDir(), "replica.db"), store.ExpectedMetadata{
		Name: "show", AudioFormat: model.FormatWAV, SampleRateHz: 16000, IsRecipient: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { replica.Close() })

	p := &Puller{SourceBaseURL: srv.URL, Show: "show", Store: replica, ChunkSize: 2}
	result, err := p.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, result.ChunksSynced)
	require.Equal(t, int64(5), result.LastSyncedID)

	chunks, err := replica.ReadChunks(ctx, 0, 1<<62, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
}

func TestPullIsNoOpWhenUpToDate(t *testing.T) {
	sender, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sender.db"), store.ExpectedMetadata{
		Name: "show", AudioFormat: model.FormatWAV, SampleRateHz: 16000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })

	srv := fakeSource(t, sender)
	defer srv.Close()

	replica, err := store.OpenSQLite(filepath.Join(t.TempDir(), "replica.db"), store.ExpectedMetadata{
		Name: "show", AudioFormat: model.FormatWAV, SampleRateHz: 16000, IsRecipient: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { replica.Close() })

	p := &Puller{SourceBaseURL: srv.URL, Show: "show", Store: replica}
	result, err := p.Pull(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.ChunksSynced)
}
