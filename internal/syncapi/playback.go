package syncapi

import (
	"net/http"
	"strconv"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/playlist"
)

// PlaybackServer serves the spec §6 playback endpoints for one show:
// HLS playlist/segment routes for whichever codec the show was created
// with, plus the plain JSON inspection endpoints (sessions, segment
// range, metadata, format). Used standalone by cmd/inspect (one
// database, routes at the mux root) and wrapped with a "/show/{name}"
// prefix by cmd/receiver for its synced shows.
type PlaybackServer struct {
	sh ShowHandle
}

// NewPlaybackServer builds a playback server for one show.
func NewPlaybackServer(sh ShowHandle) *PlaybackServer {
	return &PlaybackServer{sh: sh}
}

// Register attaches this show's playback routes to mux under prefix
// (empty for cmd/inspect's root-level single-show server, "/show/name"
// for cmd/receiver's multi-show server).
func (p *PlaybackServer) Register(mux *http.ServeMux, prefix string) {
	switch p.sh.Format {
	case model.FormatOpus:
		mux.HandleFunc("GET "+prefix+"/opus-playlist.m3u8", p.handlePlaylist)
		mux.HandleFunc("GET "+prefix+"/opus-segment/{id}", p.handleOpusSegment)
		mux.HandleFunc("GET "+prefix+"/init.mp4", p.handleInitSegment)
	case model.FormatAAC:
		mux.HandleFunc("GET "+prefix+"/playlist.m3u8", p.handlePlaylist)
		mux.HandleFunc("GET "+prefix+"/aac-segment/{id}", p.handleAACSegment)
	}
	mux.HandleFunc("GET "+prefix+"/api/sessions", p.handleSessions)
	mux.HandleFunc("GET "+prefix+"/api/segments/range", p.handleSegmentsRange)
	mux.HandleFunc("GET "+prefix+"/api/metadata", p.handleMetadata)
	mux.HandleFunc("GET "+prefix+"/api/format", p.handleFormat)
}

func (p *PlaybackServer) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	startID, _ := strconv.ParseInt(r.URL.Query().Get("start_id"), 10, 64)
	endID, err := strconv.ParseInt(r.URL.Query().Get("end_id"), 10, 64)
	if err != nil {
		minID, maxID, mmErr := p.sh.Store.MinMaxChunkID(r.Context())
		if mmErr != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		startID, endID = minID, maxID
	}
	text, err := playlist.Build(r.Context(), p.sh.Store, p.sh.Format, p.sh.SampleRateHz, startID, endID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(text))
}

func (p *PlaybackServer) handleInitSegment(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Write(playlist.InitSegment(p.sh.SampleRateHz))
}

func (p *PlaybackServer) handleOpusSegment(w http.ResponseWriter, r *http.Request) {
	p.serveSegment(w, r, model.FormatOpus)
}

func (p *PlaybackServer) handleAACSegment(w http.ResponseWriter, r *http.Request) {
	p.serveSegment(w, r, model.FormatAAC)
}

func (p *PlaybackServer) serveSegment(w http.ResponseWriter, r *http.Request, format model.AudioFormat) {
	id, err := parseSegmentID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "bad segment id", http.StatusBadRequest)
		return
	}
	data, contentType, err := playlist.Segment(r.Context(), p.sh.Store, format, p.sh.SampleRateHz, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// parseSegmentID strips a trailing extension (".m4s", ".aac") from the
// {id} path wildcard before parsing, since net/http's PathValue doesn't
// do extension-aware routing.
func parseSegmentID(raw string) (int64, error) {
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == '.' {
			raw = raw[:i]
			break
		}
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (p *PlaybackServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	var startTs, endTs int64
	if v := r.URL.Query().Get("start_ts"); v != "" {
		startTs, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("end_ts"); v != "" {
		endTs, _ = strconv.ParseInt(v, 10, 64)
	}
	sections, err := p.sh.Store.ListSections(r.Context(), startTs, endTs)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sections)
}

func (p *PlaybackServer) handleSegmentsRange(w http.ResponseWriter, r *http.Request) {
	startID, _ := strconv.ParseInt(r.URL.Query().Get("start_id"), 10, 64)
	endID, err := strconv.ParseInt(r.URL.Query().Get("end_id"), 10, 64)
	if err != nil {
		endID = 1 << 62
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	chunks, err := p.sh.Store.ReadChunks(r.Context(), startID, endID, limit)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	out := make([]SegmentDTO, len(chunks))
	for i, c := range chunks {
		out[i] = toSegmentDTO(c)
	}
	writeJSON(w, out)
}

func (p *PlaybackServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	m, err := p.sh.Store.Metadata(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	minID, maxID, err := p.sh.Store.MinMaxChunkID(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toMetadataDTO(m, minID, maxID))
}

func (p *PlaybackServer) handleFormat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"audio_format":   string(p.sh.Format),
		"sample_rate_hz": p.sh.SampleRateHz,
	})
}
