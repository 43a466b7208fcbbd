package syncapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/playlist"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

// ShowHandle is everything a handler needs to serve one show: its
// Store plus the immutable format/rate fields duration math and
// segment encoding depend on.
type ShowHandle struct {
	Store        store.Store
	Format       model.AudioFormat
	SampleRateHz int
}

// SourceServer serves C9, the Sync Source API: stateless GET-only JSON
// handlers a replica's internal/syncclient pulls from.
type SourceServer struct {
	shows map[string]ShowHandle

	exportMu sync.Mutex
	exports  map[string]bool // show -> export in progress
}

// NewSourceServer builds a C9 server over a fixed set of shows, keyed
// by name as configured in cmd/record's ShowConfig list.
func NewSourceServer(shows map[string]ShowHandle) *SourceServer {
	return &SourceServer{shows: shows, exports: make(map[string]bool)}
}

// Register attaches every C9 route to mux.
func (s *SourceServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sync/shows", s.handleShows)
	mux.HandleFunc("GET /api/sync/shows/{name}/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/sync/shows/{name}/sections", s.handleSections)
	mux.HandleFunc("GET /api/sync/shows/{name}/segments", s.handleSegments)
	mux.HandleFunc("GET /api/sync/shows/{name}/sections/{section_id}/export", s.handleExport)
}

func (s *SourceServer) show(name string) (ShowHandle, bool) {
	sh, ok := s.shows[name]
	return sh, ok
}

func (s *SourceServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *SourceServer) handleShows(w http.ResponseWriter, r *http.Request) {
	out := make([]ShowDTO, 0, len(s.shows))
	for name, sh := range s.shows {
		out = append(out, ShowDTO{Name: name, AudioFormat: string(sh.Format)})
	}
	writeJSON(w, map[string]any{"shows": out})
}

func (s *SourceServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.show(r.PathValue("name"))
	if !ok {
		http.Error(w, "show not found", http.StatusNotFound)
		return
	}
	m, err := sh.Store.Metadata(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	minID, maxID, err := sh.Store.MinMaxChunkID(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toMetadataDTO(m, minID, maxID))
}

func (s *SourceServer) handleSections(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.show(r.PathValue("name"))
	if !ok {
		http.Error(w, "show not found", http.StatusNotFound)
		return
	}
	sections, err := sh.Store.ListSections(r.Context(), 0, 0)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	out := make([]SectionDTO, 0, len(sections))
	for _, sec := range sections {
		out = append(out, SectionDTO{ID: sec.SectionID, StartTimestampMs: sec.StartTimestamp})
	}
	writeJSON(w, out)
}

func (s *SourceServer) handleSegments(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.show(r.PathValue("name"))
	if !ok {
		http.Error(w, "show not found", http.StatusNotFound)
		return
	}
	startID, _ := strconv.ParseInt(r.URL.Query().Get("start_id"), 10, 64)
	endID, err := strconv.ParseInt(r.URL.Query().Get("end_id"), 10, 64)
	if err != nil {
		endID = 1<<62
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	chunks, err := sh.Store.ReadChunks(r.Context(), startID, endID, limit)
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

func (s *SourceServer) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sh, ok := s.show(name)
	if !ok {
		http.Error(w, "show not found", http.StatusNotFound)
		return
	}
	sectionID, err := strconv.ParseInt(r.PathValue("section_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad section_id", http.StatusBadRequest)
		return
	}

	s.exportMu.Lock()
	if s.exports[name] {
		s.exportMu.Unlock()
		http.Error(w, "export already in progress", http.StatusConflict)
		return
	}
	s.exports[name] = true
	s.exportMu.Unlock()
	defer func() {
		s.exportMu.Lock()
		delete(s.exports, name)
		s.exportMu.Unlock()
	}()

	sections, err := sh.Store.ListSections(r.Context(), 0, 0)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	var first, last int64 = -1, -1
	for _, sec := range sections {
		if sec.SectionID == sectionID {
			first, last = sec.FirstChunkID, sec.LastChunkID
			break
		}
	}
	if first < 0 {
		http.Error(w, "section not found", http.StatusNotFound)
		return
	}

	chunks, err := sh.Store.ReadChunks(r.Context(), first, last, 0)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	ext, contentType := exportShape(sh.Format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"section-"+strconv.FormatInt(sectionID, 10)+"."+ext+"\"")

	switch sh.Format {
	case model.FormatWAV:
		var all []byte
		for _, c := range chunks {
			all = append(all, c.AudioData...)
		}
		data, err := playlist.ExportWAV(all, sh.SampleRateHz)
		if err != nil {
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		w.Write(data)

	case model.FormatOpus:
		// Raw concatenation of each chunk's self-contained Ogg stream is
		// not a valid single Ogg file — each carries its own BOS page and
		// serial. Re-demux and re-mux into one continuous stream instead.
		data, err := playlist.ExportOgg(chunks, uint32(sectionID), sh.SampleRateHz)
		if err != nil {
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		w.Write(data)

	default: // AAC chunks are already concatenable raw ADTS frames.
		for _, c := range chunks {
			w.Write(c.AudioData)
		}
	}
}

func exportShape(format model.AudioFormat) (ext, contentType string) {
	switch format {
	case model.FormatOpus:
		return "ogg", "audio/ogg"
	case model.FormatAAC:
		return "aac", "audio/aac"
	default:
		return "wav", "audio/wav"
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
