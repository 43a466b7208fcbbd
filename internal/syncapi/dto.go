// Package syncapi implements C9 (the GET-only Sync Source API a
// recording server exposes to replicas) and the playback endpoints
// spec §6 lists for inspect/receiver modes, both built as plain
// net/http handlers in the teacher's internal/handlers style: a struct
// holding dependencies, json.NewEncoder responses, http.Error for failure paths, r.PathValue/r.URL.Query for
// routing parameters.
package syncapi

import "github.com/andrewtheguy/saveaudiostream/internal/model"

// ShowDTO is one entry of GET /api/sync/shows.
type ShowDTO struct {
	Name        string `json:"name"`
	AudioFormat string `json:"audio_format"`
}

// MetadataDTO is the immutable-fields-plus-bounds response spec §4.9(c)
// describes: enough for a replica to compute its resume point without a
// second round trip.
type MetadataDTO struct {
	Name              string `json:"name"`
	AudioFormat       string `json:"audio_format"`
	BitrateKbps       int    `json:"bitrate_kbps,omitempty"`
	SampleRateHz      int    `json:"sample_rate_hz"`
	SplitInterval     int    `json:"split_interval"`
	AACPrimingSamples int    `json:"aac_priming_samples,omitempty"`
	MinID             int64  `json:"min_id"`
	MaxID             int64  `json:"max_id"`
}

// SectionDTO is one entry of GET .../sections.
type SectionDTO struct {
	ID               int64 `json:"id"`
	StartTimestampMs int64 `json:"start_timestamp_ms"`
}

// SegmentDTO is one entry of GET .../segments — the wire shape for a
// Chunk, with the payload base64-encoded by encoding/json's default
// []byte handling (spec §4.9(b)).
type SegmentDTO struct {
	ID                    int64  `json:"id"`
	TimestampMs           int64  `json:"timestamp_ms"`
	IsTimestampFromSource bool   `json:"is_timestamp_from_source"`
	AudioData             []byte `json:"audio_data"`
	SectionID             int64  `json:"section_id"`
}

func toMetadataDTO(m model.Metadata, minID, maxID int64) MetadataDTO {
	return MetadataDTO{
		Name:              m.Name,
		AudioFormat:       string(m.AudioFormat),
		BitrateKbps:       m.BitrateKbps,
		SampleRateHz:      m.SampleRateHz,
		SplitInterval:     m.SplitInterval,
		AACPrimingSamples: m.AACPrimingSamples,
		MinID:             minID,
		MaxID:             maxID,
	}
}

func toSegmentDTO(c model.Chunk) SegmentDTO {
	return SegmentDTO{
		ID:                    c.ID,
		TimestampMs:           c.TimestampMs,
		IsTimestampFromSource: c.IsTimestampFromSource,
		AudioData:             c.AudioData,
		SectionID:             c.SectionID,
	}
}
