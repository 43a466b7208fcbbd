// Package model defines the entities persisted by the Store: the
// per-show Metadata, capture Sections, and encoded Chunks described in
// the data model.
package model

// AudioFormat is the codec a show's database was created with. Immutable
// once a database exists (Metadata.sample_rate/audio_format/bitrate are
// set at creation and never change).
type AudioFormat string

const (
	FormatAAC  AudioFormat = "aac"
	FormatOpus AudioFormat = "opus"
	FormatWAV  AudioFormat = "wav"
)

// TargetSampleRate returns the mono PCM rate the Resampler/Mixer (C3)
// must produce for this format. WAV has no fixed target — the caller's
// configured sample_rate passes through untouched.
func (f AudioFormat) TargetSampleRate(configuredRate int) int {
	switch f {
	case FormatOpus:
		return 48000
	case FormatAAC:
		return 16000
	default:
		return configuredRate
	}
}

// Metadata holds the process-owned settings and invariants for one show,
// stored as key/value rows (spec §3 "Metadata (key/value)").
type Metadata struct {
	Version        int         // schema version
	UniqueID       string      // chosen at creation, stable identity of this database
	Name           string      // show name
	AudioFormat    AudioFormat // aac | opus | wav
	BitrateKbps    int         // absent (0) for wav
	SampleRateHz   int
	SplitInterval  int // seconds; 0 disables splitting
	IsRecipient    bool
	SourceUniqueID string // replicas only
	LastSyncedID   int64  // replicas only

	// AACPrimingSamples records the AAC-LC encoder's inherent delay in
	// samples, fixed at database creation (Open Question (a), §9).
	AACPrimingSamples int
}

// Section represents one uninterrupted HTTP capture session.
type Section struct {
	ID               int64 // microsecond wall clock at creation; monotonic per database
	StartTimestampMs int64 // from the HTTP Date header of that connection
}

// Chunk is one stored, independently-decodable fragment of encoded audio.
type Chunk struct {
	ID                   int64 // dense, strictly increasing, never reused
	TimestampMs          int64
	IsTimestampFromSource bool
	AudioData            []byte
	SectionID            int64
}

// SectionSummary is the aggregate view returned by Store.ListSections.
type SectionSummary struct {
	SectionID      int64
	StartTimestamp int64
	FirstChunkID   int64
	LastChunkID    int64
	DurationS      float64
}
