// Package store defines the embedded relational log of sessions, chunks,
// and metadata (spec §3, §4.6). Two backends implement the same Store
// interface: sqlite (sender, local, single-writer) and postgres (replica,
// receiver side) — see sqlite.go and postgres.go.
package store

import (
	"context"
	"errors"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

// Sentinel errors — spec §7 error kinds this package is responsible for.
var (
	// ErrMetadataMismatch is returned by OpenSQLite/OpenPostgres when an existing
	// database disagrees with the expected immutable fields.
	ErrMetadataMismatch = errors.New("store: metadata mismatch")

	// ErrRoleViolation is returned when the recording pipeline writes to
	// a recipient database, or a replication write targets a sender.
	ErrRoleViolation = errors.New("store: role violation")

	// ErrSectionConflict is returned by OpenSection when an existing
	// section id has a different start timestamp (I2/I6 integrity).
	ErrSectionConflict = errors.New("store: section start_timestamp_ms conflict")
)

// Store is the capability set both backends provide. All methods are
// safe for concurrent use by multiple readers; AppendChunk/OpenSection/
// Prune assume a single writer per database (spec §5).
type Store interface {
	// Metadata returns the immutable + mutable metadata row as currently
	// persisted.
	Metadata(ctx context.Context) (model.Metadata, error)

	// OpenSection inserts a Section row, idempotent for identical
	// arguments (P6). Fatal (ErrSectionConflict) on a differing
	// start_ts_ms for an existing id.
	OpenSection(ctx context.Context, sectionID, startTsMs int64) error

	// AppendChunk inserts a Chunk row as its own transaction and returns
	// the assigned monotonic id. Returns ErrRoleViolation if this store
	// is a recipient.
	AppendChunk(ctx context.Context, sectionID int64, payload []byte, timestampMs int64, isFromSource bool) (int64, error)

	// ReadChunks yields Chunks with id in [startID, endID], ascending.
	ReadChunks(ctx context.Context, startID, endID int64, limit int) ([]model.Chunk, error)

	// ListSections returns sections (optionally restricted to a time
	// range) with derived first/last chunk id and duration.
	ListSections(ctx context.Context, startTsMs, endTsMs int64) ([]model.SectionSummary, error)

	// Prune removes whole sections whose estimated end precedes cutoffMs.
	Prune(ctx context.Context, cutoffMs int64) (int, error)

	// MinMaxChunkID returns the current chunk id bounds (0,0 if empty),
	// used by Sync Source API metadata responses.
	MinMaxChunkID(ctx context.Context) (min, max int64, err error)

	// SetLastSyncedID persists replica sync progress (replicas only).
	SetLastSyncedID(ctx context.Context, id int64) error

	Close() error
}

// ExpectedMetadata is what OpenSQLite/OpenPostgres validate an existing database
// against, or seeds a new one with.
type ExpectedMetadata struct {
	Name          string
	AudioFormat   model.AudioFormat
	BitrateKbps   int
	SampleRateHz  int
	SplitInterval int
	IsRecipient   bool
}

