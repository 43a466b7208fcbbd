package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/andrewtheguy/saveaudiostream/internal/audiofmt"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

// SQLiteStore is the sender-side embedded Store backend (spec §9's
// "sender SQLite-like" variant). One writer (the recording pipeline)
// owns it; readers share it through database/sql's own pool.
type SQLiteStore struct {
	db *sql.DB

	// meta is loaded once at OpenSQLite and cached for the life of the
	// process, which is what gives the §4.6 "role check... once per
	// process" rule for free — AppendChunk/OpenSection just read it.
	meta model.Metadata
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sections (
	id                 INTEGER PRIMARY KEY,
	start_timestamp_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sections_start_ts ON sections (start_timestamp_ms);

CREATE TABLE IF NOT EXISTS chunks (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	section_id               INTEGER NOT NULL REFERENCES sections(id),
	timestamp_ms             INTEGER NOT NULL,
	is_timestamp_from_source INTEGER NOT NULL,
	audio_data               BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_section ON chunks (section_id);
CREATE INDEX IF NOT EXISTS idx_chunks_source_ts ON chunks (is_timestamp_from_source, timestamp_ms);
`

// OpenSQLite opens (creating if absent) the embedded database at path,
// and validates or seeds it against expected (spec §4.6 open_or_create).
func OpenSQLite(path string, expected ExpectedMetadata) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			slog.Warn("store: pragma failed", "pragma", pragma, "error", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.openOrSeedMetadata(expected); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) openOrSeedMetadata(expected ExpectedMetadata) error {
	existing, err := s.loadMetadata()
	if err != nil {
		return err
	}

	if existing == nil {
		m := model.Metadata{
			Version:           1,
			UniqueID:          uuid.NewString(),
			Name:              expected.Name,
			AudioFormat:       expected.AudioFormat,
			BitrateKbps:       expected.BitrateKbps,
			SampleRateHz:      expected.SampleRateHz,
			SplitInterval:     expected.SplitInterval,
			IsRecipient:       expected.IsRecipient,
			AACPrimingSamples: 2048,
		}
		if err := s.writeMetadata(m); err != nil {
			return err
		}
		s.meta = m
		return nil
	}

	if existing.AudioFormat != expected.AudioFormat ||
		existing.BitrateKbps != expected.BitrateKbps ||
		existing.SampleRateHz != expected.SampleRateHz ||
		existing.IsRecipient != expected.IsRecipient {
		return fmt.Errorf("%w: have format=%s bitrate=%d rate=%d recipient=%v, want format=%s bitrate=%d rate=%d recipient=%v",
			ErrMetadataMismatch,
			existing.AudioFormat, existing.BitrateKbps, existing.SampleRateHz, existing.IsRecipient,
			expected.AudioFormat, expected.BitrateKbps, expected.SampleRateHz, expected.IsRecipient)
	}
	s.meta = *existing
	return nil
}

func (s *SQLiteStore) loadMetadata() (*model.Metadata, error) {
	rows, err := s.db.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("store: load metadata: %w", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(kv) == 0 {
		return nil, nil
	}
	m := metadataFromKV(kv)
	return &m, nil
}

func (s *SQLiteStore) writeMetadata(m model.Metadata) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range metadataToKV(m) {
		if _, err := tx.Exec(
			`INSERT INTO metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			k, v,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Metadata(ctx context.Context) (model.Metadata, error) {
	return s.meta, nil
}

func (s *SQLiteStore) OpenSection(ctx context.Context, sectionID, startTsMs int64) error {
	if s.meta.IsRecipient {
		return ErrRoleViolation
	}

	var existingStart int64
	err := s.db.QueryRowContext(ctx, `SELECT start_timestamp_ms FROM sections WHERE id = ?`, sectionID).Scan(&existingStart)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.ExecContext(ctx, `INSERT INTO sections (id, start_timestamp_ms) VALUES (?, ?)`, sectionID, startTsMs)
		return err
	case err != nil:
		return err
	case existingStart != startTsMs:
		return fmt.Errorf("%w: section %d has start_timestamp_ms=%d, got %d", ErrSectionConflict, sectionID, existingStart, startTsMs)
	default:
		return nil // idempotent re-open (P6)
	}
}

func (s *SQLiteStore) AppendChunk(ctx context.Context, sectionID int64, payload []byte, timestampMs int64, isFromSource bool) (int64, error) {
	if s.meta.IsRecipient {
		return 0, ErrRoleViolation
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (section_id, timestamp_ms, is_timestamp_from_source, audio_data) VALUES (?, ?, ?, ?)`,
		sectionID, timestampMs, boolToInt(isFromSource), payload,
	)
	if err != nil {
		return 0, fmt.Errorf("store: append chunk: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ReadChunks(ctx context.Context, startID, endID int64, limit int) ([]model.Chunk, error) {
	query := `SELECT id, section_id, timestamp_ms, is_timestamp_from_source, audio_data
	          FROM chunks WHERE id >= ? AND id <= ? ORDER BY id ASC`
	args := []any{startID, endID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: read chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var fromSource int
		if err := rows.Scan(&c.ID, &c.SectionID, &c.TimestampMs, &fromSource, &c.AudioData); err != nil {
			return nil, err
		}
		c.IsTimestampFromSource = fromSource != 0
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ListSections(ctx context.Context, startTsMs, endTsMs int64) ([]model.SectionSummary, error) {
	query := `SELECT id, start_timestamp_ms FROM sections`
	var args []any
	if startTsMs > 0 || endTsMs > 0 {
		query += ` WHERE start_timestamp_ms >= ? AND start_timestamp_ms <= ?`
		args = append(args, startTsMs, endTsMs)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var sections []model.SectionSummary
	for rows.Next() {
		var id, startTs int64
		if err := rows.Scan(&id, &startTs); err != nil {
			rows.Close()
			return nil, err
		}
		sections = append(sections, model.SectionSummary{SectionID: id, StartTimestamp: startTs})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sections {
		sum, err := s.summarizeSection(ctx, sections[i].SectionID)
		if err != nil {
			return nil, err
		}
		sections[i].FirstChunkID = sum.FirstChunkID
		sections[i].LastChunkID = sum.LastChunkID
		sections[i].DurationS = sum.DurationS
	}
	return sections, nil
}

func (s *SQLiteStore) summarizeSection(ctx context.Context, sectionID int64) (model.SectionSummary, error) {
	var first, last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(id), MAX(id) FROM chunks WHERE section_id = ?`, sectionID,
	).Scan(&first, &last); err != nil {
		return model.SectionSummary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT audio_data FROM chunks WHERE section_id = ? ORDER BY id ASC`, sectionID)
	if err != nil {
		return model.SectionSummary{}, err
	}
	defer rows.Close()

	var duration float64
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return model.SectionSummary{}, err
		}
		duration += audiofmt.Duration(s.meta.AudioFormat, s.meta.SampleRateHz, payload)
	}

	return model.SectionSummary{
		SectionID:    sectionID,
		FirstChunkID: first.Int64,
		LastChunkID:  last.Int64,
		DurationS:    duration,
	}, rows.Err()
}

// Prune removes whole sections whose estimated end precedes cutoffMs,
// honoring the "keeps at minimum the entire most recent retention
// horizon" rule by never touching a section whose own start is within
// the horizon even if its estimated end (start + duration) is unknown
// until summarized (spec §4.6, §9 Open Question b — horizon by wall
// clock, not section count; see DESIGN.md).
func (s *SQLiteStore) Prune(ctx context.Context, cutoffMs int64) (int, error) {
	sections, err := s.ListSections(ctx, 0, 0)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sec := range sections {
		estimatedEndMs := sec.StartTimestamp + int64(sec.DurationS*1000)
		if estimatedEndMs >= cutoffMs {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return removed, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE section_id = ?`, sec.SectionID); err != nil {
			tx.Rollback()
			return removed, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE id = ?`, sec.SectionID); err != nil {
			tx.Rollback()
			return removed, err
		}
		if err := tx.Commit(); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		slog.Info("store: pruned sections", "count", removed, "cutoff_ms", cutoffMs)
	}
	return removed, nil
}

func (s *SQLiteStore) MinMaxChunkID(ctx context.Context) (int64, int64, error) {
	var min, max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MIN(id), MAX(id) FROM chunks`).Scan(&min, &max)
	return min.Int64, max.Int64, err
}

func (s *SQLiteStore) SetLastSyncedID(ctx context.Context, id int64) error {
	if !s.meta.IsRecipient {
		return ErrRoleViolation
	}
	s.meta.LastSyncedID = id
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('last_synced_id', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", id),
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
