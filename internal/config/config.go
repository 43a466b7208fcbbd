// Package config defines the narrow, code-level configuration surface
// CLI flag parsing and config-file loading are explicit collaborators
// of (spec §1/§6 Non-goals exclude a built-in file-format parser):
// ShowConfig is what cmd/record needs to construct one session.Controller,
// and KVStore is a thread-safe cache over a database's raw key/value
// metadata rows, adapted from the teacher's internal/config.Config (a
// thread-safe cache over a SQL table) but retargeted at the Store's own
// "metadata" table (spec §3) instead of a DJ-app settings table — useful
// for operator tooling (cmd/inspect's raw metadata dump) that wants
// every stored key/value pair, not just the fields model.Metadata
// exposes as typed struct fields.
package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

// ShowConfig is everything cmd/record needs to run one show: the
// stream to capture, the format/rate/bitrate/split-interval a fresh
// database is seeded with, and the daily UTC recording window (spec
// §4.7). A caller builds these directly or wires in its own
// YAML/TOML/flag loader — none is implemented here.
type ShowConfig struct {
	Name          string            `json:"name"`
	StreamURL     string            `json:"stream_url"`
	DBPath        string            `json:"db_path"`
	AudioFormat   model.AudioFormat `json:"audio_format"`
	BitrateKbps   int               `json:"bitrate_kbps"`
	SampleRateHz  int               `json:"sample_rate_hz"`
	SplitInterval int               `json:"split_interval"`
	MaxDriftMs    int64             `json:"max_drift_ms"`

	// RecordStartMinute/RecordEndMinute are minutes since UTC midnight,
	// matching session.Schedule.
	RecordStartMinute int `json:"record_start_minute"`
	RecordEndMinute   int `json:"record_end_minute"`
}

// LoadShowConfigs reads a JSON array of ShowConfig from path. This is
// the narrow bridge cmd/record needs to get from "-c <config>" to a
// []ShowConfig — not the YAML/TOML/flag config-file parser spec §1/§6
// name as an explicit Non-goal collaborator; encoding/json is stdlib,
// and anything richer (env overlays, secret refs, schema validation)
// is left to whatever loader a deployment wires in instead.
func LoadShowConfigs(path string) ([]ShowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var shows []ShowConfig
	if err := json.Unmarshal(data, &shows); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(shows) == 0 {
		return nil, fmt.Errorf("config: %s declares no shows", path)
	}
	return shows, nil
}

// ReceiverShow is one show cmd/receiver replicates: which recording
// server to pull from and what show name to ask it for.
type ReceiverShow struct {
	Name          string `json:"name"`
	SourceBaseURL string `json:"source_base_url"`
}

// ReceiverConfig is everything cmd/receiver needs: a Postgres admin
// DSN for creating/opening per-show replica databases (spec §9's
// "<prefix>_<show>" naming) and the list of shows to sync.
type ReceiverConfig struct {
	PostgresDSN string         `json:"postgres_dsn"`
	DBPrefix    string         `json:"db_prefix"`
	Shows       []ReceiverShow `json:"shows"`
}

// LoadReceiverConfig reads a JSON ReceiverConfig from path, the
// receiver-side counterpart of LoadShowConfigs.
func LoadReceiverConfig(path string) (ReceiverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReceiverConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var rc ReceiverConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return ReceiverConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(rc.Shows) == 0 {
		return ReceiverConfig{}, fmt.Errorf("config: %s declares no shows", path)
	}
	return rc, nil
}

// KVStore provides thread-safe access to the raw key/value rows of a
// show's metadata table, independent of the Store interface's typed
// model.Metadata accessor.
type KVStore struct {
	db    *sql.DB
	cache map[string]string
	mu    sync.RWMutex
}

// NewKVStore creates a KVStore backed by the given database and loads
// its current contents into the cache.
func NewKVStore(db *sql.DB) *KVStore {
	c := &KVStore{db: db, cache: make(map[string]string)}
	c.loadAll()
	return c
}

// Get returns the value for key, or fallback if not present.
func (c *KVStore) Get(key, fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.cache[key]; ok {
		return v
	}
	return fallback
}

// Set persists a key/value pair and updates the cache. Reserved for
// operator-settable fields outside model.Metadata's fixed set; none of
// spec §3's Metadata fields are mutated through this path once a
// database is created.
func (c *KVStore) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return err
	}
	c.cache[key] = value
	return nil
}

// All returns a copy of every metadata key/value pair currently cached.
func (c *KVStore) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

func (c *KVStore) loadAll() {
	rows, err := c.db.Query("SELECT key, value FROM metadata")
	if err != nil {
		slog.Error("config: failed to load metadata kv", "error", err)
		return
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var k, v string
		if rows.Scan(&k, &v) == nil {
			c.cache[k] = v
		}
	}
	if err := rows.Err(); err != nil {
		slog.Error("config: metadata kv iteration error", "error", err)
	}
}
