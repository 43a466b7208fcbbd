// Package syncclient implements the replica-side puller referenced by
// spec §6/§9 but not named by any [MODULE] block: cmd/receiver's
// POST /api/sync handler drives a Puller against one recording server's
// C9 HTTP contract, resuming from max(last_synced_id+1, source.min_id)
// and replaying sections/chunks into a local replica Store (spec
// scenario 4).
package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

// DefaultChunkSize matches the batch size used in spec scenario 4.
const DefaultChunkSize = 100

// Puller pulls one show's chunks from a C9 server into a local replica
// Store. Stateless between calls other than the HTTP client: resume
// position is read from (and written back to) the Store itself via
// Metadata.LastSyncedID / SetLastSyncedID.
type Puller struct {
	SourceBaseURL string
	Show          string
	Store         store.Store
	ChunkSize     int
	HTTPClient    *http.Client
}

type metadataResponse struct {
	MinID int64 `json:"min_id"`
	MaxID int64 `json:"max_id"`
}

type sectionResponse struct {
	ID               int64 `json:"id"`
	StartTimestampMs int64 `json:"start_timestamp_ms"`
}

type segmentResponse struct {
	ID                    int64  `json:"id"`
	TimestampMs           int64  `json:"timestamp_ms"`
	IsTimestampFromSource bool   `json:"is_timestamp_from_source"`
	AudioData             []byte `json:"audio_data"`
	SectionID             int64  `json:"section_id"`
}

// Result summarizes one Pull call, for the receiver's /api/sync/status.
type Result struct {
	ChunksSynced int
	LastSyncedID int64
}

// Pull fetches every chunk not yet replicated and appends it to the
// local Store, paging by ChunkSize (default DefaultChunkSize) until the
// source's max_id is reached.
func (p *Puller) Pull(ctx context.Context) (Result, error) {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var meta metadataResponse
	if err := getJSON(ctx, client, fmt.Sprintf("%s/api/sync/shows/%s/metadata", p.SourceBaseURL, p.Show), &meta); err != nil {
		return Result{}, fmt.Errorf("syncclient: fetch metadata: %w", err)
	}

	local, err := p.Store.Metadata(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("syncclient: local metadata: %w", err)
	}

	start := local.LastSyncedID + 1
	if local.LastSyncedID == 0 || start < meta.MinID {
		start = meta.MinID
	}
	if meta.MaxID == 0 || start > meta.MaxID {
		return Result{LastSyncedID: local.LastSyncedID}, nil
	}

	var sections []sectionResponse
	if err := getJSON(ctx, client, fmt.Sprintf("%s/api/sync/shows/%s/sections", p.SourceBaseURL, p.Show), &sections); err != nil {
		return Result{}, fmt.Errorf("syncclient: fetch sections: %w", err)
	}
	opened := make(map[int64]bool)

	synced := 0
	lastID := local.LastSyncedID
	for start <= meta.MaxID {
		end := start + int64(chunkSize) - 1
		if end > meta.MaxID {
			end = meta.MaxID
		}

		var segments []segmentResponse
		u := fmt.Sprintf("%s/api/sync/shows/%s/segments?start_id=%d&end_id=%d&limit=%d",
			p.SourceBaseURL, p.Show, start, end, chunkSize)
		if err := getJSON(ctx, client, u, &segments); err != nil {
			return Result{LastSyncedID: lastID}, fmt.Errorf("syncclient: fetch segments: %w", err)
		}
		if len(segments) == 0 {
			break
		}

		for _, seg := range segments {
			if !opened[seg.SectionID] {
				startTs := int64(0)
				for _, s := range sections {
					if s.ID == seg.SectionID {
						startTs = s.StartTimestampMs
						break
					}
				}
				if err := p.Store.OpenSection(ctx, seg.SectionID, startTs); err != nil {
					return Result{LastSyncedID: lastID}, fmt.Errorf("syncclient: open section %d: %w", seg.SectionID, err)
				}
				opened[seg.SectionID] = true
			}
			if _, err := p.Store.AppendChunk(ctx, seg.SectionID, seg.AudioData, seg.TimestampMs, seg.IsTimestampFromSource); err != nil {
				return Result{LastSyncedID: lastID}, fmt.Errorf("syncclient: append chunk %d: %w", seg.ID, err)
			}
			lastID = seg.ID
			synced++
		}

		if err := p.Store.SetLastSyncedID(ctx, lastID); err != nil {
			return Result{LastSyncedID: lastID}, fmt.Errorf("syncclient: persist progress: %w", err)
		}
		start = lastID + 1
	}

	return Result{ChunksSynced: synced, LastSyncedID: lastID}, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", strconv.Itoa(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
