// Package chunker implements C5: grouping C4's encoded frames into
// chunks at a configurable wall-clock interval and persisting them via
// the Store, while carrying the session-wide bookkeeping that keeps
// the gapless invariant (I3) true across chunk and section boundaries.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/andrewtheguy/saveaudiostream/internal/encode"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/oggcontainer"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

// ErrTimestampDrift is fatal for the session: encoding and wall-clock
// elapsed time have diverged beyond the configured slew (spec §4.5's
// "Fatal boundary condition").
var ErrTimestampDrift = errors.New("chunker: timestamp drift exceeds configured slew")

// Config controls chunk-splitting behavior for one session.
type Config struct {
	SplitIntervalSeconds int // 0 means "never split"
	TargetSampleRateHz   int
	MaxDriftMs           int64 // recommended 500ms; 0 disables the check
	OpusSerial           uint32
}

// Chunker accumulates encoded frames and flushes closed chunks to a
// Store, one Section per session.
type Chunker struct {
	st     store.Store
	format model.AudioFormat
	cfg    Config

	sectionID      int64
	sessionStartMs int64

	splitIntervalSamples int64
	samplesInSection     int64
	samplesInChunk       int64
	firstChunkInSection  bool

	pendingOpus []oggcontainer.Packet
	pendingRaw  []byte // AAC ADTS / WAV payload accumulation

	samplesInSectionAtChunkStart int64
	opusGranuleAtChunkStart      int64
}

// Open starts a new session's chunker: section_id is fixed at session
// start (microseconds since epoch, spec §4.5), and the Section row is
// created immediately.
func Open(ctx context.Context, st store.Store, format model.AudioFormat, sectionID, sessionStartMs int64, cfg Config) (*Chunker, error) {
	if err := st.OpenSection(ctx, sectionID, sessionStartMs); err != nil {
		return nil, fmt.Errorf("chunker: open section: %w", err)
	}
	splitSamples := int64(0)
	if cfg.SplitIntervalSeconds > 0 {
		splitSamples = int64(cfg.SplitIntervalSeconds) * int64(cfg.TargetSampleRateHz)
	}
	if cfg.OpusSerial == 0 {
		cfg.OpusSerial = uint32(sectionID)
	}
	return &Chunker{
		st:                   st,
		format:               format,
		cfg:                  cfg,
		sectionID:            sectionID,
		sessionStartMs:       sessionStartMs,
		splitIntervalSamples: splitSamples,
		firstChunkInSection:  true,
	}, nil
}

// Push appends one encoded frame to the in-flight chunk buffer,
// closing and persisting the chunk once the configured split interval
// is crossed at a frame boundary (spec §4.5 steps 1-3).
func (c *Chunker) Push(ctx context.Context, frame encode.EncodedFrame, wallClockElapsedMs int64) error {
	if len(c.pendingOpus) == 0 && len(c.pendingRaw) == 0 {
		c.samplesInSectionAtChunkStart = c.samplesInSection
	}

	switch c.format {
	case model.FormatOpus:
		c.samplesInSection += int64(frame.SampleCount)
		c.pendingOpus = append(c.pendingOpus, oggcontainer.Packet{
			Data:    frame.Payload,
			Granule: uint64(c.samplesInSection),
		})
	default:
		c.samplesInSection += int64(frame.SampleCount)
		c.pendingRaw = append(c.pendingRaw, frame.Payload...)
	}
	c.samplesInChunk += int64(frame.SampleCount)

	if c.cfg.MaxDriftMs > 0 {
		encodedMs := int64(1000 * float64(c.samplesInSection) / float64(c.cfg.TargetSampleRateHz))
		drift := encodedMs - wallClockElapsedMs
		if drift < 0 {
			drift = -drift
		}
		if drift > c.cfg.MaxDriftMs {
			return fmt.Errorf("%w: %dms", ErrTimestampDrift, drift)
		}
	}

	if c.splitIntervalSamples > 0 && c.samplesInChunk >= c.splitIntervalSamples {
		return c.closeChunk(ctx)
	}
	return nil
}

// Finish flushes whatever is buffered as a final, possibly short,
// chunk. Safe to call even if nothing is pending.
func (c *Chunker) Finish(ctx context.Context) error {
	if len(c.pendingOpus) == 0 && len(c.pendingRaw) == 0 {
		return nil
	}
	return c.closeChunk(ctx)
}

func (c *Chunker) closeChunk(ctx context.Context) error {
	payload, err := c.buildPayload()
	if err != nil {
		return fmt.Errorf("chunker: build payload: %w", err)
	}

	var timestampMs int64
	var fromSource bool
	if c.firstChunkInSection {
		timestampMs = c.sessionStartMs
		fromSource = true
	} else {
		timestampMs = c.sessionStartMs + int64(math.Round(1000*float64(c.samplesInSectionAtChunkStart)/float64(c.cfg.TargetSampleRateHz)))
		fromSource = false
	}

	if _, err := c.st.AppendChunk(ctx, c.sectionID, payload, timestampMs, fromSource); err != nil {
		return fmt.Errorf("chunker: append chunk: %w", err)
	}

	c.firstChunkInSection = false
	c.samplesInChunk = 0
	c.pendingOpus = nil
	c.pendingRaw = nil
	return nil
}

func (c *Chunker) buildPayload() ([]byte, error) {
	switch c.format {
	case model.FormatOpus:
		return oggcontainer.BuildChunk(c.cfg.OpusSerial, uint32(c.cfg.TargetSampleRateHz), 0, c.pendingOpus)
	default:
		return c.pendingRaw, nil
	}
}
