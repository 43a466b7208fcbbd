// Package playlist implements C8: assembling the Chunks a Store holds
// for one section of a show into an HLS media playlist, and serving the
// individual segments the playlist references (spec §4.8).
//
// Three serving shapes share one Store-backed read path: Opus chunks are
// re-wrapped as fMP4 fragments (internal/playlist/fmp4.go) behind a
// shared #EXT-X-MAP init segment, AAC chunks are served as the raw ADTS
// bytes already stored (no transcoding — spec §4.5 already stores them
// that way), and WAV export synthesizes a standalone file per chunk with
// github.com/go-audio/wav, since stored WAV chunks are headerless PCM.
package playlist

import (
	"context"
	"fmt"
	"io"
	"math"

	m3u8 "github.com/mogiioin/hls-m3u8"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/andrewtheguy/saveaudiostream/internal/audiofmt"
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/oggcontainer"
	"github.com/andrewtheguy/saveaudiostream/internal/store"
)

// InitSegmentPath is the well-known URI every Opus media playlist's
// #EXT-X-MAP points at. Its bytes come from InitSegment, which depends
// only on the show's sample rate since it carries no per-chunk data.
const InitSegmentPath = "init.mp4"

// Build renders the HLS media playlist text for chunks [startID, endID]
// (spec §4.8's playlist(start_id, end_id, codec) contract). codec
// selects the segment URI scheme and extension; the playlist itself is
// always a VOD-type media playlist since a show's history never changes
// once written.
func Build(ctx context.Context, st store.Store, format model.AudioFormat, sampleRateHz int, startID, endID int64) (string, error) {
	chunks, err := st.ReadChunks(ctx, startID, endID, 0)
	if err != nil {
		return "", fmt.Errorf("playlist: read chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("playlist: no chunks in range [%d,%d]", startID, endID)
	}

	maxDuration := 0.0
	for _, c := range chunks {
		if d := audiofmt.Duration(format, sampleRateHz, c.AudioData); d > maxDuration {
			maxDuration = d
		}
	}

	pl, err := m3u8.NewMediaPlaylist(uint(len(chunks)), uint(len(chunks)))
	if err != nil {
		return "", fmt.Errorf("playlist: new media playlist: %w", err)
	}
	pl.MediaType = m3u8.VOD
	// #EXT-X-TARGETDURATION must be an integer number of seconds, at
	// least as large as the longest segment (spec §4.8).
	pl.TargetDuration = uint(math.Ceil(maxDuration))
	pl.SeqNo = 0

	if format == model.FormatOpus {
		pl.Map = &m3u8.Map{URI: InitSegmentPath}
	}

	for _, c := range chunks {
		uri := segmentURI(format, c.ID)
		duration := audiofmt.Duration(format, sampleRateHz, c.AudioData)
		if err := pl.Append(uri, duration, ""); err != nil {
			return "", fmt.Errorf("playlist: append chunk %d: %w", c.ID, err)
		}
	}
	pl.Close()

	return pl.Encode().String(), nil
}

func segmentURI(format model.AudioFormat, chunkID int64) string {
	switch format {
	case model.FormatOpus:
		return fmt.Sprintf("opus-segment/%d.m4s", chunkID)
	case model.FormatAAC:
		return fmt.Sprintf("aac-segment/%d.aac", chunkID)
	default:
		return fmt.Sprintf("wav-segment/%d.wav", chunkID)
	}
}

// InitSegment returns the fMP4 initialization segment shared by every
// Opus media playlist this show ever serves.
func InitSegment(sampleRateHz int) []byte {
	return buildInitSegment(sampleRateHz)
}

// Segment returns the bytes and content-type for one stored chunk in the
// shape its codec's HLS variant expects (spec §4.8's
// segment(id, codec) → segment_bytes contract).
func Segment(ctx context.Context, st store.Store, format model.AudioFormat, sampleRateHz int, chunkID int64) ([]byte, string, error) {
	chunks, err := st.ReadChunks(ctx, chunkID, chunkID, 1)
	if err != nil {
		return nil, "", fmt.Errorf("playlist: read chunk %d: %w", chunkID, err)
	}
	if len(chunks) == 0 {
		return nil, "", fmt.Errorf("playlist: chunk %d not found", chunkID)
	}
	chunk := chunks[0]

	switch format {
	case model.FormatOpus:
		data, err := opusFragment(ctx, st, chunk.SectionID, chunk.ID, chunk.AudioData, sampleRateHz)
		if err != nil {
			return nil, "", err
		}
		return data, "video/iso.segment", nil

	case model.FormatAAC:
		return chunk.AudioData, "audio/aac", nil

	default: // wav
		data, err := wavFile(chunk.AudioData, sampleRateHz)
		if err != nil {
			return nil, "", err
		}
		return data, "audio/wav", nil
	}
}

// opusFragment re-demuxes a chunk's self-contained Ogg stream back into
// raw Opus packets and re-wraps them as an fMP4 fragment, with
// baseMediaDecodeTime set to the sample position this chunk starts at
// within its section (spec §4.8 point 4) — computed by summing the
// frame counts of every earlier chunk in the same section, since the
// Store carries no derived sample-offset column.
func opusFragment(ctx context.Context, st store.Store, sectionID, chunkID int64, payload []byte, sampleRateHz int) ([]byte, error) {
	pages, err := oggcontainer.Demux(payload)
	if err != nil {
		return nil, fmt.Errorf("playlist: demux chunk %d: %w", chunkID, err)
	}
	packets := oggcontainer.AudioPackets(pages)

	baseSamples, err := samplesBeforeChunk(ctx, st, sectionID, chunkID)
	if err != nil {
		return nil, err
	}

	return buildMediaFragment(uint32(chunkID), uint64(baseSamples), packets), nil
}

func samplesBeforeChunk(ctx context.Context, st store.Store, sectionID, chunkID int64) (int64, error) {
	chunks, err := st.ReadChunks(ctx, 0, chunkID-1, 0)
	if err != nil {
		return 0, fmt.Errorf("playlist: read preceding chunks: %w", err)
	}
	var total int64
	for _, c := range chunks {
		if c.SectionID != sectionID {
			continue
		}
		total += int64(audiofmt.CountOpusFrames(c.AudioData) * audiofmt.OpusFrameSamples)
	}
	return total, nil
}

// ExportWAV synthesizes a standalone WAV file from concatenated
// headerless S16LE mono PCM payload bytes — used by the Sync Source
// API's section export endpoint (spec §6) as well as per-chunk segment
// serving.
func ExportWAV(payload []byte, sampleRateHz int) ([]byte, error) {
	return wavFile(payload, sampleRateHz)
}

// wavFile synthesizes a standalone, single-chunk WAV file from the
// headerless S16LE mono PCM the Store holds for WAV shows.
func wavFile(payload []byte, sampleRateHz int) ([]byte, error) {
	samples := make([]int, len(payload)/2)
	for i := range samples {
		lo, hi := payload[2*i], payload[2*i+1]
		v := int16(uint16(lo) | uint16(hi)<<8)
		samples[i] = int(v)
	}

	// go-audio/wav.NewEncoder requires an io.WriteSeeker — Close() seeks
	// back to patch the RIFF/data chunk sizes once the body length is
	// known — so an in-memory buffer needs Seek, not just Write.
	dst := &memWriteSeeker{}
	enc := wav.NewEncoder(dst, sampleRateHz, 16, 1, 1)
	ib := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRateHz, NumChannels: 1},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("playlist: wav encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("playlist: wav close: %w", err)
	}
	return dst.buf, nil
}

// memWriteSeeker is the smallest io.WriteSeeker over an in-memory
// buffer: wav.Encoder writes the body sequentially, then seeks back to
// patch header length fields once the total size is known.
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("playlist: memWriteSeeker: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("playlist: memWriteSeeker: negative seek position")
	}
	m.pos = newPos
	return newPos, nil
}

// ExportOgg re-demuxes every chunk's self-contained Ogg stream and
// re-muxes the extracted Opus packets into one continuous logical
// stream with monotonically increasing granule positions. Spec §4.5 is
// explicit that concatenating chunks' raw bytes does not produce a
// valid Ogg file — each chunk carries its own OpusHead/BOS/serial — so
// a conforming .ogg export (spec §6 sections/{id}/export) must restitch
// packets the same way the fMP4 segment path already does via
// oggcontainer.Demux/AudioPackets, or the gapless invariant (I3/P1) is
// violated at export time even though it holds in the stored chunks.
func ExportOgg(chunks []model.Chunk, serial uint32, sampleRateHz int) ([]byte, error) {
	var packets []oggcontainer.Packet
	var samples uint64
	for _, c := range chunks {
		pages, err := oggcontainer.Demux(c.AudioData)
		if err != nil {
			return nil, fmt.Errorf("playlist: demux chunk %d: %w", c.ID, err)
		}
		for _, pkt := range oggcontainer.AudioPackets(pages) {
			samples += audiofmt.OpusFrameSamples
			packets = append(packets, oggcontainer.Packet{Data: pkt, Granule: samples})
		}
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("playlist: export: no Opus packets found")
	}
	return oggcontainer.BuildChunk(serial, uint32(sampleRateHz), 0, packets)
}
