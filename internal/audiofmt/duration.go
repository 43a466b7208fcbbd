// Package audiofmt derives per-chunk frame counts and durations from
// stored payload bytes, without needing a side-channel sample-count
// column on the Chunk row (spec §3 lists audio_data as opaque; §4.6 and
// §4.8 both need duration math derived from it).
package audiofmt

import (
	"github.com/andrewtheguy/saveaudiostream/internal/model"
	"github.com/andrewtheguy/saveaudiostream/internal/oggcontainer"
)

// OpusFrameSamples is the fixed Opus frame size used by the Encoder (C4):
// 20ms at 48kHz.
const OpusFrameSamples = 960

// AACFrameSamples is the fixed AAC-LC frame size used by the Encoder (C4).
const AACFrameSamples = 1024

// CountAACFrames walks raw ADTS frames in payload and returns how many
// there are. A malformed trailing partial frame is ignored.
func CountAACFrames(payload []byte) int {
	n := 0
	i := 0
	for i+7 <= len(payload) {
		if payload[i]&0xFF != 0xFF || payload[i+1]&0xF0 != 0xF0 {
			break // not an ADTS syncword; stop rather than misparse
		}
		frameLen := (int(payload[i+3]&0x03) << 11) | (int(payload[i+4]) << 3) | (int(payload[i+5]) >> 5)
		if frameLen <= 0 || i+frameLen > len(payload) {
			break
		}
		n++
		i += frameLen
	}
	return n
}

// CountOpusFrames demuxes a chunk's Ogg container and counts audio
// packets (each packet is one 20ms frame per the Encoder's fixed framing).
func CountOpusFrames(payload []byte) int {
	pages, err := oggcontainer.Demux(payload)
	if err != nil {
		return 0
	}
	return len(oggcontainer.AudioPackets(pages))
}

// Duration returns a chunk's playback duration in seconds, per spec
// §4.6/§4.8: "frames × 20ms" for Opus, "frames × 1024/16000" for AAC,
// "bytes / (2 × sample_rate)" for WAV.
func Duration(format model.AudioFormat, sampleRateHz int, payload []byte) float64 {
	switch format {
	case model.FormatOpus:
		return float64(CountOpusFrames(payload)*OpusFrameSamples) / 48000
	case model.FormatAAC:
		return float64(CountAACFrames(payload)*AACFrameSamples) / float64(sampleRateHz)
	default: // wav
		return float64(len(payload)) / (2 * float64(sampleRateHz))
	}
}
