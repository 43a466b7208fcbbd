// Package encode implements C4: turning resampled mono PCM into the
// wire format stored per chunk (spec §4.4). Three encoders share one
// interface; each is driven frame-by-frame. A short final frame pushed
// at session end is padded with silence inside Push (Opus and AAC), so
// Finish has no tail left to flush and returns an empty frame for all
// three formats.
package encode

import (
	"fmt"

	concentus "github.com/lostromb/concentus/go/opus"
	aacencoder "github.com/skrashevich/go-aac/pkg/encoder"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

// EncodedFrame is one encoder output unit together with the number of
// source samples it represents — the chunker needs the sample count to
// track section/chunk boundaries precisely (spec §4.5).
type EncodedFrame struct {
	Payload     []byte
	SampleCount int
}

// Encoder produces EncodedFrames from mono PCM pushed frame-sized at a
// time. Finish is called at session end; every implementation here
// returns an empty EncodedFrame from it, since Push already pads a short
// final frame.
type Encoder interface {
	// FrameSamples is the fixed number of input samples Push expects,
	// except for WAV where any length is accepted.
	FrameSamples() int
	Push(pcm []int16) (EncodedFrame, error)
	Finish() (EncodedFrame, error)
}

// New constructs the Encoder for format, at sampleRateHz (already the
// post-resample target rate) and bitrateKbps (WAV ignores it).
func New(format model.AudioFormat, sampleRateHz, bitrateKbps int) (Encoder, error) {
	switch format {
	case model.FormatOpus:
		return newOpusEncoder(sampleRateHz, bitrateKbps)
	case model.FormatAAC:
		return newAACEncoder(sampleRateHz, bitrateKbps)
	case model.FormatWAV:
		return &wavEncoder{}, nil
	default:
		return nil, fmt.Errorf("encode: unsupported format %v", format)
	}
}

// ── Opus ─────────────────────────────────────────────────

// OpusFrameSamples is 20ms at 48kHz, the frame size this repo always
// encodes Opus at (spec §4.4).
const OpusFrameSamples = 960

type opusEncoder struct {
	enc      *concentus.OpusEncoder
	outBuf   []byte
	finished bool
}

func newOpusEncoder(sampleRateHz, bitrateKbps int) (*opusEncoder, error) {
	enc, err := concentus.NewOpusEncoder(sampleRateHz, 1)
	if err != nil {
		return nil, fmt.Errorf("encode: create opus encoder: %w", err)
	}
	if bitrateKbps > 0 {
		enc.SetBitrate(bitrateKbps * 1000)
	}
	return &opusEncoder{enc: enc, outBuf: make([]byte, 4000)}, nil
}

func (e *opusEncoder) FrameSamples() int { return OpusFrameSamples }

func (e *opusEncoder) Push(pcm []int16) (EncodedFrame, error) {
	// trueSamples is the count before silence padding, so a short final
	// frame doesn't inflate the session's granule/timestamp accounting
	// (chunker.go sums SampleCount to track gapless position, I3/P1).
	trueSamples := len(pcm)
	if trueSamples > OpusFrameSamples {
		trueSamples = OpusFrameSamples
	}
	if len(pcm) != OpusFrameSamples {
		pcm = padOrTrim(pcm, OpusFrameSamples)
	}
	n, err := e.enc.Encode(pcm, 0, OpusFrameSamples, e.outBuf, 0, len(e.outBuf))
	if err != nil {
		return EncodedFrame{}, fmt.Errorf("encode: opus encode: %w", err)
	}
	payload := make([]byte, n)
	copy(payload, e.outBuf[:n])
	return EncodedFrame{Payload: payload, SampleCount: trueSamples}, nil
}

// Finish marks the encoder closed. Push already pads the final partial
// frame with silence and reports its true (unpadded) sample count, so
// there is no separate tail frame or granule adjustment to make here.
func (e *opusEncoder) Finish() (EncodedFrame, error) {
	if e.finished {
		return EncodedFrame{}, nil
	}
	e.finished = true
	return EncodedFrame{}, nil
}

func padOrTrim(pcm []int16, n int) []int16 {
	if len(pcm) == n {
		return pcm
	}
	out := make([]int16, n)
	copy(out, pcm)
	return out
}

// ── AAC-LC ───────────────────────────────────────────────

// AACFrameSamples is the fixed 1024-sample AAC-LC frame size.
const AACFrameSamples = 1024

// AACPrimingSamples is the encoder priming delay recorded into
// Metadata.AACPrimingSamples when a database is created (spec §4.4 / §3). go-aac's LC encoder uses a 2048-sample lookahead
// (two MDCT windows), matching common AAC-LC encoder priming.
const AACPrimingSamples = 2048

type aacEncoder struct {
	enc *aacencoder.Encoder
}

func newAACEncoder(sampleRateHz, bitrateKbps int) (*aacEncoder, error) {
	enc := aacencoder.New()
	enc.Config.SampleRate = sampleRateHz
	enc.Config.ChanConfig = 1
	if bitrateKbps > 0 {
		enc.Config.BitrateBps = bitrateKbps * 1000
	}
	if err := enc.Init(); err != nil {
		return nil, fmt.Errorf("encode: init aac encoder: %w", err)
	}
	return &aacEncoder{enc: enc}, nil
}

func (e *aacEncoder) FrameSamples() int { return AACFrameSamples }

func (e *aacEncoder) Push(pcm []int16) (EncodedFrame, error) {
	trueSamples := len(pcm)
	if trueSamples > AACFrameSamples {
		trueSamples = AACFrameSamples
	}
	if len(pcm) != AACFrameSamples {
		pcm = padOrTrim(pcm, AACFrameSamples)
	}
	floatPCM := make([]float32, len(pcm))
	for i, s := range pcm {
		floatPCM[i] = float32(s) / 32768.0
	}
	raw, err := e.enc.EncodeFrame(floatPCM)
	if err != nil {
		return EncodedFrame{}, fmt.Errorf("encode: aac encode: %w", err)
	}
	payload := adtsWrap(raw, e.enc.Config.SampleRate, e.enc.Config.ChanConfig)
	return EncodedFrame{Payload: payload, SampleCount: trueSamples}, nil
}

func (e *aacEncoder) Finish() (EncodedFrame, error) {
	return EncodedFrame{}, nil
}

// adtsWrap prepends a 7-byte ADTS header (no CRC) to a raw AAC-LC
// frame, the same framing format the chunker appends directly to a
// chunk's payload (spec §4.5: AAC chunks are raw concatenated ADTS).
func adtsWrap(raw []byte, sampleRateHz, channelConfig int) []byte {
	freqIdx := sampleFreqIndex(sampleRateHz)
	frameLen := len(raw) + 7

	hdr := make([]byte, 7, frameLen)
	hdr[0] = 0xFF
	hdr[1] = 0xF1 // MPEG-4, no CRC
	hdr[2] = byte(1<<6) | byte(freqIdx<<2) | byte((channelConfig>>2)&0x01)
	hdr[3] = byte((channelConfig&0x03)<<6) | byte((frameLen>>11)&0x03)
	hdr[4] = byte((frameLen >> 3) & 0xFF)
	hdr[5] = byte((frameLen&0x07)<<5) | 0x1F
	hdr[6] = 0xFC
	return append(hdr, raw...)
}

func sampleFreqIndex(rateHz int) int {
	rates := []int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}
	for i, r := range rates {
		if r == rateHz {
			return i
		}
	}
	return 8 // 16000Hz fallback, this repo's AAC target rate
}

// ── WAV (raw PCM, no container) ─────────────────────────

// wavEncoder "encodes" by passing samples through as signed 16-bit
// little-endian, exactly what a WAV chunk stores on disk — the format
// has no per-chunk header (spec §4.5).
type wavEncoder struct{}

func (wavEncoder) FrameSamples() int { return 0 }

func (wavEncoder) Push(pcm []int16) (EncodedFrame, error) {
	payload := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		payload[i*2] = byte(s)
		payload[i*2+1] = byte(s >> 8)
	}
	return EncodedFrame{Payload: payload, SampleCount: len(pcm)}, nil
}

func (wavEncoder) Finish() (EncodedFrame, error) {
	return EncodedFrame{}, nil
}
