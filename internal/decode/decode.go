// Package decode implements C2: turning the raw bytes read from a
// streamsource.Stream into a lazy, ordered sequence of PCM frames.
//
// Two input codecs are supported, matching what streamsource.Open can
// declare from Content-Type: MP3 and raw ADTS AAC. Both decoders
// tolerate corrupt input by skipping forward and resynchronizing. The
// AAC decoder returns ErrResyncLost once the cumulative estimated gap
// exceeds the configured threshold; the MP3 decoder does not track gaps
// and never returns ErrResyncLost.
package decode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/andrewtheguy/saveaudiostream/internal/streamsource"
)

// ErrResyncLost is returned when the cumulative duration of skipped,
// corrupt input exceeds the configured gap threshold (spec §4.2).
var ErrResyncLost = errors.New("decode: resynchronization lost")

// Frame is one decoded block of PCM, channel-major.
type Frame struct {
	Samples      [][]int16 // Samples[channel][sample]
	SampleRateHz int
	Channels     int
}

// Decoder yields a lazy sequence of Frames. Next returns io.EOF when the
// underlying stream ends cleanly, or a wrapped ErrResyncLost if recovery
// failed for too long.
type Decoder interface {
	Next() (Frame, error)
	Close() error
}

// New constructs the Decoder appropriate for codec, reading from r.
// maxGap bounds how much corrupt/unparseable input the AAC-ADTS decoder
// may skip cumulatively before giving up (spec recommends >= 2s). The
// MP3 decoder ignores maxGap: it relies on go-mp3's internal
// resynchronization and never returns ErrResyncLost.
func New(codec streamsource.InputCodec, r io.Reader, maxGap time.Duration) (Decoder, error) {
	switch codec {
	case streamsource.CodecMP3:
		return newMP3Decoder(r)
	case streamsource.CodecAACADTS:
		return newAACDecoder(r, maxGap), nil
	default:
		return nil, fmt.Errorf("decode: unsupported codec %s", codec)
	}
}

// ── MP3 ──────────────────────────────────────────────────

// mp3Decoder wraps hajimehoshi/go-mp3, which performs its own internal
// frame resynchronization on malformed input, so no manual gap tracking
// is needed here (see DESIGN.md).
type mp3Decoder struct {
	dec *gomp3.Decoder
	buf []byte
}

const mp3FrameSamples = 1152 // one MPEG-1 Layer III frame per channel

func newMP3Decoder(r io.Reader) (*mp3Decoder, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("decode: open mp3 stream: %w", err)
	}
	return &mp3Decoder{dec: dec, buf: make([]byte, mp3FrameSamples*4)}, nil
}

func (d *mp3Decoder) Next() (Frame, error) {
	n, err := io.ReadFull(d.dec, d.buf)
	if n == 0 {
		if err != nil {
			return Frame{}, err
		}
		return Frame{}, io.EOF
	}
	// go-mp3 always emits 16-bit stereo.
	samples := n / 4
	left := make([]int16, samples)
	right := make([]int16, samples)
	for i := 0; i < samples; i++ {
		left[i] = int16(d.buf[i*4]) | int16(d.buf[i*4+1])<<8
		right[i] = int16(d.buf[i*4+2]) | int16(d.buf[i*4+3])<<8
	}
	frame := Frame{
		Samples:      [][]int16{left, right},
		SampleRateHz: d.dec.SampleRate(),
		Channels:     2,
	}
	if err == io.ErrUnexpectedEOF {
		return frame, nil
	}
	return frame, nil
}

func (d *mp3Decoder) Close() error { return nil }

// ── AAC-ADTS ─────────────────────────────────────────────

// aacDecoder parses raw ADTS frames (no MP4 container — this is a live
// Icecast/Shoutcast stream) and decodes each with skrashevich/go-aac,
// adapting the teacher's MP4-track usage of the same decoder
// (internal/bpm/bpm.go's decodeAAC) to a raw byte stream: since ADTS
// carries no esds box, the AudioSpecificConfig is synthesized directly
// from the ADTS header fields on the first valid frame.
type aacDecoder struct {
	r           *bufio.Reader
	dec         *aacdecoder.Decoder
	ascSet      bool
	maxGap      time.Duration
	gap         time.Duration
	sampleRate  int
	channels    int
}

func newAACDecoder(r io.Reader, maxGap time.Duration) *aacDecoder {
	if maxGap <= 0 {
		maxGap = 2 * time.Second
	}
	return &aacDecoder{r: bufio.NewReaderSize(r, 64*1024), dec: aacdecoder.New(), maxGap: maxGap}
}

// adtsFrame is one parsed header plus its raw AAC payload.
type adtsFrame struct {
	profile       uint8
	sampleFreqIdx uint8
	channelConfig uint8
	payload       []byte
}

func (d *aacDecoder) Next() (Frame, error) {
	for {
		frame, skipped, err := d.readFrame()
		if err != nil {
			return Frame{}, err
		}
		if skipped > 0 {
			d.gap += estimateGap(skipped, d.sampleRate)
			if d.gap >= d.maxGap {
				return Frame{}, fmt.Errorf("%w: accumulated %s of unparseable input", ErrResyncLost, d.gap)
			}
		}

		if !d.ascSet {
			asc := buildASC(frame.profile, frame.sampleFreqIdx, frame.channelConfig)
			if err := d.dec.SetASC(asc); err != nil {
				d.gap += estimateGap(len(frame.payload), d.sampleRate)
				continue
			}
			d.ascSet = true
			d.sampleRate = d.dec.Config.SampleRate
			d.channels = d.dec.Config.ChanConfig
			if d.channels < 1 {
				d.channels = 1
			}
		}

		pcm, err := d.dec.DecodeFrame(frame.payload)
		if err != nil {
			// Corrupt frame: skip silently, count toward the gap budget.
			d.gap += estimateGap(len(frame.payload), d.sampleRate)
			if d.gap >= d.maxGap {
				return Frame{}, fmt.Errorf("%w: accumulated %s of corrupt frames", ErrResyncLost, d.gap)
			}
			continue
		}

		channels := d.channels
		if channels < 1 {
			channels = 1
		}
		perChannel := len(pcm) / channels
		out := make([][]int16, channels)
		for ch := 0; ch < channels; ch++ {
			out[ch] = make([]int16, perChannel)
			for i := 0; i < perChannel; i++ {
				out[ch][i] = floatToInt16(pcm[i*channels+ch])
			}
		}
		return Frame{Samples: out, SampleRateHz: d.sampleRate, Channels: channels}, nil
	}
}

// readFrame scans forward for the next ADTS sync word, parses its
// header, and returns the frame plus the number of bytes that had to be
// discarded before the sync word was found (spec's "resynchronization").
func (d *aacDecoder) readFrame() (adtsFrame, int, error) {
	skipped := 0
	var hdr [7]byte

	for {
		b0, err := d.r.ReadByte()
		if err != nil {
			return adtsFrame{}, skipped, err
		}
		if b0 != 0xFF {
			skipped++
			continue
		}
		b1, err := d.r.Peek(1)
		if err != nil {
			return adtsFrame{}, skipped, err
		}
		if b1[0]&0xF0 != 0xF0 {
			skipped++
			continue
		}
		hdr[0] = b0
		rest, err := d.r.Peek(6)
		if err != nil {
			return adtsFrame{}, skipped, err
		}
		copy(hdr[1:], rest)
		break
	}

	if _, err := io.ReadFull(d.r, hdr[1:7]); err != nil {
		return adtsFrame{}, skipped, err
	}

	protectionAbsent := hdr[1] & 0x01
	profile := (hdr[2] >> 6) & 0x03
	sampleFreqIdx := (hdr[2] >> 2) & 0x0F
	channelConfig := ((hdr[2] & 0x01) << 2) | ((hdr[3] >> 6) & 0x03)
	frameLength := (uint32(hdr[3]&0x03) << 11) | (uint32(hdr[4]) << 3) | (uint32(hdr[5]) >> 5)

	headerLen := 7
	if protectionAbsent == 0 {
		headerLen = 9
	}
	if int(frameLength) < headerLen {
		// Malformed length field — treat the sync word itself as garbage
		// and keep scanning.
		return d.readFrame()
	}

	payloadLen := int(frameLength) - headerLen
	if headerLen == 9 {
		if _, err := d.r.Discard(2); err != nil {
			return adtsFrame{}, skipped, err
		}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return adtsFrame{}, skipped, err
	}

	return adtsFrame{
		profile:       profile,
		sampleFreqIdx: sampleFreqIdx,
		channelConfig: channelConfig,
		payload:       payload,
	}, skipped, nil
}

func (d *aacDecoder) Close() error { return nil }

// buildASC synthesizes a 2-byte MPEG-4 AudioSpecificConfig (GASpecificConfig
// with no SBR/PS extension, matching plain AAC-LC ADTS) from ADTS header
// fields: audioObjectType = profile+1, samplingFrequencyIndex, channelConfig.
func buildASC(profile, sampleFreqIdx, channelConfig uint8) []byte {
	objectType := profile + 1
	b0 := (objectType << 3) | (sampleFreqIdx >> 1)
	b1 := (sampleFreqIdx&0x01)<<7 | (channelConfig << 3)
	return []byte{b0, b1}
}

func estimateGap(skippedBytes int, sampleRate int) time.Duration {
	if sampleRate == 0 {
		sampleRate = 44100
	}
	// Rough estimate: one AAC frame is 1024 samples; at a typical AAC
	// bitrate a frame is on the order of 200-400 bytes. This is only
	// used to decide when to give up, not for timestamping.
	const avgFrameBytes = 300
	frames := skippedBytes/avgFrameBytes + 1
	return time.Duration(frames) * time.Duration(1024) * time.Second / time.Duration(sampleRate)
}

func floatToInt16(f float32) int16 {
	v := f * 32768.0
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
