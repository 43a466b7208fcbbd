// Package resample implements C3: downmixing multi-channel PCM to mono
// and resampling it to the target encode rate the Metadata mandates
// (spec §4.3). Filter state persists across chunk and section
// boundaries within one session — only session end flushes the tail.
package resample

import (
	"fmt"

	"github.com/tphakala/go-audio-resampler/resampler"
)

// Processor downmixes to mono and resamples to a fixed target rate. One
// Processor instance is created per session and reused for every frame
// decoded during that session, so its internal filter state carries
// across chunk and section boundaries exactly as spec §4.3 requires.
type Processor struct {
	sourceRateHz int
	targetRateHz int
	rs           *resampler.Resampler
}

// New builds a Processor. sourceRateHz describes the decoder's output
// rate; channels is unused beyond validation since downmix derives the
// channel count from each frame's own slice length; targetRateHz is
// derived from model.AudioFormat.TargetSampleRate.
func New(sourceRateHz, channels, targetRateHz int) (*Processor, error) {
	if channels < 1 {
		channels = 1
	}
	rs, err := resampler.New(sourceRateHz, targetRateHz, 1)
	if err != nil {
		return nil, fmt.Errorf("resample: create resampler %dHz->%dHz: %w", sourceRateHz, targetRateHz, err)
	}
	return &Processor{sourceRateHz: sourceRateHz, targetRateHz: targetRateHz, rs: rs}, nil
}

// TargetRateHz reports the configured output rate.
func (p *Processor) TargetRateHz() int { return p.targetRateHz }

// Push downmixes the given multi-channel frame to mono (equal-weight
// average, spec §4.3) and resamples it, returning zero or more output
// samples. Output length is not 1:1 with input length — the filter has
// internal latency.
func (p *Processor) Push(samples [][]int16) []int16 {
	mono := downmix(samples)
	if p.sourceRateHz == p.targetRateHz {
		return mono
	}
	in := make([]float64, len(mono))
	for i, s := range mono {
		in[i] = float64(s) / 32768.0
	}
	out := p.rs.Process(in)
	return floatsToInt16(out)
}

// Flush drains any samples buffered inside the resampling filter. Must
// be called exactly once, at session end (spec §4.3's "tail flush").
func (p *Processor) Flush() []int16 {
	if p.sourceRateHz == p.targetRateHz {
		return nil
	}
	return floatsToInt16(p.rs.Flush())
}

func downmix(samples [][]int16) []int16 {
	if len(samples) == 0 {
		return nil
	}
	if len(samples) == 1 {
		return samples[0]
	}
	n := len(samples[0])
	out := make([]int16, n)
	channels := len(samples)
	for i := 0; i < n; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[ch][i])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

func floatsToInt16(in []float64) []int16 {
	out := make([]int16, len(in))
	for i, f := range in {
		v := f * 32768.0
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
