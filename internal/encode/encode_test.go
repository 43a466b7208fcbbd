package encode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

func TestWAVEncoderPassesThroughSampleCount(t *testing.T) {
	enc, err := New(model.FormatWAV, 16000, 0)
	require.NoError(t, err)

	pcm := []int16{1, -1, 32767, -32768, 0}
	frame, err := enc.Push(pcm)
	require.NoError(t, err)
	require.Equal(t, len(pcm), frame.SampleCount)
	require.Len(t, frame.Payload, len(pcm)*2)

	// Little-endian S16: 32767 == 0xFF 0x7F.
	require.Equal(t, byte(0xFF), frame.Payload[4])
	require.Equal(t, byte(0x7F), frame.Payload[5])

	tail, err := enc.Finish()
	require.NoError(t, err)
	require.Empty(t, tail.Payload)
}

func TestPadOrTrimPadsShortFramesWithSilence(t *testing.T) {
	out := padOrTrim([]int16{1, 2, 3}, 5)
	require.Equal(t, []int16{1, 2, 3, 0, 0}, out)
}

func TestPadOrTrimLeavesExactLengthUnchanged(t *testing.T) {
	in := []int16{1, 2, 3}
	out := padOrTrim(in, 3)
	require.Equal(t, in, out)
}
