package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildASCMatchesKnownAACLCStereo48k(t *testing.T) {
	// profile=1 (AAC-LC, ADTS profile field is objectType-1), sampleFreqIdx=3
	// (48000Hz), channelConfig=2 (stereo) is the canonical ADTS encoding
	// produced by most Icecast AAC-LC encoders.
	asc := buildASC(1, 3, 2)
	require.Len(t, asc, 2)

	objectType := asc[0] >> 3
	freqIdx := ((asc[0] & 0x07) << 1) | (asc[1] >> 7)
	chanConfig := (asc[1] >> 3) & 0x0F

	require.Equal(t, uint8(2), objectType, "AAC-LC object type is 2")
	require.Equal(t, uint8(3), freqIdx)
	require.Equal(t, uint8(2), chanConfig)
}

func TestEstimateGapScalesWithSkippedBytes(t *testing.T) {
	small := estimateGap(100, 44100)
	large := estimateGap(10000, 44100)
	require.Greater(t, large, small)
}

func TestFloatToInt16Clamps(t *testing.T) {
	require.Equal(t, int16(32767), floatToInt16(2.0))
	require.Equal(t, int16(-32768), floatToInt16(-2.0))
	require.Equal(t, int16(0), floatToInt16(0))
}
