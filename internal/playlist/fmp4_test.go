package playlist

import (
	"encoding/binary"
	"testing"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"
)

func TestBuildInitSegmentStartsWithFtyp(t *testing.T) {
	seg := buildInitSegment(48000)
	require.Greater(t, len(seg), 8)
	size := binary.BigEndian.Uint32(seg[0:4])
	require.Equal(t, "ftyp", string(seg[4:8]))
	require.LessOrEqual(t, int(size), len(seg))
}

func TestBuildMediaFragmentContainsMoofAndMdat(t *testing.T) {
	packets := [][]byte{{1, 2, 3}, {4, 5}}
	frag := buildMediaFragment(7, 48000, packets)

	moofSize := binary.BigEndian.Uint32(frag[0:4])
	require.Equal(t, "moof", string(frag[4:8]))
	require.Less(t, int(moofSize), len(frag))

	mdatOffset := int(moofSize)
	require.Equal(t, "mdat", string(frag[mdatOffset+4:mdatOffset+8]))

	mdatPayload := frag[mdatOffset+8:]
	require.Equal(t, []byte{1, 2, 3, 4, 5}, mdatPayload)
}

func TestFullBoxEncodesVersionAndFlags(t *testing.T) {
	b := fullBox(gomp4.BoxTypeTfhd(), 1, 0x020000, []byte{0xAA})
	size := binary.BigEndian.Uint32(b[0:4])
	require.Equal(t, int(size), len(b))
	require.Equal(t, byte(1), b[8]) // version
	require.Equal(t, byte(0x02), b[9])
	require.Equal(t, byte(0xAA), b[12])
}
