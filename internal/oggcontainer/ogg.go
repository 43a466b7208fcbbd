// Package oggcontainer builds and reads the small, self-contained Ogg
// streams the Chunker (C5) stores for each Opus chunk: one OpusHead page,
// one OpusTags page, then one or more audio pages carrying the chunk's
// Opus packets with session-relative granule positions (spec §4.5).
//
// Hand-rolled rather than pulled from a media framework: the corpus's
// Opus/Ogg reference (other_examples' ogg_helper.go, from a Discord voice
// bot) builds pages the same way — capture pattern, header, granule,
// serial, sequence, CRC, lacing table, packet bytes — but computes the
// checksum with crc32.ChecksumIEEE, which is the wrong polynomial for
// Ogg and produces streams most demuxers reject. The page layout here
// follows that reference; the checksum uses the Ogg/Vorbis CRC-32
// (polynomial 0x04c11db7, no input/output reflection) so every stored
// chunk is actually decodable, which invariant I3/P1 requires.
package oggcontainer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	pageHeaderBaseLen = 27
	maxLacingBytes    = 255 * 255 // practical cap per page before we roll a continuation
	flagContinued     = 0x01
	flagBOS           = 0x02
	flagEOS           = 0x04
)

var crcTable [256]uint32

func init() {
	const poly = uint32(0x04c11db7)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// oggCRC computes the Ogg page checksum: CRC-32 with polynomial
// 0x04c11db7, no reflection, initial value 0, computed with the 4-byte
// checksum field itself zeroed.
func oggCRC(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// Packet is one Opus packet plus the absolute granule position of the
// Ogg page it should be flushed with (the last packet completing a page
// carries the page's granule; intermediate packets can share it).
type Packet struct {
	Data    []byte
	Granule uint64 // absolute sample count at the end of this packet, session-relative
}

// BuildChunk assembles a self-contained Ogg stream for one stored chunk:
// OpusHead + OpusTags + one audio page per up-to-255-packet group. serial
// should be stable for the life of the section (e.g. section id truncated
// to 32 bits) so tooling that groups chunks by serial can still find them,
// even though each chunk is its own independent stream.
func BuildChunk(serial uint32, sampleRate uint32, preSkip uint16, packets []Packet) ([]byte, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("oggcontainer: BuildChunk: no packets")
	}

	var buf bytes.Buffer

	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = 1 // channel count: mono (spec §1 Non-goals: mono only)
	binary.LittleEndian.PutUint16(head[10:12], preSkip)
	binary.LittleEndian.PutUint32(head[12:16], sampleRate)
	binary.LittleEndian.PutUint16(head[16:18], 0) // output gain
	head[18] = 0                                  // channel mapping family 0
	buf.Write(page(serial, 0, 0, flagBOS, [][]byte{head}))

	tags := make([]byte, 0, 8+4+len("saveaudiostream")+4)
	tags = append(tags, "OpusTags"...)
	vendor := []byte("saveaudiostream")
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0) // no user comments
	buf.Write(page(serial, 1, 1, 0, [][]byte{tags}))

	pageSeq := uint32(2)
	for start := 0; start < len(packets); {
		group := make([][]byte, 0, 255)
		size := 0
		end := start
		for end < len(packets) && len(group) < 255 && size+len(packets[end].Data) <= maxLacingBytes {
			group = append(group, packets[end].Data)
			size += len(packets[end].Data)
			end++
		}
		if end == start { // single oversized packet — still must emit it
			group = append(group, packets[end].Data)
			end++
		}
		granule := packets[end-1].Granule
		flags := byte(0)
		if end == len(packets) {
			flags = flagEOS
		}
		buf.Write(page(serial, pageSeq, granule, flags, group))
		pageSeq++
		start = end
	}

	return buf.Bytes(), nil
}

// page encodes one Ogg page: capture pattern, header, lacing table, then
// packet payloads, with the checksum computed over the whole page.
func page(serial, seq uint32, granule uint64, flags byte, packets [][]byte) []byte {
	lacing := lacingTable(packets)

	out := make([]byte, 0, pageHeaderBaseLen+len(lacing)+payloadLen(packets))
	out = append(out, "OggS"...)
	out = append(out, 0) // stream structure version
	out = append(out, flags)
	out = binary.LittleEndian.AppendUint64(out, granule)
	out = binary.LittleEndian.AppendUint32(out, serial)
	out = binary.LittleEndian.AppendUint32(out, seq)
	checksumOffset := len(out)
	out = binary.LittleEndian.AppendUint32(out, 0) // checksum placeholder
	out = append(out, byte(len(lacing)))
	out = append(out, lacing...)
	for _, p := range packets {
		out = append(out, p...)
	}

	crc := oggCRC(out)
	binary.LittleEndian.PutUint32(out[checksumOffset:checksumOffset+4], crc)
	return out
}

func lacingTable(packets [][]byte) []byte {
	var table []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			table = append(table, 255)
			n -= 255
		}
		table = append(table, byte(n))
	}
	return table
}

func payloadLen(packets [][]byte) int {
	n := 0
	for _, p := range packets {
		n += len(p)
	}
	return n
}

// Page is one demuxed Ogg page: its packets and the granule position
// recorded in its header.
type Page struct {
	Granule  uint64
	Flags    byte
	Packets  [][]byte
	Sequence uint32
}

// Demux parses a stream produced by BuildChunk (or any single-serial Ogg
// Opus stream) back into pages. Used to re-extract raw Opus packets for
// export (continuous re-muxing across chunks) and for duration counting.
func Demux(data []byte) ([]Page, error) {
	var pages []Page
	off := 0
	for off < len(data) {
		if off+pageHeaderBaseLen > len(data) || string(data[off:off+4]) != "OggS" {
			return nil, fmt.Errorf("oggcontainer: demux: bad capture pattern at offset %d", off)
		}
		flags := data[off+5]
		granule := binary.LittleEndian.Uint64(data[off+6 : off+14])
		seq := binary.LittleEndian.Uint32(data[off+18 : off+22])
		segCount := int(data[off+26])
		segTable := data[off+27 : off+27+segCount]
		body := off + 27 + segCount

		var packets [][]byte
		pktStart := body
		runLen := 0
		cursor := body
		for _, seg := range segTable {
			runLen += int(seg)
			cursor++
			if seg < 255 {
				packets = append(packets, data[pktStart:pktStart+runLen])
				pktStart += runLen
				runLen = 0
			}
		}
		end := pktStart + runLen
		pages = append(pages, Page{Granule: granule, Flags: flags, Packets: packets, Sequence: seq})
		_ = cursor
		off = end
	}
	return pages, nil
}

// AudioPackets returns every audio-data packet across all pages in a
// demuxed chunk stream, skipping the OpusHead/OpusTags header pages.
func AudioPackets(pages []Page) [][]byte {
	var out [][]byte
	for i, p := range pages {
		if i < 2 {
			continue // OpusHead, OpusTags
		}
		out = append(out, p.Packets...)
	}
	return out
}
