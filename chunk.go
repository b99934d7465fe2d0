package axml

import "encoding/binary"

// Chunk type identifiers, per spec.md §6. Named the way the teacher
// names its chunk constants in common.go, just buffer-addressed instead
// of stream-addressed.
const (
	chunkNull             = 0x0000
	chunkStringPool       = 0x0001
	chunkTable            = 0x0002 // RES_TABLE_TYPE, reserved, not decoded here.
	chunkXml              = 0x0003
	chunkXmlResourceMap   = 0x0180
	chunkTablePackage     = 0x0200 // reserved
	chunkTableType        = 0x0201 // reserved
	chunkTableTypeSpec    = 0x0202 // reserved
	chunkTableLibrary     = 0x0203 // reserved
	chunkXmlFirstNodeType = 0x0100
	chunkXmlLastNodeType  = 0x017f

	chunkXmlStartNamespace = 0x0100
	chunkXmlEndNamespace   = 0x0101
	chunkXmlStartElement   = 0x0102
	chunkXmlEndElement     = 0x0103
	chunkXmlCData          = 0x0104

	chunkHeaderSize = 8 // type:u16 + headerSize:u16 + size:u32
)

// chunkHeader is the bare ResChunk_header, read from a buffer rather
// than overlaid on one, so the decoder never needs an unsafe cast or an
// in-place endian swap (see spec.md §9, "in-place endian swap vs
// read-through").
type chunkHeader struct {
	Type       uint16
	HeaderSize uint16
	Size       uint32
}

// readChunkHeader decodes a ResChunk_header at buf[offset:]. It does not
// validate; validateChunk does that once the header is known.
func readChunkHeader(buf []byte, offset int) (chunkHeader, bool) {
	if offset < 0 || offset+chunkHeaderSize > len(buf) {
		return chunkHeader{}, false
	}
	return chunkHeader{
		Type:       binary.LittleEndian.Uint16(buf[offset:]),
		HeaderSize: binary.LittleEndian.Uint16(buf[offset+2:]),
		Size:       binary.LittleEndian.Uint32(buf[offset+4:]),
	}, true
}

// validateChunk enforces the §3/§4.1 chunk invariants: headerSize is at
// least minHeader and at most size, both are 4-byte aligned, and size
// does not run past end (an absolute offset into the same buffer the
// chunk lives in, mirroring the original's validate_chunk(dataEnd)).
func validateChunk(buf []byte, offset int, minHeader int, end int, name string) (chunkHeader, error) {
	ch, ok := readChunkHeader(buf, offset)
	if !ok {
		return chunkHeader{}, badType(offset, "%s: header runs past buffer end", name)
	}

	if int(ch.HeaderSize) < minHeader {
		return chunkHeader{}, badType(offset, "%s header size 0x%04x is too small", name, ch.HeaderSize)
	}
	if ch.Size < uint32(ch.HeaderSize) {
		return chunkHeader{}, badType(offset, "%s size 0x%x is smaller than header size 0x%x", name, ch.Size, ch.HeaderSize)
	}
	if (ch.HeaderSize|uint16(ch.Size))&0x3 != 0 {
		return chunkHeader{}, badType(offset, "%s size 0x%x or headerSize 0x%x is not on an integer boundary", name, ch.Size, ch.HeaderSize)
	}
	if int64(offset)+int64(ch.Size) > int64(end) {
		return chunkHeader{}, badType(offset, "%s data size 0x%x extends beyond resource end", name, ch.Size)
	}
	return ch, nil
}

// nextChunkOffset returns the offset of the chunk immediately following
// the one at offset, per §4.1's next(cur) = cur + cur.size. The caller
// must stop iterating once this would read past end or ch.Size is zero.
func nextChunkOffset(offset int, ch chunkHeader) int {
	return offset + int(ch.Size)
}
