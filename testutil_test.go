package axml

import (
	"encoding/binary"
	"unicode/utf16"
)

func align4(n int) int { return (n + 3) &^ 3 }

func putChunkHeader(buf []byte, typ, headerSize uint16, size uint32) {
	binary.LittleEndian.PutUint16(buf[0:], typ)
	binary.LittleEndian.PutUint16(buf[2:], headerSize)
	binary.LittleEndian.PutUint32(buf[4:], size)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// buildPool assembles a complete string pool chunk. If utf8 is false,
// each of strings is encoded UTF-16; otherwise UTF-8. The chunk is
// padded to a 4-byte boundary, as every chunk's invariants require.
func buildPool(strings []string, sorted, utf8 bool) []byte {
	var region []byte
	entries := make([]uint32, len(strings))

	for i, s := range strings {
		entries[i] = uint32(len(region))
		u16 := utf16.Encode([]rune(s))

		if !utf8 {
			region = appendLen16(region, len(u16))
			for _, c := range u16 {
				region = appendU16(region, c)
			}
			region = appendU16(region, 0)
			continue
		}

		raw := []byte(s)
		region = appendLen8(region, len(u16))
		region = appendLen8(region, len(raw))
		region = append(region, raw...)
		region = append(region, 0)
	}

	headerSize := stringPoolHeaderSize
	entriesLen := len(strings) * 4
	stringsStart := headerSize + entriesLen
	total := align4(stringsStart + len(region))

	buf := make([]byte, total)
	flags := uint32(0)
	if sorted {
		flags |= stringFlagSorted
	}
	if utf8 {
		flags |= stringFlagUTF8
	}
	putChunkHeader(buf, chunkStringPool, uint16(headerSize), uint32(total))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(strings)))
	binary.LittleEndian.PutUint32(buf[12:], 0)
	binary.LittleEndian.PutUint32(buf[16:], flags)
	binary.LittleEndian.PutUint32(buf[20:], uint32(stringsStart))
	binary.LittleEndian.PutUint32(buf[24:], 0)

	off := headerSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], e)
		off += 4
	}
	copy(buf[stringsStart:], region)
	return buf
}

func appendLen16(b []byte, n int) []byte {
	if n < 0x8000 {
		return appendU16(b, uint16(n))
	}
	b = appendU16(b, uint16(0x8000|(n>>16)))
	return appendU16(b, uint16(n))
}

func appendLen8(b []byte, n int) []byte {
	if n < 0x80 {
		return append(b, byte(n))
	}
	return append(b, byte(0x80|(n>>8)), byte(n))
}

type nodeSpec struct {
	typ     uint16
	lineNum uint32
	comment uint32
	ext     []byte
}

func buildNode(s nodeSpec) []byte {
	const headerSize = 16
	total := align4(headerSize + len(s.ext))
	buf := make([]byte, total)
	putChunkHeader(buf, s.typ, headerSize, uint32(total))
	binary.LittleEndian.PutUint32(buf[8:], s.lineNum)
	binary.LittleEndian.PutUint32(buf[12:], s.comment)
	copy(buf[headerSize:], s.ext)
	return buf
}

func namespaceExt(prefix, uri uint32) []byte {
	var b []byte
	b = appendU32(b, prefix)
	b = appendU32(b, uri)
	return b
}

func endElementExt(ns, name uint32) []byte {
	var b []byte
	b = appendU32(b, ns)
	b = appendU32(b, name)
	return b
}

type attrSpec struct {
	ns, name, rawValue uint32
	dataType           DataType
	data               uint32
}

func startElementExt(ns, name uint32, id, class, style uint16, attrs []attrSpec) []byte {
	const attrRecSize = 20
	var b []byte
	b = appendU32(b, ns)
	b = appendU32(b, name)
	b = appendU16(b, 20) // attr_start
	b = appendU16(b, attrRecSize)
	b = appendU16(b, uint16(len(attrs)))
	b = appendU16(b, id)
	b = appendU16(b, class)
	b = appendU16(b, style)
	for _, a := range attrs {
		b = appendU32(b, a.ns)
		b = appendU32(b, a.name)
		b = appendU32(b, a.rawValue)
		b = appendU16(b, 8) // Res_value.size
		b = append(b, 0)    // res0
		b = append(b, byte(a.dataType))
		b = appendU32(b, a.data)
	}
	return b
}

func cdataExt(data uint32, dt DataType, value uint32) []byte {
	var b []byte
	b = appendU32(b, data)
	b = appendU16(b, 8)
	b = append(b, 0)
	b = append(b, byte(dt))
	b = appendU32(b, value)
	return b
}

// buildTree assembles a full RES_XML_TYPE chunk from a string pool and
// an ordered list of pre-built node chunks.
func buildTree(pool []byte, resIDs []uint32, nodes [][]byte) []byte {
	var body []byte
	body = append(body, pool...)
	if resIDs != nil {
		mapBuf := make([]byte, align4(8+4*len(resIDs)))
		putChunkHeader(mapBuf, chunkXmlResourceMap, 8, uint32(len(mapBuf)))
		off := 8
		for _, id := range resIDs {
			binary.LittleEndian.PutUint32(mapBuf[off:], id)
			off += 4
		}
		body = append(body, mapBuf...)
	}
	for _, n := range nodes {
		body = append(body, n...)
	}

	total := 8 + len(body)
	buf := make([]byte, total)
	putChunkHeader(buf, chunkXml, 8, uint32(total))
	copy(buf[8:], body)
	return buf
}
