package axml

import (
	"encoding/binary"
	"sync"
	"unicode/utf16"
	"unicode/utf8"
)

// ResStringPool_header flag bits, named after the teacher's
// stringFlagSorted/stringFlagUtf8 constants in stringtable.go.
const (
	stringFlagSorted = 0x00000001
	stringFlagUTF8   = 0x00000100

	stringPoolHeaderSize = chunkHeaderSize + 5*4 // + stringCount,styleCount,flags,stringsStart,stylesStart
)

const spanEnd = 0xFFFFFFFF

// Span is a ResStringPool_span: a style range attached to a pool string.
type Span struct {
	NameIndex uint32
	FirstChar uint32
	LastChar  uint32
}

func (s Span) isEnd() bool {
	return s.NameIndex == spanEnd && s.FirstChar == spanEnd && s.LastChar == spanEnd
}

// StringPool decodes a RES_STRING_POOL_TYPE chunk: the interned string
// table every index elsewhere in an AXML document refers into. The zero
// value is usable but uninitialized (NotInitialized until SetTo/SetToEmpty).
type StringPool struct {
	data []byte // the whole chunk, header included, as in the original's setTo(data,...)

	stringCount uint32
	styleCount  uint32
	flags       uint32
	isUTF8      bool
	sorted      bool

	entriesOff      int // byte offset of the string offset table
	entryStylesOff  int // byte offset of the style offset table
	stringsStart    int // byte offset, relative to data[0]
	stringsRegionEnd int
	stylesStart     int // byte offset, relative to data[0]
	stylesRegionEnd int

	mu    sync.Mutex
	cache map[uint32][]uint16

	logger Logger
}

// NewStringPool is a convenience constructor combining allocation and
// SetTo, taking the Option seam (WithOwnedCopy, WithLogger) instead of
// SetTo's bare copy flag.
func NewStringPool(buf []byte, opts ...Option) (p *StringPool, err error) {
	cfg := newConfig(opts)
	defer func() {
		if err != nil {
			cfg.logger.Printf("axml: NewStringPool failed: %v", err)
		}
	}()

	p = &StringPool{logger: cfg.logger}
	if err = p.SetTo(buf, cfg.copyData); err != nil {
		return nil, err
	}
	return p, nil
}

// SetTo validates and populates the pool from buf, which must begin at
// the chunk's own ResChunk_header (i.e. buf is exactly the bytes of the
// RES_STRING_POOL_TYPE chunk, or a slice at least that long). If
// copyData is true the pool takes an owned copy instead of borrowing
// buf, so the caller's buffer may be reused/freed afterwards.
func (p *StringPool) SetTo(buf []byte, copyData bool) (err error) {
	logger := p.logger
	*p = StringPool{logger: logger}
	defer func() {
		if err != nil && logger != nil {
			logger.Printf("axml: string pool SetTo failed: %v", err)
		}
	}()

	if len(buf) == 0 {
		return badType(0, "string pool buffer is empty")
	}

	ch, ok := readChunkHeader(buf, 0)
	if !ok {
		return badType(0, "string pool header runs past buffer end")
	}
	if ch.Type != chunkStringPool {
		return badType(0, "expected string pool chunk 0x%04x, got 0x%04x", chunkStringPool, ch.Type)
	}
	if int(ch.HeaderSize) < stringPoolHeaderSize || ch.Size < uint32(ch.HeaderSize) || int(ch.Size) > len(buf) {
		return badType(0, "bad string block: header size %d or total size %d is larger than data size %d", ch.HeaderSize, ch.Size, len(buf))
	}
	if (ch.HeaderSize|uint16(ch.Size))&0x3 != 0 {
		return badType(0, "bad string block: size 0x%x or headerSize 0x%x is not on an integer boundary", ch.Size, ch.HeaderSize)
	}

	if copyData {
		owned := make([]byte, ch.Size)
		copy(owned, buf[:ch.Size])
		buf = owned
	} else {
		buf = buf[:ch.Size]
	}
	p.data = buf

	size := int(ch.Size)
	stringCount := binary.LittleEndian.Uint32(buf[8:])
	styleCount := binary.LittleEndian.Uint32(buf[12:])
	flags := binary.LittleEndian.Uint32(buf[16:])
	stringsStart := binary.LittleEndian.Uint32(buf[20:])
	stylesStart := binary.LittleEndian.Uint32(buf[24:])

	p.stringCount = stringCount
	p.styleCount = styleCount
	p.flags = flags
	p.isUTF8 = flags&stringFlagUTF8 != 0
	p.sorted = flags&stringFlagSorted != 0
	p.entriesOff = int(ch.HeaderSize)

	charSize := 2
	if p.isUTF8 {
		charSize = 1
	}

	if stringCount > 0 {
		if uint64(stringCount)*4 > uint64(size-p.entriesOff) {
			return badType(0, "bad string block: entry of %d items extends past data size %d", p.entriesOff+int(stringCount)*4, size)
		}

		if int(stringsStart) >= size-2 {
			return badType(0, "bad string block: string pool starts at %d, after total size %d", stringsStart, size)
		}
		p.stringsStart = int(stringsStart)

		if styleCount == 0 {
			p.stringsRegionEnd = size
		} else {
			if int(stylesStart) >= size-2 {
				return badType(0, "bad style block: style block starts at %d past data size of %d", stylesStart, size)
			}
			if int(stylesStart) <= p.stringsStart {
				return badType(0, "bad style block: style block starts at %d, before strings at %d", stylesStart, stringsStart)
			}
			p.stringsRegionEnd = int(stylesStart)
		}

		if p.stringsRegionEnd-p.stringsStart < charSize {
			return badType(0, "bad string block: stringCount is %d but pool size is 0", stringCount)
		}

		last := buf[p.stringsRegionEnd-charSize : p.stringsRegionEnd]
		terminated := charSize == 1 && last[0] == 0
		if charSize == 2 {
			terminated = binary.LittleEndian.Uint16(last) == 0
		}
		if !terminated {
			return badType(0, "bad string block: last string is not 0-terminated")
		}
	}

	if styleCount > 0 {
		p.entryStylesOff = p.entriesOff + int(stringCount)*4
		if p.entryStylesOff < p.entriesOff {
			return badType(0, "bad string block: integer overflow finding styles")
		}
		if p.entryStylesOff+int(styleCount)*4 > size {
			return badType(0, "bad string block: entry of %d styles extends past data size %d", p.entryStylesOff+int(styleCount)*4, size)
		}
		if int(stylesStart) >= size {
			return badType(0, "bad string block: style pool starts %d, after total size %d", stylesStart, size)
		}
		p.stylesStart = int(stylesStart)
		p.stylesRegionEnd = size

		if p.stylesRegionEnd-p.stylesStart < 12 {
			return badType(0, "bad style block: style pool too small for terminator")
		}
		tail := buf[p.stylesRegionEnd-12 : p.stylesRegionEnd]
		if binary.LittleEndian.Uint32(tail[0:]) != spanEnd ||
			binary.LittleEndian.Uint32(tail[4:]) != spanEnd ||
			binary.LittleEndian.Uint32(tail[8:]) != spanEnd {
			return badType(0, "bad string block: last style is not 0xFFFFFFFF-terminated")
		}
	}

	p.cache = make(map[uint32][]uint16)
	return nil
}

// SetToEmpty resets the pool to a valid, zero-string state.
func (p *StringPool) SetToEmpty() {
	*p = StringPool{cache: make(map[uint32][]uint16), logger: p.logger}
}

func (p *StringPool) initialized() bool { return p.cache != nil }

// Len reports the number of strings in the pool.
func (p *StringPool) Len() int {
	if !p.initialized() {
		return 0
	}
	return int(p.stringCount)
}

// StyleCount reports the number of style-span arrays in the pool.
func (p *StringPool) StyleCount() int {
	if !p.initialized() {
		return 0
	}
	return int(p.styleCount)
}

// IsSorted reports whether the SORTED flag is set.
func (p *StringPool) IsSorted() bool { return p.initialized() && p.sorted }

// IsUTF8 reports whether the pool stores UTF-8 strings. The original
// source computes this check as `!mHeader->flags & UTF8_FLAG`, an
// operator-precedence bug noted in spec.md §9 Open Question (1); this
// implementation computes flags&UTF8_FLAG != 0 once in SetTo.
func (p *StringPool) IsUTF8() bool { return p.initialized() && p.isUTF8 }

func (p *StringPool) entryOffset(idx uint32) (int, bool) {
	if idx >= p.stringCount {
		return 0, false
	}
	off := int(binary.LittleEndian.Uint32(p.data[p.entriesOff+4*int(idx):]))
	return off, true
}

// decodeUTF16Len reads the 1-or-2-unit length prefix used by the UTF-16
// string encoding (spec.md §3/§4.2): if the high bit of the first u16
// is set, the low 15 bits are the high half of a 31-bit length and a
// second u16 supplies the low half. Must not read the second unit when
// the high bit is clear.
func decodeUTF16Len(b []byte) (length uint32, consumed int, ok bool) {
	if len(b) < 2 {
		return 0, 0, false
	}
	hi := binary.LittleEndian.Uint16(b)
	if hi&0x8000 != 0 {
		if len(b) < 4 {
			return 0, 0, false
		}
		lo := binary.LittleEndian.Uint16(b[2:])
		return (uint32(hi&0x7FFF) << 16) | uint32(lo), 4, true
	}
	return uint32(hi), 2, true
}

// decodeUTF8Len reads the 1-or-2-byte length prefix used by the UTF-8
// string encoding's length fields (spec.md §3/§4.2): high bit of the
// first byte marks the two-byte form, low 7 bits are the high half of a
// 15-bit value, the next byte supplies the low half.
func decodeUTF8Len(b []byte) (length uint32, consumed int, ok bool) {
	if len(b) < 1 {
		return 0, 0, false
	}
	hi := b[0]
	if hi&0x80 != 0 {
		if len(b) < 2 {
			return 0, 0, false
		}
		return (uint32(hi&0x7F) << 8) | uint32(b[1]), 2, true
	}
	return uint32(hi), 1, true
}

// rawUTF16 decodes stored entry idx as a UTF-16 string; the pool must
// be a UTF-16 pool. Returns a freshly decoded []uint16 (not a
// byte-reinterpreted slice of the buffer), which keeps the accessor
// independent of host endianness per spec.md §9's "read-through"
// alternative design — behavior is unaffected either way (§6).
func (p *StringPool) rawUTF16(idx uint32) ([]uint16, error) {
	off, ok := p.entryOffset(idx)
	if !ok {
		return nil, ErrNotFound
	}
	pos := p.stringsStart + off
	if pos < p.stringsStart || pos > p.stringsRegionEnd-2 {
		return nil, badType(pos, "string #%d entry is past strings region end", idx)
	}
	length, consumed, ok := decodeUTF16Len(p.data[pos:p.stringsRegionEnd])
	if !ok {
		return nil, badType(pos, "string #%d length prefix runs past strings region end", idx)
	}
	dataStart := pos + consumed
	dataEnd := dataStart + int(length)*2
	if dataEnd+2 > p.stringsRegionEnd || dataEnd < dataStart {
		return nil, badType(pos, "string #%d extends to %d, past end at %d", idx, dataEnd, p.stringsRegionEnd)
	}
	out := make([]uint16, length)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(p.data[dataStart+2*i:])
	}
	return out, nil
}

// rawUTF8 returns the raw UTF-8 bytes (without the NUL terminator) and
// the stored UTF-16 length hint for entry idx; the pool must be a UTF-8
// pool.
func (p *StringPool) rawUTF8(idx uint32) ([]byte, uint32, error) {
	off, ok := p.entryOffset(idx)
	if !ok {
		return nil, 0, ErrNotFound
	}
	pos := p.stringsStart + off
	if pos < p.stringsStart || pos > p.stringsRegionEnd-1 {
		return nil, 0, badType(pos, "string #%d entry is past strings region end", idx)
	}
	u16len, c1, ok := decodeUTF8Len(p.data[pos:p.stringsRegionEnd])
	if !ok {
		return nil, 0, badType(pos, "string #%d utf16-length prefix runs past strings region end", idx)
	}
	u8len, c2, ok := decodeUTF8Len(p.data[pos+c1 : p.stringsRegionEnd])
	if !ok {
		return nil, 0, badType(pos, "string #%d utf8-length prefix runs past strings region end", idx)
	}
	dataStart := pos + c1 + c2
	dataEnd := dataStart + int(u8len)
	if dataEnd+1 > p.stringsRegionEnd || dataEnd < dataStart {
		return nil, 0, badType(pos, "string #%d extends to %d, past end at %d", idx, dataEnd, p.stringsRegionEnd)
	}
	return p.data[dataStart:dataEnd], u16len, nil
}

// GetUTF16 returns the decoded UTF-16 string at idx, with length equal
// to the stored UTF-16 length (spec.md §8 property 3). For UTF-8 pools
// the result is memoized in the pool's decode cache, guarded by a
// mutex held across check-present/decode/insert (spec.md §4.2/§5);
// concurrent callers for the same idx observe the same slice, never a
// torn one.
func (p *StringPool) GetUTF16(idx uint32) ([]uint16, error) {
	if !p.initialized() {
		return nil, ErrNotInitialized
	}
	if !p.isUTF8 {
		return p.rawUTF16(idx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.cache[idx]; ok {
		return cached, nil
	}

	raw, u16len, err := p.rawUTF8(idx)
	if err != nil {
		return nil, err
	}

	decoded := utf16.Encode([]rune(string(raw)))
	if uint32(len(decoded)) != u16len {
		return nil, badType(p.stringsStart, "string #%d decoded length is not correct %d vs %d", idx, len(decoded), u16len)
	}

	p.cache[idx] = decoded
	return decoded, nil
}

// GetUTF8 returns the raw UTF-8 bytes and the stored UTF-16 length hint
// at idx. It returns ErrNotFound if the pool is not UTF-8 encoded.
func (p *StringPool) GetUTF8(idx uint32) ([]byte, uint32, error) {
	if !p.initialized() {
		return nil, 0, ErrNotInitialized
	}
	if !p.isUTF8 {
		return nil, 0, ErrNotFound
	}
	return p.rawUTF8(idx)
}

// String returns the string at idx as a native Go string regardless of
// pool encoding, per SPEC_FULL.md's supplemented "string8ObjectAt"-style
// helper.
func (p *StringPool) String(idx uint32) (string, error) {
	if !p.initialized() {
		return "", ErrNotInitialized
	}
	if p.isUTF8 {
		raw, _, err := p.rawUTF8(idx)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(raw) {
			return "", badType(p.stringsStart, "string #%d is not valid utf-8", idx)
		}
		return string(raw), nil
	}
	u16, err := p.rawUTF16(idx)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(u16)), nil
}

// Style returns the first span of the style array at idx.
func (p *StringPool) Style(idx uint32) (Span, bool) {
	if !p.initialized() || idx >= p.styleCount {
		return Span{}, false
	}
	off := int(binary.LittleEndian.Uint32(p.data[p.entryStylesOff+4*int(idx):]))
	pos := p.stylesStart + off
	if pos < p.stylesStart || pos+12 > p.stylesRegionEnd {
		return Span{}, false
	}
	return Span{
		NameIndex: binary.LittleEndian.Uint32(p.data[pos:]),
		FirstChar: binary.LittleEndian.Uint32(p.data[pos+4:]),
		LastChar:  binary.LittleEndian.Uint32(p.data[pos+8:]),
	}, true
}

// utf16Of converts a native Go string into UTF-16 code units, for
// comparison against pool-decoded strings (e.g. Cursor.IndexOfAttribute).
func utf16Of(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// cmpUTF16 is the UTF-16 lexicographic comparator spec.md §4.2/§9
// require for sorted-pool lookups: numeric code-unit comparison with
// explicit lengths, no NUL special-casing (matching strzcmp16).
func cmpUTF16(a, b []uint16) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// IndexOf searches for needle and returns its index, or ErrNotFound on
// a miss. Sorted pools are binary-searched; UTF-8 sorted pools decode
// each probed entry into a scratch buffer rather than the decode cache,
// per spec.md §4.2's "do not let this pollute the cache" rule.
// Unsorted pools are scanned linearly from the last index downward,
// since style-span names empirically live at the tail.
func (p *StringPool) IndexOf(needle []uint16) (int, error) {
	if !p.initialized() {
		return 0, ErrNotInitialized
	}

	if p.sorted {
		lo, hi := 0, int(p.stringCount)-1
		for lo <= hi {
			mid := lo + (hi-lo)/2
			var cur []uint16
			var err error
			if p.isUTF8 {
				raw, _, e := p.rawUTF8(uint32(mid))
				if e == nil {
					cur = utf16.Encode([]rune(string(raw)))
				} else {
					err = e
				}
			} else {
				cur, err = p.rawUTF16(uint32(mid))
			}
			c := -1
			if err == nil {
				c = cmpUTF16(cur, needle)
			}
			switch {
			case c == 0:
				return mid, nil
			case c < 0:
				lo = mid + 1
			default:
				hi = mid - 1
			}
		}
		return 0, ErrNotFound
	}

	for i := int(p.stringCount) - 1; i >= 0; i-- {
		var cur []uint16
		var err error
		if p.isUTF8 {
			raw, _, e := p.rawUTF8(uint32(i))
			if e == nil {
				cur = utf16.Encode([]rune(string(raw)))
			} else {
				err = e
			}
		} else {
			cur, err = p.rawUTF16(uint32(i))
		}
		if err == nil && cmpUTF16(cur, needle) == 0 {
			return i, nil
		}
	}
	return 0, ErrNotFound
}
