package axml

import "encoding/binary"

// XmlTree is a parsed RES_XML_TYPE chunk: its string pool, optional
// resource-id side table, and the byte range its node chunks occupy.
// It owns no mutable state beyond what ParseTree computes once; Cursor
// does all the stateful walking.
type XmlTree struct {
	data       []byte
	pool       StringPool
	resIDs     []uint32
	rootOffset int
	end        int
	logger     Logger
}

// ParseTree validates buf as a complete RES_XML_TYPE chunk and locates
// its string pool, resource map, and first node chunk, per spec.md §4.3
// "Construction". buf must be addressable in full; ParseTree does not
// stream. By default it borrows buf for the tree's lifetime; pass
// WithOwnedCopy to take an owned copy instead.
func ParseTree(buf []byte, opts ...Option) (t *XmlTree, err error) {
	cfg := newConfig(opts)
	defer func() {
		if err != nil {
			cfg.logger.Printf("axml: ParseTree failed: %v", err)
		}
	}()

	ch, err := validateChunk(buf, 0, chunkHeaderSize, len(buf), "xml tree")
	if err != nil {
		return nil, err
	}
	if ch.Type != chunkXml {
		return nil, badType(0, "expected xml chunk 0x%04x, got 0x%04x", chunkXml, ch.Type)
	}

	end := int(ch.Size)
	if cfg.copyData {
		owned := make([]byte, end)
		copy(owned, buf[:end])
		buf = owned
	}
	t = &XmlTree{data: buf[:end], end: end, rootOffset: -1, logger: cfg.logger}
	t.pool.logger = cfg.logger

	poolSeen := false
	pos := int(ch.HeaderSize)
	for pos < end {
		sub, err := validateChunk(t.data, pos, chunkHeaderSize, end, "xml tree sub-chunk")
		if err != nil {
			return nil, err
		}

		switch {
		case sub.Type == chunkStringPool && !poolSeen:
			if err := t.pool.SetTo(t.data[pos:pos+int(sub.Size)], false); err != nil {
				return nil, err
			}
			poolSeen = true

		case sub.Type == chunkXmlResourceMap && t.resIDs == nil:
			count := (int(sub.Size) - int(sub.HeaderSize)) / 4
			base := pos + int(sub.HeaderSize)
			ids := make([]uint32, count)
			for i := 0; i < count; i++ {
				ids[i] = binary.LittleEndian.Uint32(t.data[base+4*i:])
			}
			t.resIDs = ids

		case sub.Type >= chunkXmlFirstNodeType && sub.Type <= chunkXmlLastNodeType:
			if t.rootOffset < 0 {
				t.rootOffset = pos
			}
		}

		pos = nextChunkOffset(pos, sub)
	}

	if !poolSeen {
		return nil, badType(0, "missing string pool chunk")
	}
	if t.rootOffset < 0 {
		return nil, badType(0, "missing root node chunk")
	}
	return t, nil
}

// Strings returns the tree's string pool.
func (t *XmlTree) Strings() *StringPool { return &t.pool }

// ResourceID returns the resource id mapped to string pool index idx by
// the tree's optional resource map chunk.
func (t *XmlTree) ResourceID(idx uint32) (uint32, bool) {
	if idx >= uint32(len(t.resIDs)) {
		return 0, false
	}
	return t.resIDs[idx], true
}

// Cursor returns a new pull cursor positioned before the first node,
// i.e. in the StartDocument state.
func (t *XmlTree) Cursor() *Cursor {
	c := &Cursor{tree: t}
	c.Restart()
	return c
}
