package axml

import (
	"encoding/binary"
	"math"
)

// Event codes, per spec.md §4.3. Node events reuse the chunk type
// values directly (0x0100-0x017f), matching the original's
// event_code_t enum rather than renumbering them.
const (
	BadDocument   int32 = -1
	StartDocument int32 = 0
	EndDocument   int32 = 1

	StartNamespace int32 = chunkXmlStartNamespace
	EndNamespace   int32 = chunkXmlEndNamespace
	StartElement   int32 = chunkXmlStartElement
	EndElement     int32 = chunkXmlEndElement
	CData          int32 = chunkXmlCData
)

// noIndex is the ResStringPool_ref / attribute-index "absent" sentinel.
const noIndex = 0xFFFFFFFF

const (
	nodeHeaderSize = 16 // ResChunk_header(8) + lineNumber(4) + comment(4)

	nsExtSize       = 8  // prefix(4) + uri(4)
	endElemExtSize  = 8  // ns(4) + name(4)
	cdataExtSize    = 12 // data(4) + typedData(Res_value, 8)
	attrExtHdrSize  = 20 // ns(4)+name(4)+attrStart(2)+attrSize(2)+attrCount(2)+id(2)+class(2)+style(2)
	minAttrRecSize  = 20 // ns(4)+name(4)+rawValue(4)+typedValue(Res_value,8)
)

// Position is an O(1)-restorable snapshot of a Cursor's walk state, per
// spec.md §4.3 "save/restore".
type Position struct {
	event   int32
	curNode int
	curExt  int
}

// Cursor is a pull-style reader over an XmlTree's node chunks. The zero
// value is not usable; obtain one from XmlTree.Cursor.
type Cursor struct {
	tree    *XmlTree
	event   int32
	curNode int
	curExt  int
}

// Restart returns the cursor to the StartDocument state.
func (c *Cursor) Restart() {
	c.event = StartDocument
	c.curNode = -1
	c.curExt = -1
}

// Position captures the cursor's current walk state for later SetPosition.
func (c *Cursor) Position() Position {
	return Position{event: c.event, curNode: c.curNode, curExt: c.curExt}
}

// SetPosition restores a previously captured Position in O(1).
func (c *Cursor) SetPosition(p Position) {
	c.event = p.event
	c.curNode = p.curNode
	c.curExt = p.curExt
}

// Event returns the event the cursor is currently positioned at.
func (c *Cursor) Event() int32 { return c.event }

// Next advances to the next node event. Once BadDocument or
// EndDocument is reached, further calls keep returning it (spec.md §8
// property 2, "terminates").
func (c *Cursor) Next() (int32, error) {
	if c.event == EndDocument || c.event == BadDocument {
		return c.event, nil
	}

	pos := c.tree.rootOffset
	if c.curNode >= 0 {
		prev, ok := readChunkHeader(c.tree.data, c.curNode)
		if !ok {
			c.event, c.curNode = BadDocument, -1
			return c.event, badType(c.curNode, "current node header vanished")
		}
		pos = nextChunkOffset(c.curNode, prev)
	}

	for {
		if pos >= c.tree.end {
			c.event, c.curNode = EndDocument, -1
			return c.event, nil
		}

		ch, err := validateChunk(c.tree.data, pos, chunkHeaderSize, c.tree.end, "xml node")
		if err != nil {
			c.event, c.curNode = BadDocument, -1
			return c.event, err
		}

		if ch.Type < chunkXmlFirstNodeType || ch.Type > chunkXmlLastNodeType {
			pos = nextChunkOffset(pos, ch)
			continue
		}

		if int(ch.HeaderSize) < nodeHeaderSize {
			c.event, c.curNode = BadDocument, -1
			return c.event, badType(pos, "node header size 0x%x smaller than minimum 0x%x", ch.HeaderSize, nodeHeaderSize)
		}

		// Node types inside the node range that are none of the five
		// known kinds are skipped without being yielded.
		if ch.Type > chunkXmlCData {
			pos = nextChunkOffset(pos, ch)
			continue
		}

		ext := pos + int(ch.HeaderSize)
		chunkEnd := pos + int(ch.Size)
		if err := validateNodeExt(c.tree.data, int32(ch.Type), ext, chunkEnd); err != nil {
			c.event, c.curNode = BadDocument, -1
			return c.event, err
		}

		c.event = int32(ch.Type)
		c.curNode = pos
		c.curExt = ext
		return c.event, nil
	}
}

func validateNodeExt(buf []byte, typ int32, ext, chunkEnd int) error {
	switch typ {
	case StartNamespace, EndNamespace:
		if ext+nsExtSize > chunkEnd {
			return badType(ext, "namespace node extension runs past its chunk")
		}
	case EndElement:
		if ext+endElemExtSize > chunkEnd {
			return badType(ext, "end-element node extension runs past its chunk")
		}
	case CData:
		if ext+cdataExtSize > chunkEnd {
			return badType(ext, "cdata node extension runs past its chunk")
		}
	case StartElement:
		if ext+attrExtHdrSize > chunkEnd {
			return badType(ext, "start-element node extension runs past its chunk")
		}
		attrStart := int(binary.LittleEndian.Uint16(buf[ext+8:]))
		attrSize := int(binary.LittleEndian.Uint16(buf[ext+10:]))
		attrCount := int(binary.LittleEndian.Uint16(buf[ext+12:]))
		if attrCount > 0 && attrSize < minAttrRecSize {
			return badType(ext, "attribute size 0x%x is smaller than minimum 0x%x", attrSize, minAttrRecSize)
		}
		recordsEnd := ext + attrStart + attrCount*attrSize
		if recordsEnd < ext || recordsEnd > chunkEnd {
			return badType(ext, "attribute table of %d items extends past its chunk", attrCount)
		}
	default:
		return badType(ext, "unreachable node type 0x%04x", typ)
	}
	return nil
}

func (c *Cursor) requireInitialized() error {
	if c.tree == nil {
		return ErrNotInitialized
	}
	return nil
}

// LineNumber returns the source line number recorded for the current
// node, or math.MaxUint32 when no node is current — preserving the
// original's `(uint32_t)-1` sentinel verbatim (spec.md §9 Open Question 2).
func (c *Cursor) LineNumber() uint32 {
	if c.curNode < 0 {
		return math.MaxUint32
	}
	return binary.LittleEndian.Uint32(c.tree.data[c.curNode+8:])
}

// CommentID returns the string pool index of the current node's
// attached comment, and false if there is none.
func (c *Cursor) CommentID() (uint32, bool) {
	if c.curNode < 0 {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(c.tree.data[c.curNode+12:])
	return id, id != noIndex
}

// Comment returns the current node's attached comment string, if any.
func (c *Cursor) Comment() (string, error) {
	id, ok := c.CommentID()
	if !ok {
		return "", ErrNotFound
	}
	return c.ref(id).String()
}

// ref builds a deferred pool lookup for id, letting accessors pass the
// lookup around instead of each one threading *StringPool by hand.
func (c *Cursor) ref(id uint32) Ref {
	return Ref{Pool: &c.tree.pool, Index: id}
}

func (c *Cursor) elementExtOK() bool {
	return c.event == StartElement || c.event == EndElement
}

// ElementNamespaceID returns the string pool index of the current
// start/end element's namespace, and false when the element has none.
func (c *Cursor) ElementNamespaceID() (uint32, bool) {
	if !c.elementExtOK() {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(c.tree.data[c.curExt:])
	return id, id != noIndex
}

// ElementNamespace resolves ElementNamespaceID through the string pool.
func (c *Cursor) ElementNamespace() (string, error) {
	id, ok := c.ElementNamespaceID()
	if !ok {
		return "", ErrNotFound
	}
	return c.ref(id).String()
}

// ElementNameID returns the string pool index of the current
// start/end element's local name.
func (c *Cursor) ElementNameID() (uint32, error) {
	if !c.elementExtOK() {
		return 0, ErrNotFound
	}
	return binary.LittleEndian.Uint32(c.tree.data[c.curExt+4:]), nil
}

// ElementName resolves ElementNameID through the string pool.
func (c *Cursor) ElementName() (string, error) {
	id, err := c.ElementNameID()
	if err != nil {
		return "", err
	}
	return c.ref(id).String()
}

// NamespacePrefixID returns the string pool index of the current
// start/end-namespace node's prefix.
func (c *Cursor) NamespacePrefixID() (uint32, error) {
	if c.event != StartNamespace && c.event != EndNamespace {
		return 0, ErrNotFound
	}
	return binary.LittleEndian.Uint32(c.tree.data[c.curExt:]), nil
}

// NamespacePrefix resolves NamespacePrefixID through the string pool.
func (c *Cursor) NamespacePrefix() (string, error) {
	id, err := c.NamespacePrefixID()
	if err != nil {
		return "", err
	}
	return c.ref(id).String()
}

// NamespaceURIID returns the string pool index of the current
// start/end-namespace node's URI.
func (c *Cursor) NamespaceURIID() (uint32, error) {
	if c.event != StartNamespace && c.event != EndNamespace {
		return 0, ErrNotFound
	}
	return binary.LittleEndian.Uint32(c.tree.data[c.curExt+4:]), nil
}

// NamespaceURI resolves NamespaceURIID through the string pool.
func (c *Cursor) NamespaceURI() (string, error) {
	id, err := c.NamespaceURIID()
	if err != nil {
		return "", err
	}
	return c.ref(id).String()
}

// TextID returns the string pool index of the current CDATA node's raw text.
func (c *Cursor) TextID() (uint32, error) {
	if c.event != CData {
		return 0, ErrNotFound
	}
	return binary.LittleEndian.Uint32(c.tree.data[c.curExt:]), nil
}

// Text resolves TextID through the string pool.
func (c *Cursor) Text() (string, error) {
	id, err := c.TextID()
	if err != nil {
		return "", err
	}
	return c.ref(id).String()
}

// TextValue returns the current CDATA node's typed value, the decoded
// Res_value alongside the raw string — the original coerces numeric
// CDATA through this typed value rather than the string form
// (SUPPLEMENTED per spec.md §9 Design Note, grounded on getTextValue).
func (c *Cursor) TextValue() (Value, error) {
	if c.event != CData {
		return Value{}, ErrNotFound
	}
	v, ok := readValue(c.tree.data, c.curExt+4)
	if !ok {
		return Value{}, badType(c.curExt+4, "cdata typed value runs past its chunk")
	}
	return v, nil
}

func (c *Cursor) attrExt() (ext int, attrStart, attrSize, attrCount int, ok bool) {
	if c.event != StartElement {
		return 0, 0, 0, 0, false
	}
	attrStart = int(binary.LittleEndian.Uint16(c.tree.data[c.curExt+8:]))
	attrSize = int(binary.LittleEndian.Uint16(c.tree.data[c.curExt+10:]))
	attrCount = int(binary.LittleEndian.Uint16(c.tree.data[c.curExt+12:]))
	return c.curExt, attrStart, attrSize, attrCount, true
}

// AttributeCount returns the number of attributes on the current
// start-element node, or 0 if the cursor is not on one.
func (c *Cursor) AttributeCount() int {
	_, _, _, n, ok := c.attrExt()
	if !ok {
		return 0
	}
	return n
}

// attrOffset returns the byte offset of attribute i's record. Bounds on
// i*attrSize were already verified by validateNodeExt when the node
// was entered; the stride used here is always attrSize, never
// unsafe.Sizeof-style assumption, so forward-compat attribute records
// with extra trailing fields still address correctly.
func (c *Cursor) attrOffset(i int) (int, bool) {
	ext, attrStart, attrSize, count, ok := c.attrExt()
	if !ok || i < 0 || i >= count {
		return 0, false
	}
	return ext + attrStart + i*attrSize, true
}

// AttributeNamespaceID returns the string pool index of attribute i's
// namespace, and false if it has none.
func (c *Cursor) AttributeNamespaceID(i int) (uint32, bool) {
	off, ok := c.attrOffset(i)
	if !ok {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(c.tree.data[off:])
	return id, id != noIndex
}

// AttributeNamespace resolves AttributeNamespaceID through the string pool.
func (c *Cursor) AttributeNamespace(i int) (string, error) {
	id, ok := c.AttributeNamespaceID(i)
	if !ok {
		return "", ErrNotFound
	}
	return c.ref(id).String()
}

// AttributeNameID returns the string pool index of attribute i's name.
func (c *Cursor) AttributeNameID(i int) (uint32, bool) {
	off, ok := c.attrOffset(i)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(c.tree.data[off+4:]), true
}

// AttributeName resolves AttributeNameID through the string pool.
func (c *Cursor) AttributeName(i int) (string, error) {
	id, ok := c.AttributeNameID(i)
	if !ok {
		return "", ErrNotFound
	}
	return c.ref(id).String()
}

// AttributeNameResID returns the numeric resource id for attribute i's
// name, looked up through the tree's resource map side table.
func (c *Cursor) AttributeNameResID(i int) (uint32, bool) {
	nameIdx, ok := c.AttributeNameID(i)
	if !ok {
		return 0, false
	}
	return c.tree.ResourceID(nameIdx)
}

// AttributeValueStringID returns the string pool index of attribute i's
// raw (pre-typed) value.
func (c *Cursor) AttributeValueStringID(i int) (uint32, bool) {
	off, ok := c.attrOffset(i)
	if !ok {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(c.tree.data[off+8:])
	return id, id != noIndex
}

// AttributeStringValue resolves AttributeValueStringID through the
// string pool.
func (c *Cursor) AttributeStringValue(i int) (string, error) {
	id, ok := c.AttributeValueStringID(i)
	if !ok {
		return "", ErrNotFound
	}
	return c.ref(id).String()
}

// AttributeValue returns attribute i's typed Res_value, unrewritten.
func (c *Cursor) AttributeValue(i int) (Value, bool) {
	off, ok := c.attrOffset(i)
	if !ok {
		return Value{}, false
	}
	v, vok := readValue(c.tree.data, off+12)
	if !vok {
		return Value{}, false
	}
	return v, true
}

// AttributeDataType returns attribute i's data type, with
// TYPE_DYNAMIC_REFERENCE rewritten to TYPE_REFERENCE — the cursor's
// only public-boundary rewrite (spec.md §4.3/§8 property 7); the raw
// byte as stored is unaffected and is what AttributeValue returns.
func (c *Cursor) AttributeDataType(i int) (DataType, bool) {
	v, ok := c.AttributeValue(i)
	if !ok {
		return 0, false
	}
	if v.DataType == TypeDynamicReference {
		return TypeReference, true
	}
	return v.DataType, true
}

// AttributeData returns attribute i's raw typed Data word.
func (c *Cursor) AttributeData(i int) (uint32, bool) {
	v, ok := c.AttributeValue(i)
	if !ok {
		return 0, false
	}
	return v.Data, true
}

// IndexOfAttribute searches the current start-element's attributes for
// one matching name and, if ns is non-nil, namespace ns. A nil ns
// matches only attributes that have no namespace at all (spec.md §4.3).
// Matching compares decoded string content, not pool index, since
// nothing requires a pool to intern equal strings at a single index.
// When the pool is UTF-8 the comparison is done on raw bytes, so a miss
// never populates the pool's UTF-16 decode cache (spec.md §4.3); UTF-16
// pools compare u16 arrays directly.
func (c *Cursor) IndexOfAttribute(ns *string, name string) (int, error) {
	_, _, _, count, ok := c.attrExt()
	if !ok {
		return 0, ErrNotFound
	}

	pool := &c.tree.pool
	isUTF8 := pool.IsUTF8()

	wantName := utf16Of(name)
	wantNameUTF8 := []byte(name)
	var wantNS []uint16
	var wantNSUTF8 []byte
	if ns != nil {
		wantNS = utf16Of(*ns)
		wantNSUTF8 = []byte(*ns)
	}

	matches := func(id uint32, want []uint16, wantUTF8 []byte) bool {
		if isUTF8 {
			raw, _, err := pool.GetUTF8(id)
			return err == nil && string(raw) == string(wantUTF8)
		}
		cur, err := pool.GetUTF16(id)
		return err == nil && cmpUTF16(cur, want) == 0
	}

	for i := 0; i < count; i++ {
		nsID, hasNS := c.AttributeNamespaceID(i)
		if ns == nil && hasNS {
			continue
		}
		if ns != nil {
			if !hasNS || !matches(nsID, wantNS, wantNSUTF8) {
				continue
			}
		}
		nameID, _ := c.AttributeNameID(i)
		if !matches(nameID, wantName, wantNameUTF8) {
			continue
		}
		return i, nil
	}
	return 0, ErrNotFound
}

// IndexOfID returns the attribute array index of the "id" attribute
// recorded in the current start-element's header, or ErrNotFound if
// absent. The stored field is 1-based (0 means absent); spec.md §4.1.
func (c *Cursor) IndexOfID() (int, error) { return c.specialAttrIndex(14) }

// IndexOfClass returns the attribute array index of the "class" attribute.
func (c *Cursor) IndexOfClass() (int, error) { return c.specialAttrIndex(16) }

// IndexOfStyle returns the attribute array index of the "style" attribute.
func (c *Cursor) IndexOfStyle() (int, error) { return c.specialAttrIndex(18) }

func (c *Cursor) specialAttrIndex(fieldOffset int) (int, error) {
	if c.event != StartElement {
		return 0, ErrNotFound
	}
	idx1 := binary.LittleEndian.Uint16(c.tree.data[c.curExt+fieldOffset:])
	if idx1 == 0 {
		return 0, ErrNotFound
	}
	return int(idx1) - 1, nil
}
