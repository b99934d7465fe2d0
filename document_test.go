package axml

import (
	"errors"
	"testing"
)

// S4 — minimal document: <r a="v"/>.
func TestParseTree_MinimalDocument(t *testing.T) {
	pool := buildPool([]string{"r", "a", "v"}, false, false)

	start := buildNode(nodeSpec{
		typ:     chunkXmlStartElement,
		comment: noIndex,
		ext: startElementExt(noIndex, 0, 0, 0, 0, []attrSpec{
			{ns: noIndex, name: 1, rawValue: 2, dataType: TypeString, data: 2},
		}),
	})
	end := buildNode(nodeSpec{
		typ:     chunkXmlEndElement,
		comment: noIndex,
		ext:     endElementExt(noIndex, 0),
	})

	buf := buildTree(pool, nil, [][]byte{start, end})

	tree, err := ParseTree(buf)
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}
	c := tree.Cursor()

	if ev, err := c.Next(); err != nil || ev != StartElement {
		t.Fatalf("Next() = %d, %v, want StartElement", ev, err)
	}
	name, err := c.ElementName()
	if err != nil || name != "r" {
		t.Fatalf("ElementName() = %q, %v, want \"r\"", name, err)
	}
	if n := c.AttributeCount(); n != 1 {
		t.Fatalf("AttributeCount() = %d, want 1", n)
	}
	aname, err := c.AttributeName(0)
	if err != nil || aname != "a" {
		t.Fatalf("AttributeName(0) = %q, %v, want \"a\"", aname, err)
	}
	aval, err := c.AttributeStringValue(0)
	if err != nil || aval != "v" {
		t.Fatalf("AttributeStringValue(0) = %q, %v, want \"v\"", aval, err)
	}

	if ev, err := c.Next(); err != nil || ev != EndElement {
		t.Fatalf("Next() = %d, %v, want EndElement", ev, err)
	}
	if ev, err := c.Next(); err != nil || ev != EndDocument {
		t.Fatalf("Next() = %d, %v, want EndDocument", ev, err)
	}
	// idempotent at EndDocument
	if ev, err := c.Next(); err != nil || ev != EndDocument {
		t.Fatalf("Next() after EndDocument = %d, %v, want EndDocument", ev, err)
	}
}

// S5 — namespace scoping: prefix/uri accessors agree between
// StartNamespace and EndNamespace for the same node data.
func TestParseTree_NamespaceScoping(t *testing.T) {
	pool := buildPool([]string{"x", "http://n", "r"}, false, false)

	startNS := buildNode(nodeSpec{typ: chunkXmlStartNamespace, comment: noIndex, ext: namespaceExt(0, 1)})
	startEl := buildNode(nodeSpec{typ: chunkXmlStartElement, comment: noIndex, ext: startElementExt(noIndex, 2, 0, 0, 0, nil)})
	endEl := buildNode(nodeSpec{typ: chunkXmlEndElement, comment: noIndex, ext: endElementExt(noIndex, 2)})
	endNS := buildNode(nodeSpec{typ: chunkXmlEndNamespace, comment: noIndex, ext: namespaceExt(0, 1)})

	buf := buildTree(pool, nil, [][]byte{startNS, startEl, endEl, endNS})

	tree, err := ParseTree(buf)
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}
	c := tree.Cursor()

	if ev, err := c.Next(); err != nil || ev != StartNamespace {
		t.Fatalf("Next() = %d, %v, want StartNamespace", ev, err)
	}
	startPrefix, _ := c.NamespacePrefixID()
	startURI, _ := c.NamespaceURIID()

	for ev, err := c.Next(); ev != EndNamespace; ev, err = c.Next() {
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if ev == EndDocument {
			t.Fatalf("reached EndDocument before EndNamespace")
		}
	}
	endPrefix, _ := c.NamespacePrefixID()
	endURI, _ := c.NamespaceURIID()

	if startPrefix != endPrefix || startURI != endURI {
		t.Fatalf("namespace ids differ: start=(%d,%d) end=(%d,%d)", startPrefix, startURI, endPrefix, endURI)
	}
}

// S6 — corrupted size: inflating the outer chunk's declared size past
// the buffer must fail to parse, never read past buf, and the cursor
// (if one could be obtained) reports BadDocument.
func TestParseTree_CorruptedSize(t *testing.T) {
	pool := buildPool([]string{"r"}, false, false)
	start := buildNode(nodeSpec{typ: chunkXmlStartElement, comment: noIndex, ext: startElementExt(noIndex, 0, 0, 0, 0, nil)})
	end := buildNode(nodeSpec{typ: chunkXmlEndElement, comment: noIndex, ext: endElementExt(noIndex, 0)})
	buf := buildTree(pool, nil, [][]byte{start, end})

	// Corrupt the outer chunk's size field to claim one more byte than
	// the buffer actually has.
	corruptSize(buf, uint32(len(buf)+1))

	_, err := ParseTree(buf)
	if !errors.Is(err, ErrBadType) {
		t.Fatalf("ParseTree error = %v, want ErrBadType", err)
	}
}

func corruptSize(buf []byte, size uint32) {
	buf[4] = byte(size)
	buf[5] = byte(size >> 8)
	buf[6] = byte(size >> 16)
	buf[7] = byte(size >> 24)
}

// property 5: stride independence — widening attr_size and padding each
// attribute record must not change any attribute accessor's result.
func TestCursor_AttributeStrideIndependence(t *testing.T) {
	pool := buildPool([]string{"r", "a", "v"}, false, false)

	const widerAttrSize = 32 // > the 20-byte minimum record
	var ext []byte
	ext = appendU32(ext, noIndex)
	ext = appendU32(ext, 0)
	ext = appendU16(ext, 20)
	ext = appendU16(ext, widerAttrSize)
	ext = appendU16(ext, 1)
	ext = appendU16(ext, 0)
	ext = appendU16(ext, 0)
	ext = appendU16(ext, 0)
	rec := appendU32(nil, noIndex)
	rec = appendU32(rec, 1)
	rec = appendU32(rec, 2)
	rec = appendU16(rec, 8)
	rec = append(rec, 0, byte(TypeString))
	rec = appendU32(rec, 2)
	rec = append(rec, make([]byte, widerAttrSize-len(rec))...) // forward-compat padding
	ext = append(ext, rec...)

	start := buildNode(nodeSpec{typ: chunkXmlStartElement, comment: noIndex, ext: ext})
	end := buildNode(nodeSpec{typ: chunkXmlEndElement, comment: noIndex, ext: endElementExt(noIndex, 0)})
	buf := buildTree(pool, nil, [][]byte{start, end})

	tree, err := ParseTree(buf)
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}
	c := tree.Cursor()
	if ev, _ := c.Next(); ev != StartElement {
		t.Fatalf("expected StartElement")
	}
	if n := c.AttributeCount(); n != 1 {
		t.Fatalf("AttributeCount() = %d, want 1", n)
	}
	name, err := c.AttributeName(0)
	if err != nil || name != "a" {
		t.Fatalf("AttributeName(0) = %q, %v, want \"a\"", name, err)
	}
	val, err := c.AttributeStringValue(0)
	if err != nil || val != "v" {
		t.Fatalf("AttributeStringValue(0) = %q, %v, want \"v\"", val, err)
	}
}

// property 7: dynamic-reference rewrite at the cursor's public boundary.
func TestCursor_DynamicReferenceRewrite(t *testing.T) {
	pool := buildPool([]string{"r", "a"}, false, false)
	start := buildNode(nodeSpec{
		typ:     chunkXmlStartElement,
		comment: noIndex,
		ext: startElementExt(noIndex, 0, 0, 0, 0, []attrSpec{
			{ns: noIndex, name: 1, rawValue: noIndex, dataType: TypeDynamicReference, data: 0x7f010001},
		}),
	})
	end := buildNode(nodeSpec{typ: chunkXmlEndElement, comment: noIndex, ext: endElementExt(noIndex, 0)})
	buf := buildTree(pool, nil, [][]byte{start, end})

	tree, err := ParseTree(buf)
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}
	c := tree.Cursor()
	if ev, _ := c.Next(); ev != StartElement {
		t.Fatalf("expected StartElement")
	}

	dt, ok := c.AttributeDataType(0)
	if !ok || dt != TypeReference {
		t.Fatalf("AttributeDataType(0) = %v, %v, want TypeReference", dt, ok)
	}
	raw, ok := c.AttributeValue(0)
	if !ok || raw.DataType != TypeDynamicReference {
		t.Fatalf("AttributeValue(0).DataType = %v, want TypeDynamicReference (unrewritten)", raw.DataType)
	}
	data, ok := c.AttributeData(0)
	if !ok || data != 0x7f010001 {
		t.Fatalf("AttributeData(0) = 0x%x, want 0x7f010001", data)
	}
}

func TestCursor_LineNumberSentinelWhenNoNodeCurrent(t *testing.T) {
	pool := buildPool([]string{"r"}, false, false)
	start := buildNode(nodeSpec{typ: chunkXmlStartElement, comment: noIndex, ext: startElementExt(noIndex, 0, 0, 0, 0, nil)})
	end := buildNode(nodeSpec{typ: chunkXmlEndElement, comment: noIndex, ext: endElementExt(noIndex, 0)})
	buf := buildTree(pool, nil, [][]byte{start, end})

	tree, err := ParseTree(buf)
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}
	c := tree.Cursor()
	if got := c.LineNumber(); got != 0xFFFFFFFF {
		t.Fatalf("LineNumber() before Next() = 0x%x, want 0xFFFFFFFF", got)
	}
}
