package axml

// Ref is a deferred string pool lookup: a (pool, index) pair, grounded
// on the original's StringPoolRef. Accessors that resolve a node or
// attribute field through the pool build one of these internally
// instead of threading a *StringPool through every call by hand.
type Ref struct {
	Pool  *StringPool
	Index uint32
}

// Valid reports whether the ref points at an actual entry, i.e. its
// index is not the ResStringPool_ref "absent" sentinel.
func (r Ref) Valid() bool {
	return r.Pool != nil && r.Index != noIndex
}

// String resolves the ref through its pool.
func (r Ref) String() (string, error) {
	if !r.Valid() {
		return "", ErrNotFound
	}
	return r.Pool.String(r.Index)
}

// UTF16 resolves the ref through its pool as raw UTF-16 code units.
func (r Ref) UTF16() ([]uint16, error) {
	if !r.Valid() {
		return nil, ErrNotFound
	}
	return r.Pool.GetUTF16(r.Index)
}
