package axml

// NamespaceStack is an optional helper for consumers that want
// END_NAMESPACE enforcement the decoder itself does not provide (spec.md
// §9 Design Note 3: "the decoder does not enforce this; leave
// enforcement to the consumer"). Push on StartNamespace, Pop on
// EndNamespace, and compare against what Pop returns to detect a
// mismatched nesting depth. Cursor never calls this type itself.
type NamespaceStack struct {
	entries []namespaceEntry
}

type namespaceEntry struct {
	Prefix uint32
	URI    uint32
}

// Push records a namespace entering scope.
func (s *NamespaceStack) Push(prefix, uri uint32) {
	s.entries = append(s.entries, namespaceEntry{Prefix: prefix, URI: uri})
}

// Pop removes and returns the innermost namespace entry, and false if
// the stack was already empty.
func (s *NamespaceStack) Pop() (prefix, uri uint32, ok bool) {
	if len(s.entries) == 0 {
		return 0, 0, false
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top.Prefix, top.URI, true
}

// Depth reports how many namespaces are currently in scope.
func (s *NamespaceStack) Depth() int { return len(s.entries) }
