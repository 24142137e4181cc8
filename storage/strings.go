package storage

// StringID references an interned string. 0 is the empty string.
type StringID uint32

// StringPool interns strings. Single-threaded.
type StringPool struct {
	strs []string
	ids  map[string]StringID
}

// NewStringPool creates a pool holding only the empty string.
func NewStringPool() *StringPool {
	return &StringPool{strs: []string{""}, ids: map[string]StringID{"": 0}}
}

// InternString returns the id of s, adding it when new.
func (p *StringPool) InternString(s string) StringID {
	if id, ok := p.ids[s]; ok {
		return id
	}
	id := StringID(len(p.strs))
	p.strs = append(p.strs, s)
	p.ids[s] = id
	return id
}

// InternBytes interns b, copying only when it is new.
func (p *StringPool) InternBytes(b []byte) StringID {
	if id, ok := p.ids[string(b)]; ok {
		return id
	}
	return p.InternString(string(b))
}

// Get returns the string for id.
func (p *StringPool) Get(id StringID) string { return p.strs[id] }

// Len returns the number of interned strings including the empty one.
func (p *StringPool) Len() int { return len(p.strs) }
