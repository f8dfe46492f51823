package h2bridge

import "strings"

// Headers is an ordered collection of (name, value) pairs. Lookups are
// case-insensitive, matching HTTP/1.x header semantics; insertion order is
// preserved.
type Headers struct {
	fields [][2]string
}

// NewHeaders creates an empty header set.
func NewHeaders() *Headers {
	return &Headers{}
}

// Add appends a header entry, keeping any existing entries with the same name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, [2]string{name, value})
}

// Set replaces all entries named name with a single entry. The entry keeps
// the position of the first existing occurrence, or is appended if absent.
func (h *Headers) Set(name, value string) {
	out := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if strings.EqualFold(f[0], name) {
			if !replaced {
				out = append(out, [2]string{name, value})
				replaced = true
			}
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, [2]string{name, value})
	}
	h.fields = out
}

// Get returns the value of the first entry named name, or "" if absent.
func (h *Headers) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f[0], name) {
			return f[1]
		}
	}
	return ""
}

// Values returns all values for name in order.
func (h *Headers) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f[0], name) {
			values = append(values, f[1])
		}
	}
	return values
}

// Contains reports whether any entry is named name.
func (h *Headers) Contains(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f[0], name) {
			return true
		}
	}
	return false
}

// Del removes all entries named name.
func (h *Headers) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f[0], name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len returns the number of entries.
func (h *Headers) Len() int {
	return len(h.fields)
}

// ForEach calls fn for each entry in order.
func (h *Headers) ForEach(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f[0], f[1])
	}
}

// Clone returns a deep copy of the header set.
func (h *Headers) Clone() *Headers {
	fields := make([][2]string, len(h.fields))
	copy(fields, h.fields)
	return &Headers{fields: fields}
}
