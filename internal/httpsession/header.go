package httpsession

import (
	"net/textproto"
	"strings"
)

type field struct {
	name  string
	value string
}

// Header is an ordered list of header fields. Names are stored in
// canonical form; lookups are case-insensitive.
type Header struct {
	fields []field
}

func canonical(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

// Get returns the first value for name, or "".
func (h *Header) Get(name string) string {
	name = canonical(name)
	for _, f := range h.fields {
		if f.name == name {
			return f.value
		}
	}
	return ""
}

func (h *Header) Values(name string) []string {
	name = canonical(name)
	var out []string
	for _, f := range h.fields {
		if f.name == name {
			out = append(out, f.value)
		}
	}
	return out
}

func (h *Header) Has(name string) bool {
	name = canonical(name)
	for _, f := range h.fields {
		if f.name == name {
			return true
		}
	}
	return false
}

func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, field{canonical(name), value})
}

// Set replaces every value of name with value. The field keeps the position
// of its first occurrence.
func (h *Header) Set(name, value string) {
	name = canonical(name)
	for i, f := range h.fields {
		if f.name == name {
			h.fields[i].value = value
			h.fields = append(h.fields[:i+1], without(h.fields[i+1:], name)...)
			return
		}
	}
	h.fields = append(h.fields, field{name, value})
}

func (h *Header) Del(name string) {
	h.fields = without(h.fields, canonical(name))
}

func (h *Header) Len() int { return len(h.fields) }

// Each calls fn for every field in insertion order.
func (h *Header) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

// HasToken reports whether any comma-separated element of name's values
// equals token, ignoring case.
func (h *Header) HasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for elem := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(elem), token) {
				return true
			}
		}
	}
	return false
}

func without(fields []field, name string) []field {
	out := fields[:0]
	for _, f := range fields {
		if f.name != name {
			out = append(out, f)
		}
	}
	return out
}
