package mail

import "strings"

// Field is one named header value.
type Field struct {
	Name  string
	Value string
}

// Headers is an insertion-ordered header mapping with case-insensitive
// names. Setting a name that is already present replaces its value in
// place; the name keeps the spelling of its first occurrence. The zero
// value is ready to use.
type Headers struct {
	fields []Field
	index  map[string]int
}

// Set stores value under name.
func (h *Headers) Set(name, value string) {
	key := strings.ToLower(name)
	if i, ok := h.index[key]; ok {
		h.fields[i].Value = value
		return
	}
	if h.index == nil {
		h.index = make(map[string]int)
	}
	h.index[key] = len(h.fields)
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Lookup returns the value stored under name and whether it was present.
func (h *Headers) Lookup(name string) (string, bool) {
	i, ok := h.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return h.fields[i].Value, true
}

// Get returns the value stored under name, or the empty string.
func (h *Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	_, ok := h.index[strings.ToLower(name)]
	return ok
}

// Len returns the number of distinct names.
func (h *Headers) Len() int {
	return len(h.fields)
}

// Fields returns a copy of the fields in insertion order.
func (h *Headers) Fields() []Field {
	return append([]Field(nil), h.fields...)
}

// Names returns the header names in insertion order.
func (h *Headers) Names() []string {
	names := make([]string, len(h.fields))
	for i, f := range h.fields {
		names[i] = f.Name
	}
	return names
}
