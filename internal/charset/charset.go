// Package charset resolves charset labels found in mail and decodes bytes to
// text, trying an ordered list of candidate charsets.
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// Default is the charset assumed when a part declares none.
const Default = "utf-8"

var (
	// ErrUnknown is returned for labels no encoding is registered for.
	ErrUnknown = errors.New("unknown charset")
	// ErrInvalid is returned when the input is not valid in the charset.
	ErrInvalid = errors.New("invalid bytes for charset")
)

// aliases maps labels seen in the wild to names the indexes know.
var aliases = map[string]string{
	"utf8":     "utf-8",
	"ascii":    "us-ascii",
	"gb-18030": "gb18030",
	"cp936":    "gbk",
	"x-gbk":    "gbk",
}

// Normalize lower-cases a charset label and strips quotes and whitespace.
func Normalize(name string) string {
	name = strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
	if alias, ok := aliases[name]; ok {
		return alias
	}
	return name
}

// Lookup returns the encoding for a charset label. MIME names are preferred,
// the full IANA registry and the WHATWG labels are tried next; the latter
// knows the gb2312 and gbk labels commonly used in Chinese mail.
func Lookup(name string) (encoding.Encoding, error) {
	name = Normalize(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty label", ErrUnknown)
	}
	if enc, err := ianaindex.MIME.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// DecodeStrict decodes b as the named charset. Unlike the x/text decoders on
// their own, input that would need a replacement character is an error.
func DecodeStrict(b []byte, name string) (string, error) {
	switch Normalize(name) {
	case "utf-8":
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%w: utf-8", ErrInvalid)
		}
		return string(b), nil
	case "us-ascii":
		for _, c := range b {
			if c >= 0x80 {
				return "", fmt.Errorf("%w: us-ascii", ErrInvalid)
			}
		}
		return string(b), nil
	}

	enc, err := Lookup(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("%w: %s", ErrInvalid, name)
	}
	return string(out), nil
}

// DecodeFirst tries each candidate in order and returns the first strict
// decode that succeeds, along with the charset that produced it. ok is false
// when every candidate fails.
func DecodeFirst(b []byte, candidates []string) (text, used string, ok bool) {
	for _, c := range candidates {
		s, err := DecodeStrict(b, c)
		if err == nil {
			return s, c, true
		}
	}
	return "", "", false
}

// quirk ties a marker in raw header names to charsets a provider uses
// without declaring them.
type quirk struct {
	marker   []byte
	charsets []string
}

var quirks = []quirk{
	// QQ mail labels GBK subjects and bodies as other charsets.
	{marker: []byte("X-QQ"), charsets: []string{"gbk"}},
}

// Fallbacks returns the provider-specific charsets implied by the raw header
// names, in priority order.
func Fallbacks(rawNames [][]byte) []string {
	var out []string
	for _, q := range quirks {
		for _, name := range rawNames {
			if bytes.Contains(name, q.marker) {
				out = append(out, q.charsets...)
				break
			}
		}
	}
	return out
}

// Candidates builds the resolution list for a header block: the declared
// charset (Default when empty) first, then quirk fallbacks, then extra.
// Duplicates are dropped.
func Candidates(declared string, rawNames [][]byte, extra []string) []string {
	main := Normalize(declared)
	if main == "" {
		main = Default
	}
	list := []string{main}
	add := func(c string) {
		c = Normalize(c)
		if c == "" {
			return
		}
		for _, have := range list {
			if have == c {
				return
			}
		}
		list = append(list, c)
	}
	for _, c := range Fallbacks(rawNames) {
		add(c)
	}
	for _, c := range extra {
		add(c)
	}
	return list
}
