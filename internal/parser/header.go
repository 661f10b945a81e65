package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhangyunhao116/zmail/internal/charset"
	"github.com/zhangyunhao116/zmail/internal/mail"
)

// HeaderBlock is the parsed header section of a message or of one part.
type HeaderBlock struct {
	Raw     []mail.RawHeader
	Headers mail.Headers

	// BodyStart is the index of the first line after the blank line that
	// ends the header block.
	BodyStart int

	MainType string
	SubType  string

	// Params holds the Content-Type parameters under lower-cased keys.
	Params map[string]string

	// Charsets is the resolution list used for every text decode of the
	// block and of the body it heads.
	Charsets []string

	// Date is nil when the block has no Date header or it does not parse.
	Date *time.Time

	// Warnings is only filled by Decoder.ParseHeaders.
	Warnings []mail.Warning

	undecodable map[string]bool
}

// ContentType returns the lower-cased "main/sub" media type.
func (hb *HeaderBlock) ContentType() string {
	return hb.MainType + "/" + hb.SubType
}

type rawField struct {
	name  []byte
	value []byte
}

type pendingHeader struct {
	index int
	name  string
	key   string
	value []byte
}

var utf8Only = []string{charset.Default}

func (r *run) parseHeaders(lines [][]byte) (*HeaderBlock, error) {
	fields, end, err := splitHeaderLines(lines)
	if err != nil {
		return nil, err
	}

	hb := &HeaderBlock{
		BodyStart:   end + 1,
		undecodable: make(map[string]bool),
	}

	// Values are collected per field and stored once every retry is done,
	// so the headers keep wire order whichever pass decoded them.
	rawNames := make([][]byte, 0, len(fields))
	decoded := make([]string, len(fields))
	done := make([]bool, len(fields))
	var pending []pendingHeader
	var ct string
	var hasCT bool
	for i, f := range fields {
		value := bytes.TrimSpace(f.value)
		hb.Raw = append(hb.Raw, mail.RawHeader{Name: f.name, Value: value})
		rawNames = append(rawNames, f.name)

		name := string(f.name)
		key := strings.ToLower(name)
		if s, ok := decodeHeaderValue(value, utf8Only); ok {
			decoded[i], done[i] = s, true
			pending = dropPending(pending, key)
			if key == "content-type" {
				ct, hasCT = s, true
			}
			continue
		}
		pending = append(pending, pendingHeader{index: i, name: name, key: key, value: value})
	}

	// The declared charset is needed before the undecoded headers can be
	// retried, so a Content-Type that is itself pending is read as raw bytes.
	if !hasCT {
		for _, p := range pending {
			if p.key == "content-type" {
				ct, hasCT = string(p.value), true
			}
		}
	}
	_, _, params, _ := parseContentType(ct)
	hb.Charsets = charset.Candidates(params["charset"], rawNames, r.opts.FallbackCharsets)

	for _, p := range pending {
		if s, ok := decodeHeaderValue(p.value, hb.Charsets); ok {
			decoded[p.index], done[p.index] = s, true
			continue
		}
		hb.undecodable[p.key] = true
		r.warn(mail.WarnCharset, "header %s cannot be decoded with %v", p.name, hb.Charsets)
	}
	for i, f := range fields {
		if done[i] {
			hb.Headers.Set(string(f.name), decoded[i])
		}
	}

	if v, ok := hb.Headers.Lookup("Content-Type"); ok {
		ct = v
	}
	var ctOK bool
	hb.MainType, hb.SubType, hb.Params, ctOK = parseContentType(ct)
	if !ctOK {
		if hasCT {
			r.warn(mail.WarnContentType, "malformed Content-Type %q, using %s", ct, hb.ContentType())
		} else {
			r.warn(mail.WarnContentType, "no Content-Type, using %s", hb.ContentType())
		}
	}

	if v := strings.TrimSpace(hb.Headers.Get("Date")); v != "" {
		t, err := ParseDate(v)
		switch {
		case err == nil:
			hb.Date = &t
		case errors.Is(err, ErrMonth) && !r.opts.Lenient:
			return nil, err
		default:
			r.warn(mail.WarnDate, "%v", err)
		}
	}

	return hb, nil
}

// splitHeaderLines unfolds the header block at the start of lines. end is
// the index of the blank line terminating it.
func splitHeaderLines(lines [][]byte) (fields []rawField, end int, err error) {
	for i, line := range lines {
		if isBlank(line) {
			return fields, i, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(fields) == 0 {
				return nil, 0, fmt.Errorf("%w: line %d: continuation before any field", ErrInvalidHeader, i+1)
			}
			f := &fields[len(fields)-1]
			f.value = append(f.value, line...)
			continue
		}
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			return nil, 0, fmt.Errorf("%w: line %d: no colon in %q", ErrInvalidHeader, i+1, clip(line))
		}
		name = bytes.TrimSpace(name)
		if len(name) == 0 || !isASCII(name) {
			return nil, 0, fmt.Errorf("%w: line %d: bad field name %q", ErrInvalidHeader, i+1, clip(name))
		}
		fields = append(fields, rawField{
			name:  append([]byte(nil), name...),
			value: append([]byte(nil), bytes.TrimLeft(value, " \t")...),
		})
	}
	return nil, 0, ErrNoHeaderEnd
}

func dropPending(pending []pendingHeader, key string) []pendingHeader {
	out := pending[:0]
	for _, p := range pending {
		if p.key != key {
			out = append(out, p)
		}
	}
	return out
}

// parseContentType splits a Content-Type value into its media type and
// parameters. ok is false when the type is missing or malformed, in which
// case application/octet-stream is returned.
func parseContentType(v string) (mainType, subType string, params map[string]string, ok bool) {
	segs := splitParams(v)
	params = parseParams(segs[1:])

	typ := strings.ToLower(strings.Join(strings.Fields(segs[0]), ""))
	mainType, subType, found := strings.Cut(typ, "/")
	if !found || mainType == "" || subType == "" || strings.Contains(subType, "/") {
		return "application", "octet-stream", params, false
	}
	return mainType, subType, params, true
}

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// clip shortens b for use in error messages.
func clip(b []byte) []byte {
	const limit = 64
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
