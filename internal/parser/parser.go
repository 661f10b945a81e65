// Package parser decodes raw mail, given as a sequence of lines, into a
// mail.ParsedMail. Multipart bodies are split on their boundary and every
// part is decoded recursively; leaf parts become text, html or attachments.
package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// DefaultMaxDepth bounds multipart nesting when Options.MaxDepth is zero.
const DefaultMaxDepth = 32

// Options configures a Decoder.
type Options struct {
	// Logger receives warnings as they are recorded. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Lenient makes a part that fails to decode a warning instead of
	// failing the whole message.
	Lenient bool

	// MaxDepth is the deepest multipart nesting accepted.
	MaxDepth int

	// FallbackCharsets are tried after the declared charset and the
	// provider quirk charsets.
	FallbackCharsets []string

	// DetectCharset guesses the charset of text parts no candidate
	// decodes.
	DetectCharset bool
}

// Decoder decodes raw messages. It holds no per-message state and is safe
// for concurrent use.
type Decoder struct {
	opts Options
}

// New returns a Decoder for opts.
func New(opts Options) *Decoder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Decoder{opts: opts}
}

var defaultDecoder = New(Options{})

// Decode decodes lines with default options.
func Decode(lines [][]byte) (*mail.ParsedMail, error) {
	return defaultDecoder.Decode(lines)
}

// DecodeBytes decodes a raw message with default options.
func DecodeBytes(raw []byte) (*mail.ParsedMail, error) {
	return defaultDecoder.DecodeBytes(raw)
}

// DecodeBytes splits raw into lines and decodes them.
func (d *Decoder) DecodeBytes(raw []byte) (*mail.ParsedMail, error) {
	return d.Decode(mail.SplitLines(raw))
}

// Decode decodes one message. Lines carry no line terminators. Either a
// complete ParsedMail or an error matching ErrParse is returned.
func (d *Decoder) Decode(lines [][]byte) (*mail.ParsedMail, error) {
	r := d.newRun()

	hb, err := r.parseHeaders(lines)
	if err != nil {
		return nil, err
	}
	r.subject = hb.Headers.Get("Subject")

	var c content
	if err := r.dispatch(hb, lines[hb.BodyStart:], 0, &c); err != nil {
		return nil, err
	}

	pm := &mail.ParsedMail{
		ContentText: c.text,
		ContentHTML: c.html,
		Attachments: c.attachments,
		Headers:     hb.Headers,
		RawHeaders:  hb.Raw,
		Charsets:    hb.Charsets,
		Date:        hb.Date,
		Raw:         lines,
	}
	pm.Subject = r.primary(hb, "Subject")
	pm.From = r.primary(hb, "From")
	pm.To = r.primary(hb, "To")
	pm.Warnings = r.warnings
	return pm, nil
}

// ParseHeaders parses only the header block at the start of lines.
func (d *Decoder) ParseHeaders(lines [][]byte) (*HeaderBlock, error) {
	r := d.newRun()
	hb, err := r.parseHeaders(lines)
	if err != nil {
		return nil, err
	}
	hb.Warnings = r.warnings
	return hb, nil
}

// run carries the state of a single Decode call.
type run struct {
	opts     *Options
	log      *slog.Logger
	warnings []mail.Warning

	// subject of the message, naming attachments that carry no filename.
	subject string
}

func (d *Decoder) newRun() *run {
	return &run{opts: &d.opts, log: d.opts.Logger}
}

func (r *run) warn(kind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, mail.Warning{Kind: kind, Message: msg})
	r.log.Warn("mail decode anomaly", "kind", kind, "detail", msg)
}

// primary returns a top-level header that must always carry a value when
// present: undecodable values become "Unknown<Name>".
func (r *run) primary(hb *HeaderBlock, name string) string {
	if v, ok := hb.Headers.Lookup(name); ok {
		return v
	}
	if hb.undecodable[strings.ToLower(name)] {
		r.log.Error("undecodable primary header", "header", name, "charsets", hb.Charsets)
		return "Unknown" + name
	}
	return ""
}

// content accumulates the leaf results of a message, in part order.
type content struct {
	text        []string
	html        []string
	attachments []mail.Attachment
}

func (c *content) merge(o content) {
	c.text = append(c.text, o.text...)
	c.html = append(c.html, o.html...)
	c.attachments = append(c.attachments, o.attachments...)
}

// dispatch decodes the body belonging to hb, recursing into multipart
// bodies. depth is the nesting level of hb, zero for the message itself.
func (r *run) dispatch(hb *HeaderBlock, body [][]byte, depth int, out *content) error {
	if hb.MainType != "multipart" {
		return r.decodeLeaf(hb, body, out)
	}

	boundary := hb.Params["boundary"]
	if boundary == "" {
		return ErrMissingBoundary
	}
	parts, err := splitParts(body, boundary)
	if err != nil {
		return err
	}
	for i, part := range parts {
		if err := r.decodePart(part, depth+1, out); err != nil {
			if !r.opts.Lenient {
				return fmt.Errorf("part %d: %w", i+1, err)
			}
			r.warn(mail.WarnPart, "skipped part %d at depth %d: %v", i+1, depth+1, err)
		}
	}
	return nil
}

// decodePart runs the whole pipeline on one part. Results are only merged
// into out when the part decodes completely.
func (r *run) decodePart(lines [][]byte, depth int, out *content) error {
	if depth > r.opts.MaxDepth {
		return fmt.Errorf("%w: limit %d", ErrTooDeep, r.opts.MaxDepth)
	}
	if allBlank(lines) {
		r.warn(mail.WarnPart, "empty part at depth %d", depth)
		return nil
	}
	hb, err := r.parseHeaders(lines)
	if err != nil {
		return err
	}
	var c content
	if err := r.dispatch(hb, lines[hb.BodyStart:], depth, &c); err != nil {
		return err
	}
	out.merge(c)
	return nil
}
