// Package mail defines the decoded message model shared by the decoder,
// the mailbox client and the delivery sinks.
package mail

import "time"

// ParsedMail is the structured result of decoding one raw message.
type ParsedMail struct {
	// ID is a caller-assigned tag, e.g. the POP3 message number. The
	// decoder leaves it zero.
	ID int

	ContentText []string
	ContentHTML []string
	Attachments []Attachment

	Headers    Headers
	RawHeaders []RawHeader

	// Charsets holds the candidate charsets of the top-level header block,
	// most specific first.
	Charsets []string

	Subject string
	From    string
	To      string
	Date    *time.Time

	// Raw is the input the message was decoded from, one line per entry
	// without line terminators.
	Raw [][]byte

	// Warnings lists the non-fatal anomalies met while decoding.
	Warnings []Warning
}

// Attachment is a decoded leaf part that is not presented as text.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RawHeader is a header field as it appeared on the wire, after unfolding.
type RawHeader struct {
	Name  []byte
	Value []byte
}

// Warning is a soft failure recorded during decoding.
type Warning struct {
	Kind    string
	Message string
}

// Warning kinds.
const (
	WarnCharset     = "charset"
	WarnDate        = "date"
	WarnContentType = "content-type"
	WarnFilename    = "filename"
	WarnPart        = "part"
)

func (w Warning) String() string {
	return w.Kind + ": " + w.Message
}
