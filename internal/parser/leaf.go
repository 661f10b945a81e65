package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/charset"
	"github.com/zhangyunhao116/zmail/internal/mail"
)

// untitled names attachments nothing else names.
const untitled = "Untitled"

func (r *run) decodeLeaf(hb *HeaderBlock, body [][]byte, out *content) error {
	cte := strings.ToLower(strings.TrimSpace(hb.Headers.Get("Content-Transfer-Encoding")))
	if cte == "" {
		cte = "8bit"
	}
	data, err := decodeTransfer(body, cte)
	if err != nil {
		return err
	}

	disposition, dparams := parseDisposition(hb.Headers.Get("Content-Disposition"))
	if !isAttachment(disposition) && hb.MainType == "text" {
		switch hb.SubType {
		case "plain":
			if s, ok := r.decodeText(data, hb); ok {
				out.text = append(out.text, s)
			}
			return nil
		case "html":
			if s, ok := r.decodeText(data, hb); ok {
				out.html = append(out.html, s)
			}
			return nil
		}
	}

	out.attachments = append(out.attachments, mail.Attachment{
		Filename:    r.filename(hb, dparams),
		ContentType: hb.ContentType(),
		Data:        data,
	})
	return nil
}

// decodeText decodes a text body with the block's charsets, falling back to
// detection when enabled. Undecodable and empty bodies are dropped.
func (r *run) decodeText(data []byte, hb *HeaderBlock) (string, bool) {
	s, _, ok := charset.DecodeFirst(data, hb.Charsets)
	if !ok && r.opts.DetectCharset {
		if name, found := charset.Detect(data); found {
			s, _ = charset.DecodeStrict(data, name)
			ok = true
			r.warn(mail.WarnCharset, "%s body decoded with detected charset %s", hb.ContentType(), name)
		}
	}
	if !ok {
		r.warn(mail.WarnCharset, "%s body cannot be decoded with %v", hb.ContentType(), hb.Charsets)
		return "", false
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// filename resolves an attachment name: the disposition's filename in plain
// or extended form, then the Content-Type name, then the subject.
func (r *run) filename(hb *HeaderBlock, dparams map[string]string) string {
	if name, ok := paramValue(dparams, "filename"); ok && name != "" {
		return name
	}
	if name, ok := paramValue(hb.Params, "name"); ok && name != "" {
		return name
	}
	subject := hb.Headers.Get("Subject")
	if subject == "" {
		subject = r.subject
	}
	if subject != "" {
		r.warn(mail.WarnFilename, "%s attachment has no filename, using subject", hb.ContentType())
		return subject
	}
	r.warn(mail.WarnFilename, "%s attachment has no filename", hb.ContentType())
	return untitled
}

// parseDisposition returns the lower-cased disposition type and the
// parameters of a Content-Disposition value.
func parseDisposition(v string) (string, map[string]string) {
	segs := splitParams(v)
	return strings.ToLower(strings.TrimSpace(segs[0])), parseParams(segs[1:])
}

// isAttachment reports whether the disposition type is attachment. Only the
// first token counts, so a missing ';' before the parameters is tolerated.
func isAttachment(disposition string) bool {
	token, _, _ := strings.Cut(disposition, " ")
	token, _, _ = strings.Cut(token, "\t")
	return token == "attachment"
}

func decodeTransfer(body [][]byte, cte string) ([]byte, error) {
	switch cte {
	case "quoted-printable":
		return decodeQP(mail.JoinLines(body)), nil
	case "base64":
		return decodeBase64(body)
	case "binary", "8bit", "7bit":
		return mail.JoinLines(body), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrTransferEncoding, cte)
	}
}

// decodeBase64 ignores bytes outside the base64 alphabet and tolerates
// missing padding. A run of '=' ends a group and decoding resumes after it,
// so bodies built from separately padded chunks decode in full.
func decodeBase64(body [][]byte) ([]byte, error) {
	var buf []byte
	for _, line := range body {
		for _, c := range line {
			if isBase64(c) {
				buf = append(buf, c)
			}
		}
	}
	out := make([]byte, 0, base64.RawStdEncoding.DecodedLen(len(buf)))
	for len(buf) > 0 {
		group := buf
		buf = nil
		if i := bytes.IndexByte(group, '='); i >= 0 {
			j := i
			for j < len(group) && group[j] == '=' {
				j++
			}
			group, buf = group[:i], group[j:]
		}
		dst := make([]byte, base64.RawStdEncoding.DecodedLen(len(group)))
		n, err := base64.RawStdEncoding.Decode(dst, group)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrBodyEncoding, err)
		}
		out = append(out, dst[:n]...)
	}
	return out, nil
}

func isBase64(c byte) bool {
	return 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' ||
		c == '+' || c == '/' || c == '='
}

// decodeQP decodes quoted-printable leniently: soft line breaks are
// removed, trailing whitespace is dropped and malformed escapes are kept.
func decodeQP(b []byte) []byte {
	crlf := []byte("\r\n")
	lines := bytes.Split(b, crlf)
	out := make([]byte, 0, len(b))
	for i, line := range lines {
		line = bytes.TrimRight(line, " \t")
		soft := bytes.HasSuffix(line, []byte("="))
		if soft {
			line = line[:len(line)-1]
		}
		for j := 0; j < len(line); j++ {
			c := line[j]
			if c == '=' && j+2 < len(line) {
				if v, ok := unhex2(line[j+1], line[j+2]); ok {
					out = append(out, v)
					j += 2
					continue
				}
			}
			out = append(out, c)
		}
		if !soft && i < len(lines)-1 {
			out = append(out, crlf...)
		}
	}
	return out
}
