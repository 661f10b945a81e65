package parser

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/charset"
)

// encodedWord matches an RFC 2047 encoded-word: =?charset?B|Q?text?=
var encodedWord = regexp.MustCompile(`=\?([^?\s]+)\?([bBqQ])\?([^?]*)\?=`)

// decodeHeaderValue turns raw header bytes into text. Each candidate is
// tried as the charset of the raw bytes, honouring the charsets declared by
// encoded-words; when a declared charset does not fit, the candidate is
// also forced onto the encoded-words since mislabelled words are common.
func decodeHeaderValue(raw []byte, candidates []string) (string, bool) {
	for _, cs := range candidates {
		plain, err := charset.DecodeStrict(raw, cs)
		if err != nil {
			continue
		}
		if s, err := decodeWords(plain, ""); err == nil {
			return s, true
		}
		if s, err := decodeWords(plain, cs); err == nil {
			return s, true
		}
	}
	return "", false
}

// decodeWords replaces the encoded-words in s by their text. Whitespace
// between adjacent words is dropped, and adjacent words sharing a charset
// are joined before decoding so multi-byte characters may span them. A
// non-empty force replaces every declared charset.
func decodeWords(s, force string) (string, error) {
	matches := encodedWord.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s, nil
	}

	var (
		b       strings.Builder
		pending []byte
		pendCS  string
		active  bool
	)
	flush := func() error {
		if !active {
			return nil
		}
		text, err := charset.DecodeStrict(pending, pendCS)
		if err != nil {
			return err
		}
		b.WriteString(text)
		pending, pendCS, active = nil, "", false
		return nil
	}

	last := 0
	for _, m := range matches {
		between := s[last:m[0]]
		if !active || strings.TrimSpace(between) != "" {
			if err := flush(); err != nil {
				return "", err
			}
			b.WriteString(between)
		}

		cs := s[m[2]:m[3]]
		// RFC 2231 allows a language suffix: =?utf-8*en?Q?...?=
		if i := strings.IndexByte(cs, '*'); i >= 0 {
			cs = cs[:i]
		}
		if force != "" {
			cs = force
		}
		data, err := decodeWordText(s[m[4]:m[5]], s[m[6]:m[7]])
		if err != nil {
			return "", err
		}

		if active && charset.Normalize(cs) != charset.Normalize(pendCS) {
			if err := flush(); err != nil {
				return "", err
			}
		}
		pending = append(pending, data...)
		pendCS, active = cs, true
		last = m[1]
	}
	if err := flush(); err != nil {
		return "", err
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func decodeWordText(enc, text string) ([]byte, error) {
	switch enc {
	case "b", "B":
		if data, err := base64.StdEncoding.DecodeString(text); err == nil {
			return data, nil
		}
		data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "="))
		if err != nil {
			return nil, fmt.Errorf("encoded-word: %w", err)
		}
		return data, nil
	default:
		return decodeQ(text), nil
	}
}

// decodeQ decodes the Q encoding: quoted-printable with '_' for space.
func decodeQ(text string) []byte {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '_':
			out = append(out, ' ')
		case c == '=' && i+2 < len(text):
			if v, ok := unhex2(text[i+1], text[i+2]); ok {
				out = append(out, v)
				i += 2
				continue
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}
