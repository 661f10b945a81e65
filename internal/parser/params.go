package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/charset"
)

// splitParams splits a structured header value on ';' outside double
// quotes. The result always has at least one element.
func splitParams(v string) []string {
	var (
		segs    []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ';' && !quoted:
			segs = append(segs, v[start:i])
			start = i + 1
		}
	}
	return append(segs, v[start:])
}

// parseParams turns "key=value" segments into a map with lower-cased keys.
// Segments without '=' are ignored; later keys win.
func parseParams(segs []string) map[string]string {
	params := make(map[string]string, len(segs))
	for _, seg := range segs {
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(trimParam(k))
		if k == "" {
			continue
		}
		params[k] = trimParam(v)
	}
	return params
}

// trimParam strips folding whitespace and quotes around a parameter, as
// well as literal "\r\n" sequences some clients leave in folded values.
func trimParam(s string) string {
	for {
		t := strings.Trim(s, "\r\n \t\"")
		t = strings.TrimPrefix(t, `\r\n`)
		t = strings.TrimSuffix(t, `\r\n`)
		if t == s {
			return s
		}
		s = t
	}
}

// extValue matches an RFC 2231 extended value: charset'language'text
var extValue = regexp.MustCompile(`^([^']*)'([^']*)'(.*)$`)

// paramValue resolves a parameter that may be given plainly, in RFC 2231
// extended form (name*), or split into continuations (name*0, name*1*, ...).
func paramValue(params map[string]string, name string) (string, bool) {
	if v := params[name]; v != "" {
		return decodeParamWords(v), true
	}
	if v, ok := params[name+"*"]; ok {
		cs, text := splitExtValue(v)
		if s, ok := decodeExtBytes(percentDecode(text), cs); ok {
			return s, true
		}
	}
	return continuedParam(params, name)
}

func continuedParam(params map[string]string, name string) (string, bool) {
	var (
		data  []byte
		cs    string
		found bool
	)
	for i := 0; ; i++ {
		key := name + "*" + strconv.Itoa(i)
		if v, ok := params[key]; ok {
			data = append(data, v...)
			found = true
			continue
		}
		v, ok := params[key+"*"]
		if !ok {
			break
		}
		if i == 0 {
			cs, v = splitExtValue(v)
		}
		data = append(data, percentDecode(v)...)
		found = true
	}
	if !found {
		return "", false
	}
	s, ok := decodeExtBytes(data, cs)
	if !ok {
		return "", false
	}
	return decodeParamWords(s), true
}

func splitExtValue(v string) (cs, text string) {
	if m := extValue.FindStringSubmatch(v); m != nil {
		return m[1], m[3]
	}
	return "", v
}

func decodeExtBytes(b []byte, cs string) (string, bool) {
	if cs == "" {
		cs = charset.Default
	}
	if s, err := charset.DecodeStrict(b, cs); err == nil {
		return s, true
	}
	if s, err := charset.DecodeStrict(b, charset.Default); err == nil {
		return s, true
	}
	return "", false
}

// decodeParamWords decodes RFC 2047 words that some clients put in
// parameter values, against the RFCs.
func decodeParamWords(v string) string {
	if !strings.Contains(v, "=?") {
		return v
	}
	if s, err := decodeWords(v, ""); err == nil {
		return s
	}
	return v
}

// percentDecode decodes %XX escapes. Malformed escapes are kept verbatim.
func percentDecode(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, ok := unhex2(s[i+1], s[i+2]); ok {
				out = append(out, v)
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func unhex2(hi, lo byte) (byte, bool) {
	h, ok1 := unhex(hi)
	l, ok2 := unhex(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}
