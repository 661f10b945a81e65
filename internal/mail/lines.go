package mail

import "bytes"

var crlf = []byte("\r\n")

// SplitLines splits a raw message into lines, dropping the CRLF or LF
// terminators. A trailing terminator does not produce an empty last line.
func SplitLines(raw []byte) [][]byte {
	if len(raw) == 0 {
		return nil
	}
	lines := bytes.Split(raw, []byte("\n"))
	if len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = bytes.TrimSuffix(l, []byte("\r"))
	}
	return lines
}

// JoinLines joins lines with CRLF, without a trailing terminator.
func JoinLines(lines [][]byte) []byte {
	return bytes.Join(lines, crlf)
}

// Bytes returns the original message as CRLF-terminated lines, the form
// used on the wire and in eml files.
func (m *ParsedMail) Bytes() []byte {
	if len(m.Raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, l := range m.Raw {
		buf.Write(l)
		buf.Write(crlf)
	}
	return buf.Bytes()
}
