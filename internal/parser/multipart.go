package parser

import (
	"bytes"
	"fmt"
)

// splitParts returns the line ranges between boundary delimiters. A line
// that is exactly a delimiter ("--b" or "--b--", ignoring trailing
// whitespace) is preferred; when no line matches exactly, any line
// containing "--b" is taken as a delimiter. Lines after a last delimiter
// that is not the closing one form a final part unless they are all blank.
func splitParts(body [][]byte, boundary string) ([][][]byte, error) {
	if !isASCII([]byte(boundary)) {
		return nil, fmt.Errorf("%w: non-ascii boundary %q", ErrMissingBoundary, boundary)
	}
	delim := []byte("--" + boundary)
	closing := []byte("--" + boundary + "--")

	idx := delimiterLines(body, func(line []byte) bool {
		line = bytes.TrimRight(line, " \t")
		return bytes.Equal(line, delim) || bytes.Equal(line, closing)
	})
	if len(idx) == 0 {
		idx = delimiterLines(body, func(line []byte) bool {
			return bytes.Contains(line, delim)
		})
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrBoundaryNotFound, boundary)
	}

	parts := make([][][]byte, 0, len(idx))
	for k := 0; k+1 < len(idx); k++ {
		parts = append(parts, body[idx[k]+1:idx[k+1]])
	}
	last := idx[len(idx)-1]
	if !bytes.Contains(body[last], closing) {
		if rest := body[last+1:]; !allBlank(rest) {
			parts = append(parts, rest)
		}
	}
	return parts, nil
}

func delimiterLines(body [][]byte, match func([]byte) bool) []int {
	var idx []int
	for i, line := range body {
		if match(line) {
			idx = append(idx, i)
		}
	}
	return idx
}

func allBlank(lines [][]byte) bool {
	for _, l := range lines {
		if !isBlank(l) {
			return false
		}
	}
	return true
}
