package parser

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every error that aborts a decode.
var ErrParse = errors.New("mail parse error")

var (
	ErrInvalidHeader    = fmt.Errorf("%w: invalid header", ErrParse)
	ErrNoHeaderEnd      = fmt.Errorf("%w: header block not terminated by a blank line", ErrParse)
	ErrMissingBoundary  = fmt.Errorf("%w: cannot locate boundary", ErrParse)
	ErrBoundaryNotFound = fmt.Errorf("%w: boundary not found in body", ErrParse)
	ErrTransferEncoding = fmt.Errorf("%w: invalid transfer-encoding", ErrParse)
	ErrBodyEncoding     = fmt.Errorf("%w: body does not match its transfer-encoding", ErrParse)
	ErrMonth            = fmt.Errorf("%w: unknown month name", ErrParse)
	ErrTooDeep          = fmt.Errorf("%w: multipart nesting too deep", ErrParse)
)

// ErrDateFormat is returned by ParseDate for text in neither accepted
// layout. While decoding it only produces a warning.
var ErrDateFormat = errors.New("unrecognized date format")
