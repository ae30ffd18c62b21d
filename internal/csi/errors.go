package csi

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when filtering or decoding leaves no records to process
var ErrEmptyBatch = errors.New("csi: empty batch")

// ParseError reports a record whose CSI field is not a well-formed even-length
// integer sequence. Index is the record's position in the input batch, or -1
// when the record was decoded on its own.
type ParseError struct {
	Index    int
	Position int // token position within the record, -1 when not token specific
	Token    string
	Err      error
}

func (e *ParseError) Error() string {
	prefix := "csi: parse"
	if e.Index >= 0 {
		prefix = fmt.Sprintf("csi: record %d", e.Index)
	}
	if e.Position >= 0 {
		return fmt.Sprintf("%s: token %d (%q): %v", prefix, e.Position, e.Token, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errEmptySequence = errors.New("empty sample sequence")
	errOddLength     = errors.New("odd sample count")
)

// UnsupportedFormatError marks a width group processed without null removal
type UnsupportedFormatError struct {
	Width   int
	Records int
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("csi: unsupported raw width %d (%d records), null subcarriers not removed", e.Width, e.Records)
}
