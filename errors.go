package pe

import "github.com/pkg/errors"

var (
	// ErrInvalidFormat is returned when the DOS/PE structure is malformed,
	// e.g. e_lfanew pointing inside the DOS header.
	ErrInvalidFormat = errors.New("invalid PE format")
	// ErrInvalidSignature is returned when the NT signature is not "PE\0\0".
	ErrInvalidSignature = errors.New("not a valid PE signature")
	// ErrUnsupportedFormat is returned for ROM optional headers and for
	// relocation types of machines without a modeled table.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrTruncatedData is returned when a buffer is shorter than the record
	// being decoded or encoded.
	ErrTruncatedData = errors.New("truncated data")
	// ErrSectionNotFound is returned when a section lookup by name fails.
	ErrSectionNotFound = errors.New("section not found")
	// ErrAmbiguousOptionalHeader is returned when the optional header magic
	// is not one of PE32, PE32+ or ROM, so alignments cannot be determined.
	ErrAmbiguousOptionalHeader = errors.New("ambiguous optional header magic")
)
