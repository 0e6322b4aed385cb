package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid marks a request rejected by validation.
var ErrInvalid = errors.New("invalid")

// ErrBusy is returned when the ingestion queue cannot accept more work.
var ErrBusy = errors.New("ingestion queue full")

// UnsupportedFormatError is fatal before ingestion starts: the uploaded
// file's extension maps to no processing strategy.
type UnsupportedFormatError struct {
	Filename string
	Ext      string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q (%s)", e.Ext, e.Filename)
}

// ExtractionError scopes a failure to one page or element. The caller
// logs it and continues with the sibling units.
type ExtractionError struct {
	Page    int
	Element string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Element != "" {
		return fmt.Sprintf("extraction failed on page %d, element %s: %v", e.Page, e.Element, e.Err)
	}
	return fmt.Sprintf("extraction failed on page %d: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IndexBatchError records the failure of one embedding/upsert batch.
type IndexBatchError struct {
	Batch int
	Err   error
}

func (e *IndexBatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Batch, e.Err)
}

func (e *IndexBatchError) Unwrap() error { return e.Err }

// IndexError aggregates per-batch failures after every batch has been
// attempted. Batches that succeeded stay committed. A failed flush is
// reported separately in FlushErr, never as a batch.
type IndexError struct {
	Failed   int
	Total    int
	Batches  []*IndexBatchError
	FlushErr error
}

func (e *IndexError) Error() string {
	msg := fmt.Sprintf("vector indexing incomplete: %d/%d batches failed", e.Failed, e.Total)
	if e.FlushErr != nil {
		msg += fmt.Sprintf("; flush failed: %v", e.FlushErr)
	}
	return msg
}

// UnknownModeError rejects a search mode outside the closed enum.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown search mode %q", e.Mode)
}

// SearchMode is the closed set of retrieval modes.
type SearchMode string

const (
	ModeVector  SearchMode = "vector"
	ModeKeyword SearchMode = "keyword"
	ModeHybrid  SearchMode = "hybrid"
)

// ParseSearchMode validates a mode tag coming from config or a request.
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(s) {
	case ModeVector, ModeKeyword, ModeHybrid:
		return SearchMode(s), nil
	default:
		return "", &UnknownModeError{Mode: s}
	}
}

// Element type variants.
const (
	ElementImage   = "image"
	ElementTable   = "table"
	ElementChart   = "chart"
	ElementFormula = "formula"
	ElementDiagram = "diagram"
)
