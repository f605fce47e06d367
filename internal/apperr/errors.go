// Package apperr defines the error taxonomy shared across the store.
//
// Sentinel errors are matched with errors.Is; callers wrap them with
// fmt.Errorf("%w") to attach the reference ID and operation. Transport
// and extraction failures carry structured detail and unwrap to their
// sentinels so both errors.Is and errors.As work.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown reference ID or missing remote path.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a stale revision marker on a mutating call.
	ErrConflict = errors.New("revision conflict")
	// ErrCollision reports a target ID already taken on create or rename.
	ErrCollision = errors.New("id collision")
	// ErrValidation reports malformed or incomplete metadata.
	ErrValidation = errors.New("invalid metadata")
	// ErrStoreBusy reports an exhausted retry budget against concurrent writers.
	ErrStoreBusy = errors.New("store busy")
	// ErrTransport reports a network or auth failure from the remote tree.
	ErrTransport = errors.New("transport failure")
	// ErrExtraction reports a failed metadata lookup or parse.
	ErrExtraction = errors.New("extraction failure")
)

// TransportError is a network-level failure talking to the remote tree.
// StatusCode is zero when the request never produced a response.
type TransportError struct {
	Op         string
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Transient reports whether retrying the same request is safe and
// plausibly useful: no response at all, rate limiting, or a 5xx.
func (e *TransportError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ExtractionError is a per-item failure from the metadata extractor.
type ExtractionError struct {
	Source string // "doi" or "pdf"
	Input  string // DOI or file name
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract from %s %q: %v", e.Source, e.Input, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExtraction) match any ExtractionError.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }
