package library

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a book, chapter or asset does not exist.
var ErrNotFound = errors.New("not found")

// Reasons reported to the uploader when an archive is rejected.
const (
	ReasonNotAnArchive = "was not recognized as an ePub archive"
	ReasonNotAnEpub    = "seems to be a valid zip file but did not appear to be an ePub archive"
)

// RejectError reports an upload that could not be turned into a book.
type RejectError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *RejectError) Error() string {
	name := e.Filename
	if name == "" {
		name = "the uploaded file"
	}
	return fmt.Sprintf("%s %s: %v", name, e.Reason, e.Err)
}

// Message is the short text shown to the uploader.
func (e *RejectError) Message() string {
	name := e.Filename
	if name == "" {
		name = "The uploaded file"
	}
	return name + " " + e.Reason + "."
}

func (e *RejectError) Unwrap() error { return e.Err }
