package epub

import "errors"

// Ingestion error taxonomy. Archive and package level errors abort an
// explode call; the rest are isolated to a single item.
var (
	// ErrNotAnArchive indicates the input bytes are not a zip container.
	ErrNotAnArchive = errors.New("not a zip archive")

	// ErrMalformedEpub indicates a valid zip that is missing the container
	// entry, the package document, the title or the navigation reference.
	ErrMalformedEpub = errors.New("malformed ePub")

	// ErrEntryNotFound indicates a referenced path does not exist inside the archive.
	ErrEntryNotFound = errors.New("entry not found in archive")

	// ErrMarkupNotWellFormed indicates chapter markup that could not be parsed
	// even with HTML named entities allowed.
	ErrMarkupNotWellFormed = errors.New("markup is not well-formed")

	// ErrStyleRuleMalformed indicates a single CSS rule that failed to parse.
	ErrStyleRuleMalformed = errors.New("malformed style rule")

	ErrInvalidMimetype    = errors.New("invalid mimetype: must be 'application/epub+zip'")
	ErrMimetypeCompressed = errors.New("mimetype must not be compressed")
	ErrMimetypeNotFound   = errors.New("mimetype file not found")
)
