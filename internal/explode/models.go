package explode

import (
	"github.com/threepress/bookworm/internal/epub"
)

// ScopeID is the id of the element wrapping sanitized chapter markup.
// Every stylesheet selector is scoped under it.
const ScopeID = "bw-book-content"

// Document is everything exploded out of a single ePub archive. It holds no
// reference to the archive it came from.
type Document struct {
	Metadata    epub.Metadata
	PackagePath string
	ContentPath string
	NavPath     string
	PackageXML  []byte
	NavXML      []byte
	Nav         *epub.NavTree
	// Entries names every archive entry in archive order.
	Entries []string

	Chapters []*Chapter
	Styles   []StyleAsset
	Images   []ImageAsset
	Cover    *Cover

	// Problems lists item-level faults that were skipped (missing entries,
	// bad stylesheet rules, unreadable cover). Nil when the archive was
	// exploded without any.
	Problems error
}

// RenderState tracks sanitization of a chapter.
type RenderState int

const (
	Unprocessed RenderState = iota
	Cleaning
	Cached
	FallbackRaw
)

func (s RenderState) String() string {
	switch s {
	case Unprocessed:
		return "unprocessed"
	case Cleaning:
		return "cleaning"
	case Cached:
		return "cached"
	case FallbackRaw:
		return "fallback-raw"
	default:
		return "unknown"
	}
}

// Chapter is a spine document bound to a navigation entry.
type Chapter struct {
	IDRef   string // manifest href without fragment, unique within a document
	Title   string
	Content []byte
	Order   int // position among bound chapters, starting at 0

	State    RenderState
	Rendered []byte
}

// StyleAsset is a stylesheet from the manifest. Text holds the scoped
// rewrite of Content.
type StyleAsset struct {
	IDRef     string
	MediaType string
	Content   []byte
	Text      string
}

// ImageAsset is an image from the manifest. SVG images are kept as markup
// in Text, everything else as raw bytes in Data.
type ImageAsset struct {
	IDRef     string
	MediaType string
	Data      []byte
	Text      string
	Sniffed   string // media type detected from magic bytes, empty if unknown
}

// IsSVG reports whether the image is kept as markup.
func (a ImageAsset) IsSVG() bool {
	return isSVG(a.MediaType)
}

// Cover is the detected cover image together with its thumbnail.
type Cover struct {
	Href            string
	MediaType       string
	DetectionMethod string
	Width, Height   int    // original dimensions
	Thumbnail       []byte // JPEG
}
