package library

import (
	"time"

	"github.com/threepress/bookworm/internal/epub"
	"github.com/threepress/bookworm/internal/explode"
)

// Book is a stored ePub owned by a single user.
type Book struct {
	Key      string
	Owner    string
	Filename string
	Slug     string
	Metadata epub.Metadata
	Created  time.Time

	ContentPath string
	NavPath     string
	NavXML      []byte

	Cover *explode.Cover // nil when the book has none
}

// Title returns the book title.
func (b *Book) Title() string { return b.Metadata.Title }

// Author returns the authors for display in listings.
func (b *Book) Author() string { return AuthorDisplay(b.Metadata.Authors) }

// Record is everything persisted for a new book.
type Record struct {
	Book     *Book
	Archive  []byte
	Chapters []*explode.Chapter
	Text     []string // plain text of Chapters[i], used by Search
	Styles   []explode.StyleAsset
	Images   []explode.ImageAsset
}

// SearchHit is a chapter whose text matched a search.
type SearchHit struct {
	BookKey string
	Title   string // book title
	IDRef   string
	Chapter string // chapter title
	Order   int
}

// Counters are site wide totals computed by the store.
type Counters struct {
	Books  int
	Owners int
}
