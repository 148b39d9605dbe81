package epub

// Package represents the parsed package document (historically the OPF file)
type Package struct {
	Path          string // package document path inside the archive
	ContentPath   string // directory of Path, empty at archive root
	Metadata      Metadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // manifest ids in document order
	Spine         []SpineItem
	Guide         []GuideReference
	NavID         string // manifest id named by spine/@toc
	NavPath       string // archive path of the navigation document
}

// Metadata represents the metadata section of the package document
type Metadata struct {
	Title       string
	Authors     []string // dc:creator text in document order, never nil
	Creators    []Creator
	Language    string
	Identifier  string
	Publisher   string
	Date        string
	Description string
	Subjects    []string
	Rights      string
	CoverID     string // cover image manifest item ID (from meta name="cover")
}

// Creator represents a creator (author, editor, etc.) of the book
type Creator struct {
	Name string
	Role string // e.g., "aut" for author, "edt" for editor
	Lang string // xml:lang attribute
}

// ManifestItem represents an item in the manifest. Href is relative to the
// package content path, exactly as written in the package document.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// SpineItem represents an item reference in the spine
type SpineItem struct {
	IDRef  string
	Linear bool
}

// GuideReference represents a reference element in the guide section
type GuideReference struct {
	Type  string
	Title string
	Href  string
}

// Items returns manifest items in document order.
func (p *Package) Items() []ManifestItem {
	items := make([]ManifestItem, 0, len(p.ManifestOrder))
	for _, id := range p.ManifestOrder {
		items = append(items, p.Manifest[id])
	}
	return items
}

// Resolve returns the archive path of a manifest href.
func (p *Package) Resolve(href string) string {
	return ResolvePath(p.ContentPath, href)
}
