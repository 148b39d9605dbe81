package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// opfPackage represents the OPF XML structure
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
	Guide    opfGuide    `xml:"guide"`
}

// opfMetadata represents the metadata section
type opfMetadata struct {
	Title       []string        `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator     []opfCreator    `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Language    []string        `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifier  []opfIdentifier `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publisher   []string        `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Date        []string        `xml:"http://purl.org/dc/elements/1.1/ date"`
	Description []string        `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subject     []string        `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Rights      []string        `xml:"http://purl.org/dc/elements/1.1/ rights"`
	Meta        []opfMeta       `xml:"meta"`
}

// opfCreator represents a creator element
type opfCreator struct {
	Name string `xml:",chardata"`
	Role string `xml:"http://www.idpf.org/2007/opf role,attr"`
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	ID   string `xml:"id,attr"`
}

// opfIdentifier represents an identifier element
type opfIdentifier struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

// opfMeta represents a meta element (EPUB 2.0 and 3.0)
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"` // EPUB 2.0: attribute value
	Value    string `xml:",chardata"`    // EPUB 3.0: element text content
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string       `xml:"toc,attr"`
	ItemRefs []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

type opfGuide struct {
	References []opfReference `xml:"reference"`
}

type opfReference struct {
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
	Href  string `xml:"href,attr"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// newDecoder returns a strict XML decoder that also understands HTML named
// entities and non UTF-8 encodings declared in the prolog.
func newDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel
	return d
}

// ContentPath returns everything before the last slash of the package
// document path, or an empty string when it sits at the archive root.
func ContentPath(packagePath string) string {
	if idx := strings.LastIndex(packagePath, "/"); idx >= 0 {
		return packagePath[:idx]
	}
	return ""
}

// ResolvePath joins an href to a directory inside the archive. The href
// fragment, if any, is kept.
func ResolvePath(dir, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if dir == "" {
		return path.Clean(href)
	}
	return path.Clean(dir + "/" + href)
}

// ParsePackage parses the package document found at packagePath.
func ParsePackage(content []byte, packagePath string, log *zap.Logger) (*Package, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var pkg opfPackage
	if err := newDecoder(content).Decode(&pkg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse package document %s: %w", ErrMalformedEpub, packagePath, err)
	}

	p := &Package{
		Path:        packagePath,
		ContentPath: ContentPath(packagePath),
		Manifest:    make(map[string]ManifestItem, len(pkg.Manifest.Items)),
	}

	md, err := parseMetadata(&pkg.Metadata, pkg.UniqueID)
	if err != nil {
		return nil, err
	}
	p.Metadata = md
	if len(md.Authors) == 0 {
		log.Warn("Package document has no authors", zap.String("path", packagePath), zap.String("title", md.Title))
	} else {
		log.Debug("Parsed authors", zap.Strings("authors", md.Authors))
	}

	for _, item := range pkg.Manifest.Items {
		if _, dup := p.Manifest[item.ID]; dup {
			log.Warn("Duplicate manifest id, keeping first", zap.String("id", item.ID))
			continue
		}
		manifestItem := ManifestItem{
			ID:        item.ID,
			Href:      strings.TrimSpace(item.Href),
			MediaType: strings.TrimSpace(item.MediaType),
		}

		// Parse properties (space-separated)
		if item.Properties != "" {
			manifestItem.Properties = strings.Fields(item.Properties)
		}

		p.Manifest[item.ID] = manifestItem
		p.ManifestOrder = append(p.ManifestOrder, item.ID)
	}

	for _, itemRef := range pkg.Spine.ItemRefs {
		p.Spine = append(p.Spine, SpineItem{
			IDRef:  itemRef.IDRef,
			Linear: itemRef.Linear != "no",
		})
	}

	for _, ref := range pkg.Guide.References {
		p.Guide = append(p.Guide, GuideReference{
			Type:  ref.Type,
			Title: ref.Title,
			Href:  strings.TrimSpace(ref.Href),
		})
	}

	// The spine toc attribute names the navigation document
	p.NavID = strings.TrimSpace(pkg.Spine.Toc)
	navItem, ok := p.Manifest[p.NavID]
	if p.NavID == "" || !ok || navItem.Href == "" {
		return nil, fmt.Errorf("%w: navigation document %q not found in manifest", ErrMalformedEpub, p.NavID)
	}
	p.NavPath = p.Resolve(navItem.Href)

	log.Debug("Parsed package document",
		zap.String("path", packagePath),
		zap.String("title", md.Title),
		zap.Int("manifest", len(p.Manifest)),
		zap.Int("spine", len(p.Spine)),
		zap.String("nav", p.NavPath))
	return p, nil
}

// parseMetadata parses the metadata section
func parseMetadata(meta *opfMetadata, uniqueID string) (Metadata, error) {
	md := Metadata{
		Authors:  []string{},
		Creators: []Creator{},
		Subjects: []string{},
	}

	// Title (use first one)
	if len(meta.Title) > 0 {
		md.Title = strings.TrimSpace(meta.Title[0])
	}
	if md.Title == "" {
		return md, fmt.Errorf("%w: package document has no title", ErrMalformedEpub)
	}

	md.Language = first(meta.Language)
	md.Publisher = first(meta.Publisher)
	md.Date = first(meta.Date)
	md.Description = first(meta.Description)
	md.Rights = first(meta.Rights)

	for _, s := range meta.Subject {
		if s = strings.TrimSpace(s); s != "" {
			md.Subjects = append(md.Subjects, s)
		}
	}

	// Identifier (find the one marked as unique-identifier)
	for _, id := range meta.Identifier {
		if id.ID == uniqueID {
			md.Identifier = strings.TrimSpace(id.Value)
			break
		}
	}
	// If not found, use first one
	if md.Identifier == "" && len(meta.Identifier) > 0 {
		md.Identifier = strings.TrimSpace(meta.Identifier[0].Value)
	}

	for _, creator := range meta.Creator {
		name := strings.TrimSpace(creator.Name)
		md.Authors = append(md.Authors, name)
		md.Creators = append(md.Creators, Creator{
			Name: name,
			Role: creator.Role,
			Lang: creator.Lang,
		})
	}
	processCreatorRoles(&md, meta)

	// EPUB 2.0 cover meta element
	for _, m := range meta.Meta {
		if m.Name == "cover" && m.Content != "" {
			md.CoverID = m.Content
			break
		}
	}

	return md, nil
}

// processCreatorRoles applies EPUB 3.0 meta refinements to creator roles
func processCreatorRoles(md *Metadata, meta *opfMetadata) {
	creatorMap := make(map[string]int)
	for i, origCreator := range meta.Creator {
		if origCreator.ID != "" {
			creatorMap["#"+origCreator.ID] = i
		}
	}

	for _, m := range meta.Meta {
		if m.Property != "role" || m.Refines == "" {
			continue
		}
		idx, ok := creatorMap[m.Refines]
		if !ok {
			continue
		}
		// EPUB 3.0 uses chardata (Value), EPUB 2.0 uses content attribute (Content)
		if v := strings.TrimSpace(m.Value); v != "" {
			md.Creators[idx].Role = v
		} else {
			md.Creators[idx].Role = m.Content
		}
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
