package epub

import (
	"path"
	"strings"
)

// CoverInfo describes the manifest item used as the cover image.
type CoverInfo struct {
	ManifestID      string
	Href            string // relative to the content path
	MediaType       string
	DetectionMethod string // "properties", "meta", "guide", "filename"
}

// DetectCover finds the cover image, trying in order: the EPUB 3
// cover-image property, the EPUB 2 cover meta, a guide reference of type
// "cover" pointing at an image, and finally a raster image whose file name
// contains "cover". Returns nil when nothing qualifies.
func (p *Package) DetectCover() *CoverInfo {
	strategies := []struct {
		method string
		find   func() (ManifestItem, bool)
	}{
		{"properties", p.coverByProperty},
		{"meta", p.coverByMeta},
		{"guide", p.coverByGuide},
		{"filename", p.coverByFilename},
	}
	for _, s := range strategies {
		if item, ok := s.find(); ok {
			return &CoverInfo{
				ManifestID:      item.ID,
				Href:            item.Href,
				MediaType:       item.MediaType,
				DetectionMethod: s.method,
			}
		}
	}
	return nil
}

func (p *Package) coverByProperty() (ManifestItem, bool) {
	for _, item := range p.Items() {
		for _, prop := range item.Properties {
			if prop == "cover-image" {
				return item, true
			}
		}
	}
	return ManifestItem{}, false
}

func (p *Package) coverByMeta() (ManifestItem, bool) {
	if p.Metadata.CoverID == "" {
		return ManifestItem{}, false
	}
	item, ok := p.Manifest[p.Metadata.CoverID]
	return item, ok
}

// coverByGuide matches guide references of type "cover" against image
// items; a guide pointing at an XHTML cover page does not qualify.
func (p *Package) coverByGuide() (ManifestItem, bool) {
	for _, ref := range p.Guide {
		if ref.Type != "cover" {
			continue
		}
		href, _ := SplitFragment(ref.Href)
		for _, item := range p.Items() {
			if isRasterMediaType(item.MediaType) && item.Href == href {
				return item, true
			}
		}
	}
	return ManifestItem{}, false
}

func (p *Package) coverByFilename() (ManifestItem, bool) {
	for _, item := range p.Items() {
		if !isRasterMediaType(item.MediaType) {
			continue
		}
		if strings.Contains(strings.ToLower(path.Base(item.Href)), "cover") {
			return item, true
		}
	}
	return ManifestItem{}, false
}

// isRasterMediaType reports whether a media type is an image other than SVG.
func isRasterMediaType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}
