package epub

import "testing"

func newPackage(items ...ManifestItem) *Package {
	p := &Package{Manifest: make(map[string]ManifestItem, len(items))}
	for _, item := range items {
		p.Manifest[item.ID] = item
		p.ManifestOrder = append(p.ManifestOrder, item.ID)
	}
	return p
}

func TestDetectCover(t *testing.T) {
	chapter := ManifestItem{ID: "ch1", Href: "text/ch1.xhtml", MediaType: "application/xhtml+xml"}
	propsImg := ManifestItem{ID: "props", Href: "images/a.jpg", MediaType: "image/jpeg", Properties: []string{"cover-image"}}
	metaImg := ManifestItem{ID: "meta", Href: "images/b.png", MediaType: "image/png"}
	guideImg := ManifestItem{ID: "guide", Href: "images/c.gif", MediaType: "image/gif"}
	nameImg := ManifestItem{ID: "named", Href: "images/Cover-large.jpeg", MediaType: "image/jpeg"}
	svgCover := ManifestItem{ID: "svg", Href: "images/cover.svg", MediaType: "image/svg+xml"}
	coverPage := ManifestItem{ID: "cover-page", Href: "text/cover.xhtml", MediaType: "application/xhtml+xml"}

	tests := []struct {
		name       string
		pkg        func() *Package
		wantID     string
		wantMethod string
	}{
		{
			name:       "properties",
			pkg:        func() *Package { return newPackage(chapter, propsImg) },
			wantID:     "props",
			wantMethod: "properties",
		},
		{
			name: "meta",
			pkg: func() *Package {
				p := newPackage(chapter, metaImg)
				p.Metadata.CoverID = "meta"
				return p
			},
			wantID:     "meta",
			wantMethod: "meta",
		},
		{
			name: "guide with fragment",
			pkg: func() *Package {
				p := newPackage(chapter, guideImg)
				p.Guide = []GuideReference{{Type: "cover", Href: "images/c.gif#x"}}
				return p
			},
			wantID:     "guide",
			wantMethod: "guide",
		},
		{
			name: "guide to xhtml falls through to filename",
			pkg: func() *Package {
				p := newPackage(coverPage, nameImg)
				p.Guide = []GuideReference{{Type: "cover", Href: "text/cover.xhtml"}}
				return p
			},
			wantID:     "named",
			wantMethod: "filename",
		},
		{
			name:   "svg is never picked by filename",
			pkg:    func() *Package { return newPackage(chapter, svgCover) },
			wantID: "",
		},
		{
			name: "meta pointing at missing item",
			pkg: func() *Package {
				p := newPackage(chapter)
				p.Metadata.CoverID = "nope"
				return p
			},
			wantID: "",
		},
		{
			name: "properties beat meta",
			pkg: func() *Package {
				p := newPackage(metaImg, propsImg)
				p.Metadata.CoverID = "meta"
				return p
			},
			wantID:     "props",
			wantMethod: "properties",
		},
		{
			name: "meta beats guide",
			pkg: func() *Package {
				p := newPackage(guideImg, metaImg)
				p.Metadata.CoverID = "meta"
				p.Guide = []GuideReference{{Type: "cover", Href: "images/c.gif"}}
				return p
			},
			wantID:     "meta",
			wantMethod: "meta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.pkg().DetectCover()
			if tt.wantID == "" {
				if info != nil {
					t.Errorf("DetectCover() = %+v, want nil", info)
				}
				return
			}
			if info == nil {
				t.Fatal("DetectCover() returned nil, want CoverInfo")
			}
			if info.ManifestID != tt.wantID {
				t.Errorf("ManifestID = %q, want %q", info.ManifestID, tt.wantID)
			}
			if info.DetectionMethod != tt.wantMethod {
				t.Errorf("DetectionMethod = %q, want %q", info.DetectionMethod, tt.wantMethod)
			}
		})
	}
}
