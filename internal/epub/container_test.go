package epub

import (
	"errors"
	"testing"

	"github.com/threepress/bookworm/internal/epubtest"
)

func TestResolveContainer(t *testing.T) {
	tests := []struct {
		name    string
		entries []epubtest.Entry
		want    string
		wantErr bool
	}{
		{
			name:    "namespaced container",
			entries: []epubtest.Entry{epubtest.Container("OEBPS/content.opf")},
			want:    "OEBPS/content.opf",
		},
		{
			name:    "package at archive root",
			entries: []epubtest.Entry{epubtest.Container("content.opf")},
			want:    "content.opf",
		},
		{
			name: "first rootfile wins",
			entries: []epubtest.Entry{epubtest.Text("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="first/book.opf" media-type="application/oebps-package+xml"/>
    <rootfile full-path="second/book.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)},
			want: "first/book.opf",
		},
		{
			name:    "missing container",
			entries: []epubtest.Entry{epubtest.Mimetype()},
			wantErr: true,
		},
		{
			name: "no rootfile element",
			entries: []epubtest.Entry{epubtest.Text("META-INF/container.xml",
				`<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles/></container>`)},
			wantErr: true,
		},
		{
			name: "no full-path attribute",
			entries: []epubtest.Entry{epubtest.Text("META-INF/container.xml",
				`<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile/></rootfiles></container>`)},
			wantErr: true,
		},
		{
			name:    "not xml",
			entries: []epubtest.Entry{epubtest.Text("META-INF/container.xml", "<container><rootfiles>")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := OpenArchive(epubtest.Zip(t, tt.entries...))
			if err != nil {
				t.Fatalf("OpenArchive() error = %v", err)
			}
			got, err := ResolveContainer(a)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEpub) {
					t.Errorf("ResolveContainer() error = %v, want ErrMalformedEpub", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveContainer() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveContainer() = %q, want %q", got, tt.want)
			}
		})
	}
}
