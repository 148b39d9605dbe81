package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const (
	mimetypeEntry  = "mimetype"
	epubMimetype   = "application/epub+zip"
	containerEntry = "META-INF/container.xml"
)

// Archive is a read-only view over the named entries of a zip container.
// Entries are read lazily from the caller's buffer, which must not be
// modified while the Archive is in use. Every read returns a fresh copy.
type Archive struct {
	files map[string]*zip.File
	names []string
}

// OpenArchive opens a zip-format byte buffer.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAnArchive, err)
	}

	a := &Archive{
		files: make(map[string]*zip.File, len(zr.File)),
		names: make([]string, 0, len(zr.File)),
	}

	// Build file map with normalized paths
	for _, f := range zr.File {
		name := normalizePath(f.Name)
		if _, dup := a.files[name]; dup {
			continue
		}
		a.files[name] = f
		a.names = append(a.names, name)
	}
	return a, nil
}

// Names returns entry names in archive order.
func (a *Archive) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// ReadFile reads the contents of an entry. Content is returned byte for
// byte, no newline translation happens.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f := a.lookup(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return data, nil
}

// CheckMimetype checks that the mimetype entry exists, is stored
// uncompressed and names the ePub media type.
func (a *Archive) CheckMimetype() error {
	f, ok := a.files[mimetypeEntry]
	if !ok {
		return ErrMimetypeNotFound
	}
	if f.Method != zip.Store {
		return ErrMimetypeCompressed
	}

	content, err := a.ReadFile(mimetypeEntry)
	if err != nil {
		return fmt.Errorf("failed to read mimetype: %w", err)
	}
	if strings.TrimSpace(string(content)) != epubMimetype {
		return ErrInvalidMimetype
	}
	return nil
}

// lookup finds an entry by exact name, falling back to the percent-decoded
// form since manifest hrefs are URLs while zip names are not.
func (a *Archive) lookup(name string) *zip.File {
	name = normalizePath(name)
	if f, ok := a.files[name]; ok {
		return f
	}
	if decoded, err := url.PathUnescape(name); err == nil && decoded != name {
		return a.files[decoded]
	}
	return nil
}

// normalizePath normalizes file paths (removes ./ prefix)
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "./")
	return path
}
