package epub

import (
	"errors"
	"fmt"
	"strings"
)

// container.xml structure
type container struct {
	Rootfiles struct {
		Rootfile []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

// ResolveContainer reads META-INF/container.xml and returns the full path
// of the first rootfile, which is the package document.
func ResolveContainer(a *Archive) (string, error) {
	content, err := a.ReadFile(containerEntry)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return "", fmt.Errorf("%w: %s not found", ErrMalformedEpub, containerEntry)
		}
		return "", fmt.Errorf("%w: %w", ErrMalformedEpub, err)
	}

	var c container
	if err := newDecoder(content).Decode(&c); err != nil {
		return "", fmt.Errorf("%w: failed to parse container.xml: %w", ErrMalformedEpub, err)
	}

	if len(c.Rootfiles.Rootfile) == 0 {
		return "", fmt.Errorf("%w: no rootfile element in container.xml", ErrMalformedEpub)
	}
	fullPath := normalizePath(strings.TrimSpace(c.Rootfiles.Rootfile[0].FullPath))
	if fullPath == "" {
		return "", fmt.Errorf("%w: rootfile has no full-path attribute", ErrMalformedEpub)
	}
	return fullPath, nil
}
