package explode

import (
	"fmt"
	"strings"

	"github.com/h2non/filetype"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/threepress/bookworm/internal/epub"
)

const (
	stylesheetMediaType = "text/css"
	svgMediaType        = "image/svg+xml"
)

func isImage(mediaType string) bool {
	return strings.Contains(strings.ToLower(mediaType), "image")
}

func isSVG(mediaType string) bool {
	return strings.Contains(strings.ToLower(mediaType), "svg")
}

// ExtractImages returns every manifest item whose media type mentions
// "image". Entries missing from the archive are skipped and reported
// through the returned error.
func ExtractImages(items []epub.ManifestItem, contentPath string, r EntryReader, log *zap.Logger) ([]ImageAsset, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		images   []ImageAsset
		problems error
	)
	for _, item := range items {
		if !isImage(item.MediaType) {
			continue
		}
		data, err := r.ReadFile(epub.ResolvePath(contentPath, item.Href))
		if err != nil {
			log.Warn("Unable to read image, skipping", zap.String("href", item.Href), zap.Error(err))
			problems = multierr.Append(problems, fmt.Errorf("image %s: %w", item.Href, err))
			continue
		}

		img := ImageAsset{IDRef: item.Href, MediaType: item.MediaType}
		if isSVG(item.MediaType) {
			img.Text = string(data)
		} else {
			img.Data = data
			img.Sniffed = sniffImage(data)
			if img.Sniffed != "" && !strings.EqualFold(img.Sniffed, item.MediaType) {
				log.Warn("Image content does not match declared media type",
					zap.String("href", item.Href),
					zap.String("declared", item.MediaType),
					zap.String("detected", img.Sniffed))
			}
		}
		images = append(images, img)
		log.Debug("Added image", zap.String("href", item.Href), zap.String("media-type", item.MediaType))
	}
	return images, problems
}

// sniffImage returns the media type detected from the leading bytes, or an
// empty string when the content is not a known image format.
func sniffImage(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return ""
	}
	return kind.MIME.Value
}

// ExtractStyles returns every stylesheet of the manifest with its selectors
// scoped under ScopeID. Rules that cannot be parsed are dropped from the
// rewritten text and reported through the returned error together with
// unreadable entries.
func ExtractStyles(items []epub.ManifestItem, contentPath string, r EntryReader, log *zap.Logger) ([]StyleAsset, error) {
	if log == nil {
		log = zap.NewNop()
	}
	scoper := NewScoper(log)

	var (
		styles   []StyleAsset
		problems error
	)
	for _, item := range items {
		if item.MediaType != stylesheetMediaType {
			continue
		}
		data, err := r.ReadFile(epub.ResolvePath(contentPath, item.Href))
		if err != nil {
			log.Warn("Unable to read stylesheet, skipping", zap.String("href", item.Href), zap.Error(err))
			problems = multierr.Append(problems, fmt.Errorf("stylesheet %s: %w", item.Href, err))
			continue
		}

		text, err := scoper.Scope(data, item.Href)
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("stylesheet %s: %w", item.Href, err))
		}
		styles = append(styles, StyleAsset{
			IDRef:     item.Href,
			MediaType: item.MediaType,
			Content:   data,
			Text:      text,
		})
		log.Debug("Added stylesheet", zap.String("href", item.Href))
	}
	return styles, problems
}
