package explode

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	defaultThumbnailWidth   = 150
	defaultThumbnailHeight  = 225
	defaultThumbnailQuality = 80
	maxCoverPixels          = 100 * 1000 * 1000
)

// ThumbnailOptions controls the cover thumbnail. Zero values select
// defaults; a negative width disables thumbnails.
type ThumbnailOptions struct {
	Width   int `yaml:"width" env:"WIDTH"`
	Height  int `yaml:"height" env:"HEIGHT"`
	Quality int `yaml:"quality" env:"QUALITY"`
}

func (o ThumbnailOptions) withDefaults() ThumbnailOptions {
	if o.Width == 0 {
		o.Width = defaultThumbnailWidth
	}
	if o.Height <= 0 {
		o.Height = defaultThumbnailHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = defaultThumbnailQuality
	}
	return o
}

// Thumbnail decodes a raster image and returns a JPEG fitting inside the
// configured box, together with the original dimensions. Images smaller
// than the box are re-encoded without upscaling.
func Thumbnail(data []byte, opts ThumbnailOptions) ([]byte, int, int, error) {
	opts = opts.withDefaults()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("unable to decode cover image: %w", err)
	}
	if pixels := uint64(cfg.Width) * uint64(cfg.Height); pixels > maxCoverPixels {
		return nil, cfg.Width, cfg.Height, fmt.Errorf("cover image too large to decode: %dx%d", cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, cfg.Width, cfg.Height, fmt.Errorf("unable to decode cover image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > opts.Width || b.Dy() > opts.Height {
		img = imaging.Fit(img, opts.Width, opts.Height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, cfg.Width, cfg.Height, fmt.Errorf("unable to encode thumbnail: %w", err)
	}
	return buf.Bytes(), cfg.Width, cfg.Height, nil
}
