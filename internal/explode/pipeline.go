// Package explode turns an ePub archive into chapters, stylesheets and
// images ready to be stored and served.
package explode

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/threepress/bookworm/internal/epub"
)

// Options holds options for Explode.
type Options struct {
	Logger    *zap.Logger
	Thumbnail ThumbnailOptions
}

// Explode parses raw archive bytes into a Document. Archive and package
// level failures (wrapping epub.ErrNotAnArchive or epub.ErrMalformedEpub)
// abort and no document is returned. Item level failures are logged,
// collected in Document.Problems and the item is left out.
func Explode(data []byte, opts Options) (*Document, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("explode")

	archive, err := epub.OpenArchive(data)
	if err != nil {
		return nil, err
	}
	if err := archive.CheckMimetype(); err != nil {
		log.Warn("Archive mimetype entry is not valid", zap.Error(err))
	}

	packagePath, err := epub.ResolveContainer(archive)
	if err != nil {
		return nil, err
	}

	packageXML, err := archive.ReadFile(packagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read package document: %w", epub.ErrMalformedEpub, err)
	}
	pkg, err := epub.ParsePackage(packageXML, packagePath, log)
	if err != nil {
		return nil, err
	}

	navXML, err := archive.ReadFile(pkg.NavPath)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read navigation document: %w", epub.ErrMalformedEpub, err)
	}
	nav, err := epub.ParseNCX(navXML)
	if err != nil {
		return nil, err
	}
	log.Debug("Parsed navigation document", zap.String("path", pkg.NavPath), zap.Int("nodes", nav.Len()))

	doc := &Document{
		Metadata:    pkg.Metadata,
		PackagePath: packagePath,
		ContentPath: pkg.ContentPath,
		NavPath:     pkg.NavPath,
		PackageXML:  packageXML,
		NavXML:      navXML,
		Nav:         nav,
		Entries:     archive.Names(),
	}

	items := pkg.Items()

	var problems, perr error
	doc.Images, perr = ExtractImages(items, pkg.ContentPath, archive, log)
	problems = multierr.Append(problems, perr)

	doc.Styles, perr = ExtractStyles(items, pkg.ContentPath, archive, log)
	problems = multierr.Append(problems, perr)

	doc.Chapters, perr = BindChapters(pkg.Spine, pkg.Manifest, nav, pkg.ContentPath, epub.ContentPath(pkg.NavPath), archive, log)
	problems = multierr.Append(problems, perr)

	doc.Cover, perr = detectCover(pkg, archive, opts.Thumbnail, log)
	problems = multierr.Append(problems, perr)

	doc.Problems = problems
	log.Info("Exploded archive",
		zap.String("title", doc.Metadata.Title),
		zap.Int("chapters", len(doc.Chapters)),
		zap.Int("stylesheets", len(doc.Styles)),
		zap.Int("images", len(doc.Images)),
		zap.Int("problems", len(multierr.Errors(problems))))
	return doc, nil
}

func detectCover(pkg *epub.Package, r EntryReader, opts ThumbnailOptions, log *zap.Logger) (*Cover, error) {
	info := pkg.DetectCover()
	if info == nil {
		log.Debug("No cover image found")
		return nil, nil
	}

	cover := &Cover{
		Href:            info.Href,
		MediaType:       info.MediaType,
		DetectionMethod: info.DetectionMethod,
	}
	if opts.Width < 0 {
		return cover, nil
	}

	data, err := r.ReadFile(pkg.Resolve(info.Href))
	if err != nil {
		log.Warn("Unable to read cover image", zap.String("href", info.Href), zap.Error(err))
		return cover, fmt.Errorf("cover %s: %w", info.Href, err)
	}
	cover.Thumbnail, cover.Width, cover.Height, err = Thumbnail(data, opts)
	if err != nil {
		log.Warn("Unable to make cover thumbnail", zap.String("href", info.Href), zap.Error(err))
		return cover, fmt.Errorf("cover %s: %w", info.Href, err)
	}
	log.Debug("Made cover thumbnail",
		zap.String("href", info.Href),
		zap.String("method", info.DetectionMethod),
		zap.Int("bytes", len(cover.Thumbnail)))
	return cover, nil
}
