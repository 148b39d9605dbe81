// Package library stores exploded books and serves their chapters.
package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threepress/bookworm/internal/epub"
	"github.com/threepress/bookworm/internal/explode"
	"github.com/threepress/bookworm/internal/render"
)

// Options holds options for New.
type Options struct {
	Logger    *zap.Logger
	Fallback  render.FallbackPolicy
	Thumbnail explode.ThumbnailOptions
	// Now defaults to time.Now.
	Now func() time.Time
}

// Library ties uploads, storage and chapter rendering together.
type Library struct {
	store Store
	log   *zap.Logger
	opts  Options
	locks *keyedMutex
}

// New creates a Library over store.
func New(store Store, opts Options) *Library {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Library{store: store, log: log.Named("library"), opts: opts, locks: newKeyedMutex()}
}

// Upload explodes an ePub archive and stores it for owner. Archives that
// are not a zip or not an ePub are rejected with a *RejectError.
func (l *Library) Upload(ctx context.Context, owner, filename string, data []byte) (*Book, error) {
	doc, err := explode.Explode(data, explode.Options{Logger: l.log, Thumbnail: l.opts.Thumbnail})
	if err != nil {
		reject := &RejectError{Filename: filename, Err: err}
		switch {
		case errors.Is(err, epub.ErrNotAnArchive):
			reject.Reason = ReasonNotAnArchive
		case errors.Is(err, epub.ErrMalformedEpub):
			reject.Reason = ReasonNotAnEpub
		default:
			return nil, fmt.Errorf("unable to explode %s: %w", filename, err)
		}
		l.log.Warn("Rejected upload", zap.String("owner", owner), zap.String("filename", filename), zap.Error(err))
		return nil, reject
	}

	key, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("unable to generate book key: %w", err)
	}
	book := &Book{
		Key:         key.String(),
		Owner:       owner,
		Filename:    filename,
		Slug:        SafeTitle(doc.Metadata.Title),
		Metadata:    doc.Metadata,
		Created:     l.opts.Now().UTC(),
		ContentPath: doc.ContentPath,
		NavPath:     doc.NavPath,
		NavXML:      doc.NavXML,
		Cover:       doc.Cover,
	}

	rec := &Record{
		Book:     book,
		Archive:  data,
		Chapters: doc.Chapters,
		Text:     make([]string, len(doc.Chapters)),
		Styles:   doc.Styles,
		Images:   doc.Images,
	}
	for i, ch := range doc.Chapters {
		text, err := render.PlainText(ch.Content)
		if err != nil {
			l.log.Warn("Unable to index chapter text", zap.String("idref", ch.IDRef), zap.Error(err))
			continue
		}
		rec.Text[i] = text
	}

	if err := l.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("unable to store %s: %w", filename, err)
	}
	l.log.Info("Stored book",
		zap.String("key", book.Key),
		zap.String("owner", owner),
		zap.String("title", book.Title()),
		zap.Int("chapters", len(doc.Chapters)),
		zap.Error(doc.Problems))
	return book, nil
}

// Book fetches a book by its URL title and key. An empty title matches any.
func (l *Library) Book(ctx context.Context, title, key string) (*Book, error) {
	b, err := l.store.Book(ctx, key)
	if err != nil {
		return nil, err
	}
	if title != "" && title != b.Slug {
		l.log.Debug("Book title does not match key", zap.String("title", title), zap.String("key", key))
		return nil, fmt.Errorf("book %s titled %q: %w", key, title, ErrNotFound)
	}
	return b, nil
}

// Download returns the uploaded archive of a book together with its
// original filename. The title is checked as in Book.
func (l *Library) Download(ctx context.Context, title, key string) (filename string, data []byte, err error) {
	b, err := l.Book(ctx, title, key)
	if err != nil {
		return "", nil, err
	}
	data, err = l.store.Archive(ctx, key)
	if err != nil {
		return "", nil, err
	}
	return b.Filename, data, nil
}

// Books lists the books of owner, newest first.
func (l *Library) Books(ctx context.Context, owner string) ([]*Book, error) {
	return l.store.Books(ctx, owner)
}

// Delete removes a book with its chapters, stylesheets, images and archive.
func (l *Library) Delete(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return err
	}
	l.log.Info("Deleted book", zap.String("key", key))
	return nil
}

// Chapters returns the chapters of a book in reading order.
func (l *Library) Chapters(ctx context.Context, key string) ([]*explode.Chapter, error) {
	return l.store.Chapters(ctx, key)
}

// Stylesheets returns the scoped stylesheets of a book.
func (l *Library) Stylesheets(ctx context.Context, key string) ([]explode.StyleAsset, error) {
	return l.store.Stylesheets(ctx, key)
}

// Image returns a single image of a book.
func (l *Library) Image(ctx context.Context, key, idref string) (*explode.ImageAsset, error) {
	return l.store.Image(ctx, key, idref)
}

// Counters returns site wide totals.
func (l *Library) Counters(ctx context.Context) (Counters, error) {
	return l.store.Counters(ctx)
}

// Search finds chapters of the owner's books containing query.
func (l *Library) Search(ctx context.Context, owner, query string) ([]SearchHit, error) {
	if query == "" {
		return nil, nil
	}
	return l.store.Search(ctx, owner, query)
}

// storeSink saves rendered chapters of one book.
type storeSink struct {
	ctx   context.Context
	store Store
	key   string
}

func (s storeSink) SaveRendered(ch *explode.Chapter) error {
	return s.store.SaveRendered(s.ctx, s.key, ch)
}

// RenderChapter returns the sanitized markup of a chapter. Concurrent
// calls for the same chapter are serialized, so a chapter is sanitized at
// most once.
func (l *Library) RenderChapter(ctx context.Context, key, idref string) ([]byte, error) {
	unlock := l.locks.lock(key + "\x00" + idref)
	defer unlock()

	ch, err := l.store.Chapter(ctx, key, idref)
	if err != nil {
		return nil, err
	}
	r := render.New(l.log, l.opts.Fallback, storeSink{ctx: ctx, store: l.store, key: key})
	return r.Render(ch), nil
}

// Neighbors returns the chapters before and after idref in reading order.
// Either is nil at the ends of the book.
func (l *Library) Neighbors(ctx context.Context, key, idref string) (prev, next *explode.Chapter, err error) {
	chapters, err := l.store.Chapters(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	for i, ch := range chapters {
		if ch.IDRef != idref {
			continue
		}
		if i > 0 {
			prev = chapters[i-1]
		}
		if i+1 < len(chapters) {
			next = chapters[i+1]
		}
		return prev, next, nil
	}
	return nil, nil, fmt.Errorf("chapter %s of book %s: %w", idref, key, ErrNotFound)
}

// Section is the top-level table of contents entry enclosing a chapter.
type Section struct {
	Title string
	Href  string
	// Chapter is the idref of the section's own chapter, empty when the
	// section document was not bound.
	Chapter string
}

// Breadcrumb returns the top-level section listing a chapter among its
// direct children. It is nil for chapters only found at the top level or
// deeper than the second level of the table of contents.
func (l *Library) Breadcrumb(ctx context.Context, key, idref string) (*Section, error) {
	b, err := l.store.Book(ctx, key)
	if err != nil {
		return nil, err
	}
	tree, err := epub.ParseNCX(b.NavXML)
	if err != nil {
		return nil, err
	}

	navDir := epub.ContentPath(b.NavPath)
	target := epub.ResolvePath(b.ContentPath, idref)
	top := tree.SectionOf(func(n *epub.NavNode) bool {
		return epub.ResolvePath(navDir, n.Path()) == target
	})
	if top == nil {
		return nil, nil
	}
	topPath := epub.ResolvePath(navDir, top.Path())

	sec := &Section{Title: top.Title, Href: top.Href}
	chapters, err := l.store.Chapters(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, ch := range chapters {
		if epub.ResolvePath(b.ContentPath, ch.IDRef) == topPath {
			sec.Chapter = ch.IDRef
			break
		}
	}
	return sec, nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
