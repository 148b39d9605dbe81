package library

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/threepress/bookworm/internal/explode"
)

type memoryChapter struct {
	explode.Chapter
	text string
}

type memoryBook struct {
	book     Book
	archive  []byte
	chapters []memoryChapter
	styles   []explode.StyleAsset
	images   []explode.ImageAsset
}

// MemoryStore keeps books in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]*memoryBook
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: make(map[string]*memoryBook)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	if rec.Book == nil || rec.Book.Key == "" {
		return errors.New("record has no book key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[rec.Book.Key]; ok {
		return fmt.Errorf("book %s already exists", rec.Book.Key)
	}
	mb := &memoryBook{
		book:    copyBook(rec.Book),
		archive: slices.Clone(rec.Archive),
		styles:  slices.Clone(rec.Styles),
		images:  slices.Clone(rec.Images),
	}
	for i, ch := range rec.Chapters {
		mc := memoryChapter{Chapter: copyChapter(ch)}
		if i < len(rec.Text) {
			mc.text = strings.ToLower(rec.Text[i])
		}
		mb.chapters = append(mb.chapters, mc)
	}
	slices.SortStableFunc(mb.chapters, func(a, b memoryChapter) int { return a.Order - b.Order })
	s.books[rec.Book.Key] = mb
	return nil
}

func (s *MemoryStore) get(key string) (*memoryBook, error) {
	mb, ok := s.books[key]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", key, ErrNotFound)
	}
	return mb, nil
}

func (s *MemoryStore) Book(_ context.Context, key string) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, err := s.get(key)
	if err != nil {
		return nil, err
	}
	b := copyBook(&mb.book)
	return &b, nil
}

func (s *MemoryStore) Books(_ context.Context, owner string) ([]*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Book
	for _, mb := range s.books {
		if mb.book.Owner != owner {
			continue
		}
		b := copyBook(&mb.book)
		out = append(out, &b)
	}
	sortBooks(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(key); err != nil {
		return err
	}
	delete(s.books, key)
	return nil
}

func (s *MemoryStore) Chapters(_ context.Context, key string) ([]*explode.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, err := s.get(key)
	if err != nil {
		return nil, err
	}
	out := make([]*explode.Chapter, len(mb.chapters))
	for i := range mb.chapters {
		ch := copyChapter(&mb.chapters[i].Chapter)
		out[i] = &ch
	}
	return out, nil
}

func (s *MemoryStore) Chapter(_ context.Context, key, idref string) (*explode.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, err := s.get(key)
	if err != nil {
		return nil, err
	}
	i := mb.chapterIndex(idref)
	if i < 0 {
		return nil, fmt.Errorf("chapter %s of book %s: %w", idref, key, ErrNotFound)
	}
	ch := copyChapter(&mb.chapters[i].Chapter)
	return &ch, nil
}

func (s *MemoryStore) SaveRendered(_ context.Context, key string, ch *explode.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, err := s.get(key)
	if err != nil {
		return err
	}
	i := mb.chapterIndex(ch.IDRef)
	if i < 0 {
		return fmt.Errorf("chapter %s of book %s: %w", ch.IDRef, key, ErrNotFound)
	}
	mb.chapters[i].State = ch.State
	mb.chapters[i].Rendered = slices.Clone(ch.Rendered)
	return nil
}

func (s *MemoryStore) Stylesheets(_ context.Context, key string) ([]explode.StyleAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return slices.Clone(mb.styles), nil
}

func (s *MemoryStore) Image(_ context.Context, key, idref string) (*explode.ImageAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, err := s.get(key)
	if err != nil {
		return nil, err
	}
	for _, img := range mb.images {
		if img.IDRef == idref {
			img.Data = slices.Clone(img.Data)
			return &img, nil
		}
	}
	return nil, fmt.Errorf("image %s of book %s: %w", idref, key, ErrNotFound)
}

func (s *MemoryStore) Archive(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return slices.Clone(mb.archive), nil
}

func (s *MemoryStore) Search(_ context.Context, owner, query string) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var hits []SearchHit
	for _, mb := range s.books {
		if mb.book.Owner != owner {
			continue
		}
		for _, ch := range mb.chapters {
			if !strings.Contains(ch.text, q) {
				continue
			}
			hits = append(hits, SearchHit{
				BookKey: mb.book.Key,
				Title:   mb.book.Metadata.Title,
				IDRef:   ch.IDRef,
				Chapter: ch.Title,
				Order:   ch.Order,
			})
		}
	}
	sortHits(hits)
	return hits, nil
}

func (s *MemoryStore) Counters(_ context.Context) (Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(map[string]struct{})
	for _, mb := range s.books {
		owners[mb.book.Owner] = struct{}{}
	}
	return Counters{Books: len(s.books), Owners: len(owners)}, nil
}

func (s *MemoryStore) Close() error { return nil }

func (mb *memoryBook) chapterIndex(idref string) int {
	return slices.IndexFunc(mb.chapters, func(c memoryChapter) bool { return c.IDRef == idref })
}

func copyBook(b *Book) Book {
	c := *b
	c.Metadata.Authors = slices.Clone(b.Metadata.Authors)
	c.Metadata.Subjects = slices.Clone(b.Metadata.Subjects)
	c.Metadata.Creators = slices.Clone(b.Metadata.Creators)
	c.NavXML = slices.Clone(b.NavXML)
	if b.Cover != nil {
		cover := *b.Cover
		cover.Thumbnail = slices.Clone(b.Cover.Thumbnail)
		c.Cover = &cover
	}
	return c
}

func copyChapter(ch *explode.Chapter) explode.Chapter {
	c := *ch
	c.Content = slices.Clone(ch.Content)
	c.Rendered = slices.Clone(ch.Rendered)
	return c
}

// sortBooks orders a listing newest first, then by title.
func sortBooks(books []*Book) {
	slices.SortFunc(books, func(a, b *Book) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return strings.Compare(a.Metadata.Title, b.Metadata.Title)
	})
}

func sortHits(hits []SearchHit) {
	slices.SortFunc(hits, func(a, b SearchHit) int {
		if c := strings.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		if c := strings.Compare(a.BookKey, b.BookKey); c != 0 {
			return c
		}
		return a.Order - b.Order
	})
}
