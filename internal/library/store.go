package library

import (
	"context"

	"github.com/threepress/bookworm/internal/explode"
)

// Store persists books and everything exploded out of them. Deleting a
// book removes its chapters, stylesheets, images and archive. Returned
// values are copies; changing them does not change the store.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Book(ctx context.Context, key string) (*Book, error)
	Books(ctx context.Context, owner string) ([]*Book, error)
	Delete(ctx context.Context, key string) error

	// Chapters returns the chapters of a book in reading order.
	Chapters(ctx context.Context, key string) ([]*explode.Chapter, error)
	Chapter(ctx context.Context, key, idref string) (*explode.Chapter, error)
	// SaveRendered stores the render state and rendered markup of ch.
	SaveRendered(ctx context.Context, key string, ch *explode.Chapter) error

	Stylesheets(ctx context.Context, key string) ([]explode.StyleAsset, error)
	Image(ctx context.Context, key, idref string) (*explode.ImageAsset, error)
	Archive(ctx context.Context, key string) ([]byte, error)

	// Search finds chapters of the owner's books whose text contains
	// query, ignoring case.
	Search(ctx context.Context, owner, query string) ([]SearchHit, error)
	Counters(ctx context.Context) (Counters, error)

	Close() error
}
