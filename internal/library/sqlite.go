package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/threepress/bookworm/internal/explode"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	key          TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	slug         TEXT NOT NULL,
	title        TEXT NOT NULL,
	metadata     TEXT NOT NULL,
	content_path TEXT NOT NULL,
	nav_path     TEXT NOT NULL,
	nav          BLOB,
	cover        TEXT,
	thumbnail    BLOB,
	created      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS books_owner ON books(owner);

CREATE TABLE IF NOT EXISTS archives (
	book_key TEXT PRIMARY KEY REFERENCES books(key) ON DELETE CASCADE,
	data     BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	book_key TEXT NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	idref    TEXT NOT NULL,
	title    TEXT NOT NULL,
	ord      INTEGER NOT NULL,
	content  BLOB NOT NULL,
	body     TEXT NOT NULL DEFAULT '',
	state    INTEGER NOT NULL DEFAULT 0,
	rendered BLOB,
	PRIMARY KEY (book_key, idref)
);

CREATE TABLE IF NOT EXISTS stylesheets (
	book_key   TEXT NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	idref      TEXT NOT NULL,
	media_type TEXT NOT NULL,
	content    BLOB NOT NULL,
	scoped     TEXT NOT NULL,
	PRIMARY KEY (book_key, idref)
);

CREATE TABLE IF NOT EXISTS images (
	book_key   TEXT NOT NULL REFERENCES books(key) ON DELETE CASCADE,
	idref      TEXT NOT NULL,
	media_type TEXT NOT NULL,
	sniffed    TEXT NOT NULL DEFAULT '',
	data       BLOB,
	svg        TEXT,
	PRIMARY KEY (book_key, idref)
);
`

// coverRow is the JSON form of a cover without its thumbnail.
type coverRow struct {
	Href            string `json:"href"`
	MediaType       string `json:"media_type"`
	DetectionMethod string `json:"detection_method"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

// SQLiteStore keeps books in a single SQLite database. A single connection
// is shared and serialized by a mutex.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL}
	if path == ":memory:" {
		flags = []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenMemory}
	}
	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("unable to open database %s: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
		return nil, multierr.Append(fmt.Errorf("unable to enable foreign keys: %w", err), conn.Close())
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, multierr.Append(fmt.Errorf("unable to create schema: %w", err), conn.Close())
	}
	return &SQLiteStore{conn: conn}, nil
}

// with runs fn holding the connection, interrupting it when ctx is done.
func (s *SQLiteStore) with(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("database is closed")
	}
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)
	return fn(s.conn)
}

func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	if rec.Book == nil || rec.Book.Key == "" {
		return errors.New("record has no book key")
	}
	b := rec.Book
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("unable to encode metadata: %w", err)
	}
	var cover any
	var thumbnail []byte
	if b.Cover != nil {
		c, err := json.Marshal(coverRow{
			Href:            b.Cover.Href,
			MediaType:       b.Cover.MediaType,
			DetectionMethod: b.Cover.DetectionMethod,
			Width:           b.Cover.Width,
			Height:          b.Cover.Height,
		})
		if err != nil {
			return fmt.Errorf("unable to encode cover: %w", err)
		}
		cover, thumbnail = string(c), b.Cover.Thumbnail
	}

	return s.with(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		err = sqlitex.Execute(conn, `INSERT INTO books
			(key, owner, filename, slug, title, metadata, content_path, nav_path, nav, cover, thumbnail, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{b.Key, b.Owner, b.Filename, b.Slug, b.Metadata.Title, string(metadata),
				b.ContentPath, b.NavPath, b.NavXML, cover, thumbnail, b.Created.UnixNano()},
		})
		if err != nil {
			return fmt.Errorf("unable to insert book %s: %w", b.Key, err)
		}

		err = sqlitex.Execute(conn, `INSERT INTO archives (book_key, data) VALUES (?, ?)`,
			&sqlitex.ExecOptions{Args: []any{b.Key, nonNil(rec.Archive)}})
		if err != nil {
			return fmt.Errorf("unable to insert archive: %w", err)
		}

		for i, ch := range rec.Chapters {
			// body is folded here so LIKE never has to fold non-ASCII
			var text string
			if i < len(rec.Text) {
				text = strings.ToLower(rec.Text[i])
			}
			err = sqlitex.Execute(conn, `INSERT INTO chapters
				(book_key, idref, title, ord, content, body, state, rendered)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
				Args: []any{b.Key, ch.IDRef, ch.Title, ch.Order, nonNil(ch.Content), text, int(ch.State), ch.Rendered},
			})
			if err != nil {
				return fmt.Errorf("unable to insert chapter %s: %w", ch.IDRef, err)
			}
		}

		for _, st := range rec.Styles {
			err = sqlitex.Execute(conn, `INSERT INTO stylesheets (book_key, idref, media_type, content, scoped)
				VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
				Args: []any{b.Key, st.IDRef, st.MediaType, nonNil(st.Content), st.Text},
			})
			if err != nil {
				return fmt.Errorf("unable to insert stylesheet %s: %w", st.IDRef, err)
			}
		}

		for _, img := range rec.Images {
			var svg any
			if img.IsSVG() {
				svg = img.Text
			}
			err = sqlitex.Execute(conn, `INSERT INTO images (book_key, idref, media_type, sniffed, data, svg)
				VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
				Args: []any{b.Key, img.IDRef, img.MediaType, img.Sniffed, img.Data, svg},
			})
			if err != nil {
				return fmt.Errorf("unable to insert image %s: %w", img.IDRef, err)
			}
		}
		return nil
	})
}

const bookColumns = `key, owner, filename, slug, metadata, content_path, nav_path, nav, cover, thumbnail, created`

func scanBook(stmt *sqlite.Stmt) (*Book, error) {
	b := &Book{
		Key:         stmt.ColumnText(0),
		Owner:       stmt.ColumnText(1),
		Filename:    stmt.ColumnText(2),
		Slug:        stmt.ColumnText(3),
		ContentPath: stmt.ColumnText(5),
		NavPath:     stmt.ColumnText(6),
		NavXML:      columnBytes(stmt, 7),
		Created:     time.Unix(0, stmt.ColumnInt64(10)).UTC(),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &b.Metadata); err != nil {
		return nil, fmt.Errorf("unable to decode metadata of book %s: %w", b.Key, err)
	}
	if b.Metadata.Authors == nil {
		b.Metadata.Authors = []string{}
	}
	if stmt.ColumnType(8) != sqlite.TypeNull {
		var c coverRow
		if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &c); err != nil {
			return nil, fmt.Errorf("unable to decode cover of book %s: %w", b.Key, err)
		}
		b.Cover = &explode.Cover{
			Href:            c.Href,
			MediaType:       c.MediaType,
			DetectionMethod: c.DetectionMethod,
			Width:           c.Width,
			Height:          c.Height,
			Thumbnail:       columnBytes(stmt, 9),
		}
	}
	return b, nil
}

func (s *SQLiteStore) Book(ctx context.Context, key string) (*Book, error) {
	var book *Book
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+bookColumns+` FROM books WHERE key = ?`, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) (err error) {
				book, err = scanBook(stmt)
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("book %s: %w", key, ErrNotFound)
	}
	return book, nil
}

func (s *SQLiteStore) Books(ctx context.Context, owner string) ([]*Book, error) {
	var books []*Book
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+bookColumns+` FROM books WHERE owner = ? ORDER BY created DESC, title`,
			&sqlitex.ExecOptions{
				Args: []any{owner},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					b, err := scanBook(stmt)
					if err != nil {
						return err
					}
					books = append(books, b)
					return nil
				},
			})
	})
	return books, err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.with(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM books WHERE key = ?`, &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
			return fmt.Errorf("unable to delete book %s: %w", key, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("book %s: %w", key, ErrNotFound)
		}
		return nil
	})
}

const chapterColumns = `idref, title, ord, content, state, rendered`

func scanChapter(stmt *sqlite.Stmt) *explode.Chapter {
	return &explode.Chapter{
		IDRef:    stmt.ColumnText(0),
		Title:    stmt.ColumnText(1),
		Order:    int(stmt.ColumnInt64(2)),
		Content:  columnBytes(stmt, 3),
		State:    explode.RenderState(stmt.ColumnInt64(4)),
		Rendered: columnBytes(stmt, 5),
	}
}

func (s *SQLiteStore) Chapters(ctx context.Context, key string) ([]*explode.Chapter, error) {
	var chapters []*explode.Chapter
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		if err := bookExists(conn, key); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `SELECT `+chapterColumns+` FROM chapters WHERE book_key = ? ORDER BY ord`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					chapters = append(chapters, scanChapter(stmt))
					return nil
				},
			})
	})
	return chapters, err
}

func (s *SQLiteStore) Chapter(ctx context.Context, key, idref string) (*explode.Chapter, error) {
	var ch *explode.Chapter
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+chapterColumns+` FROM chapters WHERE book_key = ? AND idref = ?`,
			&sqlitex.ExecOptions{
				Args: []any{key, idref},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					ch = scanChapter(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("chapter %s of book %s: %w", idref, key, ErrNotFound)
	}
	return ch, nil
}

func (s *SQLiteStore) SaveRendered(ctx context.Context, key string, ch *explode.Chapter) error {
	return s.with(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE chapters SET state = ?, rendered = ? WHERE book_key = ? AND idref = ?`,
			&sqlitex.ExecOptions{Args: []any{int(ch.State), ch.Rendered, key, ch.IDRef}})
		if err != nil {
			return fmt.Errorf("unable to save chapter %s: %w", ch.IDRef, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("chapter %s of book %s: %w", ch.IDRef, key, ErrNotFound)
		}
		return nil
	})
}

func (s *SQLiteStore) Stylesheets(ctx context.Context, key string) ([]explode.StyleAsset, error) {
	var styles []explode.StyleAsset
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		if err := bookExists(conn, key); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `SELECT idref, media_type, content, scoped FROM stylesheets WHERE book_key = ? ORDER BY rowid`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					styles = append(styles, explode.StyleAsset{
						IDRef:     stmt.ColumnText(0),
						MediaType: stmt.ColumnText(1),
						Content:   columnBytes(stmt, 2),
						Text:      stmt.ColumnText(3),
					})
					return nil
				},
			})
	})
	return styles, err
}

func (s *SQLiteStore) Image(ctx context.Context, key, idref string) (*explode.ImageAsset, error) {
	var img *explode.ImageAsset
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT idref, media_type, sniffed, data, svg FROM images WHERE book_key = ? AND idref = ?`,
			&sqlitex.ExecOptions{
				Args: []any{key, idref},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					img = &explode.ImageAsset{
						IDRef:     stmt.ColumnText(0),
						MediaType: stmt.ColumnText(1),
						Sniffed:   stmt.ColumnText(2),
						Data:      columnBytes(stmt, 3),
						Text:      stmt.ColumnText(4),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("image %s of book %s: %w", idref, key, ErrNotFound)
	}
	return img, nil
}

func (s *SQLiteStore) Archive(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	found := false
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT data FROM archives WHERE book_key = ?`, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data, found = columnBytes(stmt, 0), true
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("archive of book %s: %w", key, ErrNotFound)
	}
	return data, nil
}

func (s *SQLiteStore) Search(ctx context.Context, owner, query string) ([]SearchHit, error) {
	var hits []SearchHit
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT b.key, b.title, c.idref, c.title, c.ord
			FROM chapters c JOIN books b ON b.key = c.book_key
			WHERE b.owner = ? AND c.body LIKE ? ESCAPE '\'
			ORDER BY b.title, b.key, c.ord`, &sqlitex.ExecOptions{
			Args: []any{owner, pattern},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hits = append(hits, SearchHit{
					BookKey: stmt.ColumnText(0),
					Title:   stmt.ColumnText(1),
					IDRef:   stmt.ColumnText(2),
					Chapter: stmt.ColumnText(3),
					Order:   int(stmt.ColumnInt64(4)),
				})
				return nil
			},
		})
	})
	return hits, err
}

func (s *SQLiteStore) Counters(ctx context.Context) (Counters, error) {
	var c Counters
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*), COUNT(DISTINCT owner) FROM books`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c.Books = int(stmt.ColumnInt64(0))
				c.Owners = int(stmt.ColumnInt64(1))
				return nil
			},
		})
	})
	return c, err
}

// Close closes the database. Further calls fail.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func bookExists(conn *sqlite.Conn, key string) error {
	found := false
	err := sqlitex.Execute(conn, `SELECT 1 FROM books WHERE key = ?`, &sqlitex.ExecOptions{
		Args:       []any{key},
		ResultFunc: func(*sqlite.Stmt) error { found = true; return nil },
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("book %s: %w", key, ErrNotFound)
	}
	return nil
}

// columnBytes copies a blob column; NULL and empty blobs read as nil.
func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	n := stmt.ColumnLen(col)
	if stmt.ColumnType(col) == sqlite.TypeNull || n == 0 {
		return nil
	}
	buf := make([]byte, n)
	stmt.ColumnBytes(col, buf)
	return buf
}

// nonNil keeps NOT NULL blob columns from binding as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
