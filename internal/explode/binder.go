package explode

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/threepress/bookworm/internal/epub"
)

// EntryReader reads archive entries by path.
type EntryReader interface {
	ReadFile(name string) ([]byte, error)
}

// BindChapters walks the spine and emits one chapter per spine document the
// navigation tree points at. Navigation hrefs are resolved against navDir,
// manifest hrefs against contentPath; when two navigation nodes point at the
// same document the first one wins. A document listed more than once in the
// spine is bound once, at its first position.
//
// Spine entries that cannot be read are skipped and reported through the
// returned error, which never invalidates the returned chapters.
func BindChapters(spine []epub.SpineItem, manifest map[string]epub.ManifestItem, tree *epub.NavTree,
	contentPath, navDir string, r EntryReader, log *zap.Logger,
) ([]*Chapter, error) {
	if log == nil {
		log = zap.NewNop()
	}

	navMap := make(map[string]*epub.NavNode)
	if tree != nil {
		for _, n := range tree.Flatten() {
			key := epub.ResolvePath(navDir, n.Path())
			if key == "" {
				continue
			}
			if _, exists := navMap[key]; exists {
				log.Debug("Duplicate navigation target, keeping first", zap.String("href", key), zap.String("title", n.Title))
				continue
			}
			navMap[key] = n
		}
	}

	var (
		chapters []*Chapter
		problems error
		bound    = make(map[string]struct{})
	)
	for _, item := range spine {
		mi, ok := manifest[item.IDRef]
		if !ok {
			log.Debug("Spine item not in manifest, skipping", zap.String("idref", item.IDRef))
			continue
		}
		href, _ := epub.SplitFragment(mi.Href)
		key := epub.ResolvePath(contentPath, href)

		node, ok := navMap[key]
		if !ok {
			log.Debug("Spine item has no navigation entry, skipping", zap.String("href", href))
			continue
		}
		if _, dup := bound[key]; dup {
			log.Debug("Spine item already bound, skipping", zap.String("href", href))
			continue
		}

		content, err := r.ReadFile(key)
		if err != nil {
			log.Warn("Unable to read chapter, skipping", zap.String("href", key), zap.Error(err))
			problems = multierr.Append(problems, fmt.Errorf("chapter %s: %w", href, err))
			continue
		}

		bound[key] = struct{}{}
		chapters = append(chapters, &Chapter{
			IDRef:   href,
			Title:   node.Title,
			Content: content,
			Order:   len(chapters),
		})
		log.Debug("Bound chapter", zap.String("href", href), zap.String("title", node.Title), zap.Int("order", len(chapters)-1))
	}
	return chapters, problems
}
