// Package render turns raw chapter markup into embeddable fragments.
package render

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/threepress/bookworm/internal/epub"
	"github.com/threepress/bookworm/internal/explode"
)

// svgLinkLabel is the text of the link replacing an img pointing at SVG.
const svgLinkLabel = "[ View linked image in SVG format ]"

// Sanitize parses raw chapter markup and returns the body's children
// wrapped in a div carrying explode.ScopeID. Namespace prefixes and xmlns
// declarations are dropped, and every img whose src mentions svg becomes a
// link to the image. Markup that is not well formed, even with HTML named
// entities allowed, fails with epub.ErrMarkupNotWellFormed.
func Sanitize(raw []byte) ([]byte, error) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Entity:        xml.HTMLEntity,
	}
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", epub.ErrMarkupNotWellFormed, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", epub.ErrMarkupNotWellFormed)
	}

	body := findBody(root)
	if body == nil {
		body = root
	}
	clean(body)

	wrapper := etree.NewElement("div")
	wrapper.CreateAttr("id", explode.ScopeID)
	for _, tok := range append([]etree.Token(nil), body.Child...) {
		wrapper.AddChild(tok)
	}

	out := etree.NewDocument()
	out.SetRoot(wrapper)
	b, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize chapter: %w", err)
	}
	return b, nil
}

// findBody returns the first body element in document order.
func findBody(root *etree.Element) *etree.Element {
	stack := []*etree.Element{root}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if strings.EqualFold(e.Tag, "body") {
			return e
		}
		children := e.ChildElements()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// clean rewrites the subtree rooted at top in place.
func clean(top *etree.Element) {
	stack := []*etree.Element{top}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		e.Space = ""
		dropNamespaceDecls(e)

		if parent := e.Parent(); parent != nil && isSVGImage(e) {
			idx := e.Index()
			parent.RemoveChildAt(idx)
			parent.InsertChildAt(idx, svgLink(e.SelectAttrValue("src", "")))
			continue
		}
		stack = append(stack, e.ChildElements()...)
	}
}

func dropNamespaceDecls(e *etree.Element) {
	attrs := e.Attr[:0]
	for _, a := range e.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	e.Attr = attrs
}

func isSVGImage(e *etree.Element) bool {
	return strings.EqualFold(e.Tag, "img") && strings.Contains(e.SelectAttrValue("src", ""), "svg")
}

func svgLink(src string) *etree.Element {
	a := etree.NewElement("a")
	a.CreateAttr("class", "svg")
	a.CreateAttr("href", src)
	a.SetText(svgLinkLabel)
	return a
}

// FallbackPolicy decides what happens to chapters whose markup could not
// be sanitized.
type FallbackPolicy int

const (
	// FallbackCache stores the raw markup as the rendered result, so the
	// chapter is never parsed again.
	FallbackCache FallbackPolicy = iota
	// FallbackRecompute returns the raw markup without storing it and
	// tries again on the next request.
	FallbackRecompute
)

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackCache:
		return "cache"
	case FallbackRecompute:
		return "recompute"
	default:
		return fmt.Sprintf("FallbackPolicy(%d)", int(p))
	}
}

// UnmarshalText parses "cache" or "recompute".
func (p *FallbackPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "cache":
		*p = FallbackCache
	case "recompute":
		*p = FallbackRecompute
	default:
		return fmt.Errorf("unknown fallback policy %q", string(text))
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p FallbackPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Sink persists a chapter after its rendered form changed.
type Sink interface {
	SaveRendered(ch *explode.Chapter) error
}

// Renderer drives the chapter render state machine:
//
//	Unprocessed -> Cleaning -> Cached
//	                        -> FallbackRaw
//
// Callers rendering the same chapter from several goroutines must hold a
// per-chapter lock; Renderer does no locking of its own.
type Renderer struct {
	log    *zap.Logger
	policy FallbackPolicy
	sink   Sink
}

// New creates a Renderer. A nil sink only keeps results on the chapter.
func New(log *zap.Logger, policy FallbackPolicy, sink Sink) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{log: log.Named("render"), policy: policy, sink: sink}
}

// Render returns the sanitized markup of ch, computing and storing it on
// first use. Chapters that cannot be parsed render as their raw content.
func (r *Renderer) Render(ch *explode.Chapter) []byte {
	switch ch.State {
	case explode.Cached:
		return ch.Rendered
	case explode.FallbackRaw:
		if r.policy == FallbackCache {
			return ch.Rendered
		}
	}

	ch.State = explode.Cleaning
	out, err := Sanitize(ch.Content)
	if err != nil {
		r.log.Error("Chapter is not valid XHTML, rendering raw content",
			zap.String("idref", ch.IDRef),
			zap.Stringer("policy", r.policy),
			zap.Error(err))
		ch.State = explode.FallbackRaw
		ch.Rendered = append([]byte(nil), ch.Content...)
		if r.policy == FallbackCache {
			r.save(ch)
		}
		return ch.Rendered
	}

	r.log.Debug("Rendered chapter", zap.String("idref", ch.IDRef), zap.Int("bytes", len(out)))
	ch.State = explode.Cached
	ch.Rendered = out
	r.save(ch)
	return out
}

func (r *Renderer) save(ch *explode.Chapter) {
	if r.sink == nil {
		return
	}
	if err := r.sink.SaveRendered(ch); err != nil {
		r.log.Error("Could not cache rendered chapter", zap.String("idref", ch.IDRef), zap.Error(err))
	}
}
