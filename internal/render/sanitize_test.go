package render

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/threepress/bookworm/internal/epub"
	"github.com/threepress/bookworm/internal/epubtest"
	"github.com/threepress/bookworm/internal/explode"
)

// countingSink records every chapter handed to it.
type countingSink struct {
	saved []string
	err   error
}

func (s *countingSink) SaveRendered(ch *explode.Chapter) error {
	s.saved = append(s.saved, ch.IDRef+"="+ch.State.String())
	return s.err
}

func chapter(body string) *explode.Chapter {
	return &explode.Chapter{IDRef: "ch.xhtml", Title: "Chapter", Content: []byte(epubtest.ChapterXHTML("Chapter", body))}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		notWant []string
	}{
		{
			name:    "body replaced by wrapper",
			raw:     epubtest.ChapterXHTML("T", `<h1 class="t">Title</h1><p>Text</p>`),
			want:    []string{`<div id="bw-book-content">`, `<h1 class="t">Title</h1>`, `<p>Text</p>`},
			notWant: []string{"<body", "<html", "<head", "xmlns"},
		},
		{
			name: "svg image becomes link in place",
			raw:  epubtest.ChapterXHTML("T", `<p>before <img src="images/fig.svg" alt="fig"/> after</p><p>next</p>`),
			want: []string{
				`<p>before <a class="svg" href="images/fig.svg">[ View linked image in SVG format ]</a> after</p><p>next</p>`,
			},
			notWant: []string{"<img"},
		},
		{
			name:    "raster image kept",
			raw:     epubtest.ChapterXHTML("T", `<p><img src="images/photo.jpg" alt="photo"/></p>`),
			want:    []string{`<img src="images/photo.jpg" alt="photo"/>`},
			notWant: []string{`class="svg"`},
		},
		{
			name:    "namespace prefixes stripped",
			raw:     `<h:html xmlns:h="http://www.w3.org/1999/xhtml"><h:body><h:p>prefixed</h:p></h:body></h:html>`,
			want:    []string{`<div id="bw-book-content"><p>prefixed</p></div>`},
			notWant: []string{"h:", "xmlns"},
		},
		{
			name: "html named entities accepted",
			raw:  epubtest.ChapterXHTML("T", `<p>caf&eacute;&nbsp;&mdash; 1 &lt; 2</p>`),
			want: []string{"<p>caf\u00e9\u00a0\u2014 1 &lt; 2</p>"},
		},
		{
			name: "document without body keeps root children",
			raw:  `<section><p>one</p><p>two</p></section>`,
			want: []string{`<div id="bw-book-content"><p>one</p><p>two</p></div>`},
		},
		{
			name: "text directly in body kept",
			raw:  epubtest.ChapterXHTML("T", `loose text<p>para</p>`),
			want: []string{`<div id="bw-book-content">loose text<p>para</p></div>`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Sanitize([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Sanitize() error = %v", err)
			}
			got := string(out)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Sanitize() = %q, want it to contain %q", got, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("Sanitize() = %q, want it not to contain %q", got, nw)
				}
			}
		})
	}
}

func TestSanitize_NotWellFormed(t *testing.T) {
	for _, raw := range []string{
		"<html><body><p>unclosed</body></html>",
		"<p>&unknownentity;</p>",
		"just text",
		"",
	} {
		if _, err := Sanitize([]byte(raw)); !errors.Is(err, epub.ErrMarkupNotWellFormed) {
			t.Errorf("Sanitize(%q) error = %v, want ErrMarkupNotWellFormed", raw, err)
		}
	}
}

func TestRenderer_CachesOnce(t *testing.T) {
	sink := &countingSink{}
	r := New(nil, FallbackCache, sink)
	ch := chapter(`<p><img src="a.svg"/></p>`)

	first := r.Render(ch)
	if ch.State != explode.Cached {
		t.Fatalf("State = %v, want cached", ch.State)
	}
	second := r.Render(ch)

	if string(first) != string(second) {
		t.Errorf("second render differs:\n%s\n%s", first, second)
	}
	if len(sink.saved) != 1 || sink.saved[0] != "ch.xhtml=cached" {
		t.Errorf("sink saw %v, want a single cached save", sink.saved)
	}
	if !strings.Contains(string(first), `href="a.svg"`) {
		t.Errorf("Render() = %q, want svg link", first)
	}
}

func TestRenderer_PreviouslyCached(t *testing.T) {
	sink := &countingSink{}
	r := New(nil, FallbackCache, sink)
	ch := &explode.Chapter{IDRef: "x", Content: []byte("<broken"), State: explode.Cached, Rendered: []byte("stored")}

	if got := r.Render(ch); string(got) != "stored" {
		t.Errorf("Render() = %q, want stored result", got)
	}
	if len(sink.saved) != 0 {
		t.Errorf("sink saw %v, want nothing", sink.saved)
	}
}

func TestRenderer_Fallback(t *testing.T) {
	tests := []struct {
		policy     FallbackPolicy
		wantSaves  int
		wantErrors int
	}{
		{policy: FallbackCache, wantSaves: 1, wantErrors: 1},
		{policy: FallbackRecompute, wantSaves: 0, wantErrors: 2},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			sink := &countingSink{}
			r := New(zap.New(core), tt.policy, sink)
			raw := "<html><body><p>unclosed &nbsp;</body></html>"
			ch := &explode.Chapter{IDRef: "bad.xhtml", Content: []byte(raw)}

			for i := 0; i < 2; i++ {
				if got := r.Render(ch); string(got) != raw {
					t.Errorf("Render() #%d = %q, want raw content", i, got)
				}
				if ch.State != explode.FallbackRaw {
					t.Errorf("State = %v, want fallback-raw", ch.State)
				}
			}

			if len(sink.saved) != tt.wantSaves {
				t.Errorf("sink saw %v, want %d saves", sink.saved, tt.wantSaves)
			}
			if n := logs.FilterMessage("Chapter is not valid XHTML, rendering raw content").Len(); n != tt.wantErrors {
				t.Errorf("logged %d fallbacks, want %d", n, tt.wantErrors)
			}
		})
	}
}

func TestRenderer_RecomputeRecoversAfterFix(t *testing.T) {
	r := New(nil, FallbackRecompute, nil)
	ch := &explode.Chapter{IDRef: "bad.xhtml", Content: []byte("<p>broken")}

	r.Render(ch)
	ch.Content = []byte(epubtest.ChapterXHTML("T", "<p>fixed</p>"))
	got := r.Render(ch)

	if ch.State != explode.Cached || !strings.Contains(string(got), "<p>fixed</p>") {
		t.Errorf("Render() = (%q, %v), want cached fixed content", got, ch.State)
	}
}

func TestRenderer_SinkErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sink := &countingSink{err: errors.New("disk full")}
	r := New(zap.New(core), FallbackCache, sink)
	ch := chapter("<p>ok</p>")

	if got := r.Render(ch); !strings.Contains(string(got), "<p>ok</p>") {
		t.Errorf("Render() = %q", got)
	}
	if logs.FilterMessage("Could not cache rendered chapter").Len() != 1 {
		t.Errorf("expected sink failure to be logged, got %v", logs.All())
	}
}

func TestFallbackPolicy_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    FallbackPolicy
		wantErr bool
	}{
		{in: "cache", want: FallbackCache},
		{in: "", want: FallbackCache},
		{in: " Recompute ", want: FallbackRecompute},
		{in: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		var p FallbackPolicy
		err := p.UnmarshalText([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && p != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, p, tt.want)
		}
	}
}
