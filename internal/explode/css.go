package explode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/threepress/bookworm/internal/epub"
)

// scopeElement replaces the body type selector, since sanitized chapters
// are wrapped in a div instead of body.
const scopeElement = "div"

// At-rules whose blocks hold ordinary style rules. Rules inside any other
// block at-rule (@font-face, @page, @keyframes...) are copied unscoped.
var groupingAtRules = map[string]bool{
	"@media":         true,
	"@supports":      true,
	"@document":      true,
	"@-moz-document": true,
	"@layer":         true,
	"@container":     true,
}

// maxParseErrors bounds consecutive parser errors so a pathological sheet
// cannot spin forever.
const maxParseErrors = 64

// Scoper rewrites stylesheets so every selector only applies inside the
// sanitized chapter wrapper.
type Scoper struct {
	log    *zap.Logger
	prefix string
}

// NewScoper creates a Scoper prefixing selectors with "#" + ScopeID.
func NewScoper(log *zap.Logger) *Scoper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scoper{log: log.Named("css-scoper"), prefix: "#" + ScopeID}
}

// rule is a style rule being collected until its closing brace.
type rule struct {
	sb  strings.Builder
	bad bool
}

// Scope returns the rewritten stylesheet. Malformed rules are left out and
// reported in the returned error, which wraps epub.ErrStyleRuleMalformed.
// The returned text is usable whatever the error.
func (s *Scoper) Scope(data []byte, source string) (string, error) {
	p := css.NewParser(parse.NewInput(bytes.NewReader(data)), false)

	var (
		out      strings.Builder
		problems error
		blocks   []string // enclosing at-rule names
		pending  []string // selectors collected from QualifiedRuleGrammar
		cur      *rule
		errCount int
	)

	scoped := func() bool {
		for _, b := range blocks {
			if !groupingAtRules[b] {
				return false
			}
		}
		return true
	}
	malformed := func(what string) {
		s.log.Warn("Skipping malformed stylesheet rule", zap.String("source", source), zap.String("rule", what))
		problems = multierr.Append(problems, fmt.Errorf("%w: %s", epub.ErrStyleRuleMalformed, what))
	}
	dropOpen := func() {
		if cur != nil {
			malformed(strings.TrimSpace(cur.sb.String()))
			cur = nil
		}
	}

	for {
		gt, _, raw := p.Next()
		if gt != css.ErrorGrammar {
			errCount = 0
		}

		switch gt {
		case css.ErrorGrammar:
			err := p.Err()
			if err == nil || errors.Is(err, io.EOF) {
				dropOpen()
				return out.String(), problems
			}
			errCount++
			if errCount > maxParseErrors {
				dropOpen()
				malformed(err.Error())
				return out.String(), problems
			}
			if cur != nil {
				cur.bad = true
				continue
			}
			malformed(err.Error())

		case css.CommentGrammar:
			if cur == nil {
				out.Write(raw)
				out.WriteByte('\n')
			}

		case css.AtRuleGrammar:
			out.Write(raw)
			if v := joinTokens(p.Values()); v != "" {
				out.WriteByte(' ')
				out.WriteString(v)
			}
			out.WriteString(";\n")

		case css.BeginAtRuleGrammar:
			name := strings.ToLower(string(raw))
			blocks = append(blocks, name)
			out.Write(raw)
			if v := joinTokens(p.Values()); v != "" {
				out.WriteByte(' ')
				out.WriteString(v)
			}
			out.WriteString(" {\n")

		case css.EndAtRuleGrammar:
			if len(blocks) > 0 {
				blocks = blocks[:len(blocks)-1]
			}
			out.WriteString("}\n")

		case css.QualifiedRuleGrammar:
			pending = append(pending, selectorList(raw, p.Values())...)

		case css.BeginRulesetGrammar:
			dropOpen()
			selectors := append(pending, selectorList(raw, p.Values())...)
			pending = nil

			cur = &rule{}
			if scoped() {
				if !wellFormedSelectors(raw, p.Values()) {
					cur.bad = true
				}
				selectors = s.scopeSelectors(selectors)
			}
			if len(selectors) == 0 || hasEmpty(selectors) {
				cur.bad = true
			}
			cur.sb.WriteString(strings.Join(selectors, ", "))
			cur.sb.WriteString(" {")

		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			decl := string(raw) + ": " + joinTokens(p.Values()) + ";"
			if cur != nil {
				cur.sb.WriteByte(' ')
				cur.sb.WriteString(decl)
			} else {
				// declaration directly inside @font-face or @page
				out.WriteString("  ")
				out.WriteString(decl)
				out.WriteByte('\n')
			}

		case css.EndRulesetGrammar:
			if cur == nil {
				continue
			}
			cur.sb.WriteString(" }")
			if cur.bad {
				malformed(cur.sb.String())
			} else {
				out.WriteString(cur.sb.String())
				out.WriteByte('\n')
			}
			cur = nil

		case css.TokenGrammar:
			out.Write(raw)
		}
	}
}

// scopeSelectors retargets body type selectors and prefixes every selector
// with the scope. Empty selectors are kept empty so the caller can reject
// the rule.
func (s *Scoper) scopeSelectors(selectors []string) []string {
	out := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if sel == "" {
			out = append(out, "")
			continue
		}
		out = append(out, s.prefix+" "+ScopeSelector(sel))
	}
	return out
}

// ScopeSelector replaces every body type selector in sel with a div. Class,
// id, attribute and pseudo-class names spelled "body" are left alone.
func ScopeSelector(sel string) string {
	l := css.NewLexer(parse.NewInputString(sel))

	var (
		sb       strings.Builder
		prev     css.TokenType = css.WhitespaceToken
		prevData []byte
		brackets int
	)
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			break
		}
		switch tt {
		case css.LeftBracketToken:
			brackets++
		case css.RightBracketToken:
			if brackets > 0 {
				brackets--
			}
		case css.IdentToken:
			if brackets == 0 && strings.EqualFold(string(data), "body") && startsCompound(prev, prevData) {
				data = []byte(scopeElement)
			}
		}
		sb.Write(data)
		prev, prevData = tt, data
	}
	return sb.String()
}

// startsCompound reports whether an identifier following the given token
// is a type selector rather than a class, pseudo-class or namespace suffix.
func startsCompound(prev css.TokenType, data []byte) bool {
	switch prev {
	case css.WhitespaceToken, css.CommaToken, css.LeftParenthesisToken, css.FunctionToken:
		return true
	case css.DelimToken:
		return len(data) == 1 && (data[0] == '>' || data[0] == '+' || data[0] == '~')
	}
	return false
}

// selectorList splits a selector group on top-level commas.
func selectorList(raw []byte, values []css.Token) []string {
	var (
		out   []string
		sb    strings.Builder
		depth int
	)
	sb.Write(raw)
	for _, v := range values {
		switch v.TokenType {
		case css.FunctionToken, css.LeftParenthesisToken:
			depth++
		case css.RightParenthesisToken:
			if depth > 0 {
				depth--
			}
		case css.CommaToken:
			if depth == 0 {
				out = append(out, strings.TrimSpace(sb.String()))
				sb.Reset()
				continue
			}
		}
		sb.Write(v.Data)
	}
	return append(out, strings.TrimSpace(sb.String()))
}

// wellFormedSelectors reports whether every selector of a group starts
// with a token that can begin a compound selector and the group has no
// stray at-sign.
func wellFormedSelectors(raw []byte, values []css.Token) bool {
	tokens := make([]css.Token, 0, len(values)+1)
	if len(raw) > 0 {
		tokens = append(tokens, css.Token{TokenType: css.IdentToken, Data: raw})
	}
	tokens = append(tokens, values...)

	atStart, depth := true, 0
	for _, t := range tokens {
		switch t.TokenType {
		case css.WhitespaceToken:
			continue
		case css.AtKeywordToken:
			return false
		case css.DelimToken:
			if len(t.Data) == 1 && t.Data[0] == '@' {
				return false
			}
		case css.FunctionToken, css.LeftParenthesisToken:
			depth++
		case css.RightParenthesisToken:
			if depth > 0 {
				depth--
			}
		case css.CommaToken:
			if depth == 0 {
				atStart = true
				continue
			}
		}
		if atStart {
			if len(t.Data) == 0 || !selectorStart(t.Data[0]) {
				return false
			}
			atStart = false
		}
	}
	return !atStart
}

func selectorStart(c byte) bool {
	switch {
	case c >= 0x80, 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return true
	}
	return strings.IndexByte(".#*:[|&>+~_-\\", c) >= 0
}

func joinTokens(values []css.Token) string {
	var sb strings.Builder
	for _, v := range values {
		sb.Write(v.Data)
	}
	return strings.TrimSpace(sb.String())
}

func hasEmpty(selectors []string) bool {
	for _, s := range selectors {
		if s == "" {
			return true
		}
	}
	return false
}
