// Package highlight cuts HTML snippets around query matches and wraps the
// matches in <mark>.
package highlight

import (
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/textmatch"
)

const (
	DefaultLength  = 200
	DefaultContext = 40
	ellipsis       = "…"
)

// Highlighter produces snippets of at most Length bytes starting Context
// bytes before the first match they cover.
type Highlighter struct {
	Length  int
	Context int
	Matcher textmatch.Matcher
}

func New(length, context int, m textmatch.Matcher) *Highlighter {
	if length <= 0 {
		length = DefaultLength
	}
	if context < 0 || context >= length {
		context = DefaultContext
	}
	return &Highlighter{Length: length, Context: context, Matcher: m}
}

// Snippet returns one snippet around the earliest match, or the start of text
// when nothing matches.
func (h *Highlighter) Snippet(text string, terms []string) string {
	if text == "" {
		return ""
	}
	start := 0
	if pos := h.positions(text, terms); len(pos) > 0 {
		start = h.startFor(text, pos[0])
	}
	return h.render(text, start, terms)
}

// Snippets returns one snippet per group of nearby matches, in text order.
func (h *Highlighter) Snippets(text string, terms []string) []string {
	pos := h.positions(text, terms)
	if len(pos) == 0 {
		return nil
	}
	out := make([]string, 0, 1)
	for _, g := range h.group(pos) {
		out = append(out, h.render(text, h.startFor(text, g[0]), terms))
	}
	return out
}

// Mark escapes text and marks every match without cutting it.
func (h *Highlighter) Mark(text string, terms []string) string {
	re := h.Matcher.Union(terms)
	if re == nil {
		return html.EscapeString(text)
	}
	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringIndex(text, -1) {
		if m[0] == m[1] {
			continue
		}
		b.WriteString(html.EscapeString(text[last:m[0]]))
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(text[m[0]:m[1]]))
		b.WriteString("</mark>")
		last = m[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

func (h *Highlighter) positions(text string, terms []string) []int {
	seen := make(map[int]struct{})
	for _, t := range terms {
		if t == "" {
			continue
		}
		for _, m := range h.Matcher.Regexp(t).FindAllStringIndex(text, -1) {
			seen[m[0]] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// group merges positions that fit in one snippet together with their context.
func (h *Highlighter) group(pos []int) [][]int {
	span := h.Length - 2*h.Context
	groups := [][]int{{pos[0]}}
	for _, p := range pos[1:] {
		cur := groups[len(groups)-1]
		if p-cur[len(cur)-1] < span {
			groups[len(groups)-1] = append(cur, p)
			continue
		}
		groups = append(groups, []int{p})
	}
	return groups
}

func (h *Highlighter) startFor(text string, pos int) int {
	if pos <= h.Context {
		return 0
	}
	return runeStart(text, pos-h.Context)
}

func (h *Highlighter) render(text string, start int, terms []string) string {
	end := start + h.Length
	if end >= len(text) {
		end = len(text)
	} else {
		end = runeStart(text, end)
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(h.Mark(text[start:end], terms))
	if end < len(text) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
