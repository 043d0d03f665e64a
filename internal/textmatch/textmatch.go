// Package textmatch is the literal matching used after ranking: the
// case-sensitive and quoted-phrase filters, selected-tag filters, regex scans
// and highlight locations all go through it so they agree on what a match is.
package textmatch

import (
	"regexp"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// Haystack is the text a document is matched against: title, tags and body
// on separate lines.
func Haystack(d proto.Document) string {
	var b strings.Builder
	b.WriteString(d.Title)
	b.WriteByte('\n')
	b.WriteString(strings.Join(d.Tags, " "))
	b.WriteByte('\n')
	b.WriteString(d.Body())
	return b.String()
}

// Matcher applies the case and boundary rules of a query.
type Matcher struct {
	CaseSensitive bool
	ExactMatch    bool
}

func NewMatcher(opts proto.Options) Matcher {
	return Matcher{CaseSensitive: opts.CaseSensitive, ExactMatch: opts.ExactMatch}
}

// Contains reports whether needle occurs in haystack. Under ExactMatch the
// occurrence must sit on word boundaries.
func (m Matcher) Contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	if m.ExactMatch {
		return m.Regexp(needle).MatchString(haystack)
	}
	if m.CaseSensitive {
		return strings.Contains(haystack, needle)
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// ContainsAll reports whether every needle occurs in haystack.
func (m Matcher) ContainsAll(haystack string, needles []string) bool {
	for _, n := range needles {
		if !m.Contains(haystack, n) {
			return false
		}
	}
	return true
}

// Regexp compiles needle as a literal under m's rules.
func (m Matcher) Regexp(needle string) *regexp.Regexp {
	return regexp.MustCompile(m.pattern(needle))
}

// Union compiles a single expression matching any of the needles, longest
// first so overlapping terms prefer the wider match. It returns nil when
// there is nothing to match.
func (m Matcher) Union(needles []string) *regexp.Regexp {
	parts := make([]string, 0, len(needles))
	for _, n := range longestFirst(needles) {
		if n == "" {
			continue
		}
		parts = append(parts, m.literal(n))
	}
	if len(parts) == 0 {
		return nil
	}
	expr := "(?:" + strings.Join(parts, "|") + ")"
	if !m.CaseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.MustCompile(expr)
}

func (m Matcher) pattern(needle string) string {
	p := m.literal(needle)
	if !m.CaseSensitive {
		p = "(?i)" + p
	}
	return p
}

func (m Matcher) literal(needle string) string {
	q := regexp.QuoteMeta(needle)
	if m.ExactMatch {
		q = `\b` + q + `\b`
	}
	return q
}

func longestFirst(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Accept applies the post-ranking filters to doc. With CaseSensitive every
// term must occur literally; every term flagged in phrases must occur as a
// whole phrase regardless of the case setting.
func Accept(doc proto.Document, terms []string, phrases []bool, opts proto.Options) bool {
	m := NewMatcher(opts)
	hay := Haystack(doc)
	if opts.CaseSensitive && !m.ContainsAll(hay, terms) {
		return false
	}
	for i, t := range terms {
		if i < len(phrases) && phrases[i] && !m.Contains(hay, t) {
			return false
		}
	}
	return true
}

// HasAllTags reports whether doc carries every tag in want, ignoring case.
func HasAllTags(d proto.Document, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(d.Tags))
	for _, t := range d.Tags {
		have[strings.ToLower(t)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}

// CompileRegex compiles a user supplied pattern for regex mode. Patterns are
// case-insensitive unless caseSensitive is set.
func CompileRegex(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apperrors.Invalid("invalid regular expression: %v", err)
	}
	return re, nil
}

// Scan runs re over every document's haystack and returns matches in corpus
// order with score 1, honouring tags and limit.
func Scan(docs []proto.Document, re *regexp.Regexp, tags []string, limit int) []proto.ResultEntry {
	results := []proto.ResultEntry{}
	for _, d := range docs {
		if limit > 0 && len(results) >= limit {
			break
		}
		if !HasAllTags(d, tags) {
			continue
		}
		if re.MatchString(Haystack(d)) {
			results = append(results, proto.ResultEntry{Ref: d.URL, Score: 1})
		}
	}
	return results
}
