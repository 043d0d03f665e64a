// Package parser turns a raw search box string into a query plan.
package parser

import (
	"regexp"
	"strings"
)

var (
	partRe = regexp.MustCompile(`"([^"]*)"|(\S+)`)
	tagRe  = regexp.MustCompile(`(?i)^/tag:(.+)$`)
)

// QueryPlan is a parsed query. Phrases is parallel to Terms and marks terms
// that were quoted in the input.
type QueryPlan struct {
	Terms    []string
	Phrases  []bool
	Tags     []string
	RawQuery string
}

// Empty reports whether the plan has nothing to search for.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0 && len(p.Tags) == 0
}

// Parse splits query into quoted phrases, bare words and /tag:a,b filters.
// Terms are lowercased unless caseSensitive is set; tags always are.
func Parse(query string, caseSensitive bool) *QueryPlan {
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		Phrases:  make([]bool, 0),
		Tags:     make([]string, 0),
		RawQuery: query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	for _, m := range partRe.FindAllStringSubmatchIndex(query, -1) {
		quoted := m[2] >= 0
		var part string
		if quoted {
			part = query[m[2]:m[3]]
		} else {
			part = query[m[4]:m[5]]
		}
		if part == "" {
			continue
		}
		if tm := tagRe.FindStringSubmatch(part); tm != nil {
			for _, t := range strings.Split(tm[1], ",") {
				if t = strings.TrimSpace(t); t != "" {
					plan.Tags = append(plan.Tags, strings.ToLower(t))
				}
			}
			continue
		}
		if !caseSensitive {
			part = strings.ToLower(part)
		}
		plan.Terms = append(plan.Terms, part)
		plan.Phrases = append(plan.Phrases, quoted)
	}
	return plan
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(raw string) []string {
	out := []string{}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
