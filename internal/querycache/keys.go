package querycache

import (
	"encoding/json"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

type searchKey struct {
	Q             string   `json:"q"`
	ExactMatch    bool     `json:"exactMatch"`
	CaseSensitive bool     `json:"caseSensitive"`
	UseRegex      bool     `json:"useRegex"`
	Tags          []string `json:"tags"`
	Tabs          []string `json:"tabs,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// SearchKey identifies a raw search: the query text, the switches that change
// its results, and the selected tag filters in sorted order. Section scope and
// a non-default limit are appended only when set, so the common key stays
// {q, exactMatch, caseSensitive, useRegex, tags}.
func SearchKey(q string, opts proto.Options, selectedTags, tabs []string, limit int) string {
	var scope []string
	if len(tabs) > 0 {
		scope = sortedCopy(tabs)
	}
	b, _ := json.Marshal(searchKey{
		Q:             q,
		ExactMatch:    opts.ExactMatch,
		CaseSensitive: opts.CaseSensitive,
		UseRegex:      opts.UseRegex,
		Tags:          sortedCopy(selectedTags),
		Tabs:          scope,
		Limit:         limit,
	})
	return string(b)
}

type workerKey struct {
	Terms   []string      `json:"terms"`
	Tags    []string      `json:"tags"`
	Tabs    []string      `json:"tabs"`
	Options workerOptions `json:"options"`
}

type workerOptions struct {
	ExactMatch    bool   `json:"exactMatch"`
	CaseSensitive bool   `json:"caseSensitive"`
	Phrases       []bool `json:"phrases"`
	Limit         int    `json:"limit"`
}

// WorkerKey identifies a parsed query as sent to the query worker. Tabs are
// sorted on a copy so the caller's slice is untouched.
func WorkerKey(p proto.QueryParams) string {
	b, _ := json.Marshal(workerKey{
		Terms: nonNil(p.Terms),
		Tags:  nonNil(p.Tags),
		Tabs:  sortedCopy(p.Tabs),
		Options: workerOptions{
			ExactMatch:    p.Options.ExactMatch,
			CaseSensitive: p.Options.CaseSensitive,
			Phrases:       p.Phrases,
			Limit:         p.Limit,
		},
	})
	return string(b)
}

func sortedCopy(s []string) []string {
	out := append([]string{}, s...)
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
