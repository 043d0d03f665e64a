// Package executor turns query words and tags into bleve queries and runs
// them against one index or a set of section indexes.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// Words splits terms (quoted phrases included) into the distinct index
// tokens that must all be present.
func Words(terms []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		for _, w := range indexer.Terms(t) {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// BuildQuery requires every word in at least one weighted field and every
// tag in the tags field. Without exact matching words and tags match anywhere
// inside a token. It returns nil when there is nothing to require.
func BuildQuery(words, tags []string, exact bool) query.Query {
	clauses := make([]query.Query, 0, len(words)+len(tags))
	for _, w := range words {
		fields := make([]query.Query, 0, len(indexer.Fields))
		for _, f := range indexer.Fields {
			fields = append(fields, fieldQuery(f, w, exact, indexer.FieldWeights[f]))
		}
		clauses = append(clauses, bleve.NewDisjunctionQuery(fields...))
	}
	for _, tag := range tags {
		for _, tok := range indexer.Terms(tag) {
			clauses = append(clauses, fieldQuery(indexer.FieldTags, tok, exact, indexer.FieldWeights[indexer.FieldTags]))
		}
	}
	if len(clauses) == 0 {
		return nil
	}
	return bleve.NewConjunctionQuery(clauses...)
}

func fieldQuery(field, word string, exact bool, boost float64) query.Query {
	if exact {
		q := bleve.NewTermQuery(word)
		q.SetField(field)
		q.SetBoost(boost)
		return q
	}
	q := bleve.NewWildcardQuery("*" + word + "*")
	q.SetField(field)
	q.SetBoost(boost)
	return q
}

type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{logger: slog.Default().With("component", "query-executor")}
}

// Execute runs q against idx and returns every hit in score order. Callers
// filter and truncate afterwards, so nothing is cut here.
func (e *Executor) Execute(ctx context.Context, idx bleve.Index, q query.Query) ([]proto.ResultEntry, error) {
	n, err := idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	if n == 0 || q == nil {
		return []proto.ResultEntry{}, nil
	}
	req := bleve.NewSearchRequestOptions(q, int(n), 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	out := make([]proto.ResultEntry, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, proto.ResultEntry{Ref: h.ID, Score: h.Score})
	}
	e.logger.Debug("index searched", "hits", len(out), "took_ms", res.Took.Milliseconds())
	return out, nil
}
