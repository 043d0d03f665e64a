package indexer

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// AnalyzerName splits on unicode word boundaries and lowercases. No stop
// words or stemming, so wildcard and term queries see the raw words.
const AnalyzerName = "sitesearch"

const (
	FieldTitle   = "title"
	FieldTags    = "tags"
	FieldSection = "section"
	FieldContent = "content"
)

// FieldWeights are the query-time boosts per field.
var FieldWeights = map[string]float64{
	FieldTitle:   10,
	FieldTags:    8,
	FieldSection: 5,
	FieldContent: 1,
}

// Fields lists the indexed fields in boost order.
var Fields = []string{FieldTitle, FieldTags, FieldSection, FieldContent}

// NewMapping returns the index mapping shared by the global and section
// indexes.
func NewMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("registering analyzer: %w", err)
	}
	im.DefaultAnalyzer = AnalyzerName

	doc := bleve.NewDocumentMapping()
	for _, f := range Fields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = AnalyzerName
		fm.Store = false
		fm.IncludeInAll = false
		fm.IncludeTermVectors = false
		doc.AddFieldMappingsAt(f, fm)
	}
	im.DefaultMapping = doc
	return im, nil
}

var queryAnalyzer = sync.OnceValue(func() analysis.Analyzer {
	im, err := NewMapping()
	if err != nil {
		panic(err)
	}
	return im.AnalyzerNamed(AnalyzerName)
})

// Terms runs s through the index analyzer and returns the tokens it would
// have indexed. Words such as max_retries, don't and 3.14 stay whole.
func Terms(s string) []string {
	stream := queryAnalyzer().Analyze([]byte(s))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		out = append(out, string(tok.Term))
	}
	return out
}

type indexDoc struct {
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Section string   `json:"section"`
	Content string   `json:"content"`
}

func toIndexDoc(d proto.Document) indexDoc {
	return indexDoc{
		Title:   d.Title,
		Tags:    d.Tags,
		Section: d.Section,
		Content: d.Body(),
	}
}
