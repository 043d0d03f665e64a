package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

func TestHaystack(t *testing.T) {
	d := proto.Document{Title: "T", Tags: []string{"Go", "kv"}, Summary: "sum"}
	assert.Equal(t, "T\nGo kv\nsum", Haystack(d))
}

func TestMatcher_ExactBoundary(t *testing.T) {
	hay := "a category page"
	assert.False(t, Matcher{ExactMatch: true}.Contains(hay, "cat"))
	assert.True(t, Matcher{}.Contains(hay, "cat"))
	assert.True(t, Matcher{ExactMatch: true}.Contains("my cat.", "cat"))
}

func TestMatcher_Case(t *testing.T) {
	assert.True(t, Matcher{}.Contains("Hello World", "world"))
	assert.False(t, Matcher{CaseSensitive: true}.Contains("Hello World", "world"))
	assert.True(t, Matcher{CaseSensitive: true, ExactMatch: true}.Contains("Hello World", "World"))
}

func TestMatcher_QuotesMeta(t *testing.T) {
	assert.True(t, Matcher{}.Contains("costs $5 (approx)", "$5 (approx"))
	assert.False(t, Matcher{}.Contains("abc", "a.c"))
}

func TestAccept_Phrase(t *testing.T) {
	apart := proto.Document{URL: "/1", Content: "the quick, brown fox"}
	together := proto.Document{URL: "/2", Content: "the quick brown fox"}
	terms := []string{"quick brown"}
	phrases := []bool{true}

	assert.False(t, Accept(apart, terms, phrases, proto.Options{}))
	assert.True(t, Accept(together, terms, phrases, proto.Options{}))
	assert.True(t, Accept(together, []string{"QUICK BROWN"}, phrases, proto.Options{}))
	assert.False(t, Accept(together, []string{"QUICK BROWN"}, phrases, proto.Options{CaseSensitive: true}))
}

func TestAccept_CaseSensitiveEveryTerm(t *testing.T) {
	d := proto.Document{Title: "Go Modules", Content: "using go mod tidy"}
	opts := proto.Options{CaseSensitive: true}
	assert.True(t, Accept(d, []string{"Go", "tidy"}, nil, opts))
	assert.False(t, Accept(d, []string{"Go", "Tidy"}, nil, opts))
	// without case sensitivity only phrases are checked
	assert.True(t, Accept(d, []string{"Tidy"}, nil, proto.Options{}))
}

func TestHasAllTags(t *testing.T) {
	d := proto.Document{Tags: []string{"Go", "kv"}}
	assert.True(t, HasAllTags(d, []string{"go"}))
	assert.True(t, HasAllTags(d, nil))
	assert.False(t, HasAllTags(d, []string{"go", "sql"}))
}

func TestUnion(t *testing.T) {
	re := Matcher{}.Union([]string{"go", "golang", ""})
	require.NotNil(t, re)
	assert.Equal(t, "Golang", re.FindString("learn Golang"))
	assert.Nil(t, Matcher{}.Union(nil))
}

func TestScan(t *testing.T) {
	docs := []proto.Document{
		{URL: "/a", Title: "Error handling", Tags: []string{"go"}},
		{URL: "/b", Title: "errors.Is", Tags: []string{"go", "stdlib"}},
		{URL: "/c", Title: "Nothing"},
	}
	re, err := CompileRegex(`^err`, false)
	require.NoError(t, err)

	got := Scan(docs, re, nil, 50)
	assert.Equal(t, []proto.ResultEntry{{Ref: "/a", Score: 1}, {Ref: "/b", Score: 1}}, got)
	assert.Len(t, Scan(docs, re, []string{"stdlib"}, 50), 1)
	assert.Len(t, Scan(docs, re, nil, 1), 1)

	_, err = CompileRegex(`(`, false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
