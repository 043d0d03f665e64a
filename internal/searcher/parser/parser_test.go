package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		caseSensitive bool
		terms         []string
		phrases       []bool
		tags          []string
	}{
		{"words", "Hello World", false, []string{"hello", "world"}, []bool{false, false}, []string{}},
		{"case kept", "Hello World", true, []string{"Hello", "World"}, []bool{false, false}, []string{}},
		{"phrase", `go "Quick Brown" fox`, false, []string{"go", "quick brown", "fox"}, []bool{false, true, false}, []string{}},
		{"tags", "/tag:Go,KV, cache /TAG:sql", false, []string{"cache"}, []bool{false}, []string{"go", "kv", "sql"}},
		{"empty quotes dropped", `"" x`, false, []string{"x"}, []bool{false}, []string{}},
		{"blank", "   ", false, []string{}, []bool{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.query, tt.caseSensitive)
			assert.Equal(t, tt.terms, p.Terms)
			assert.Equal(t, tt.phrases, p.Phrases)
			assert.Equal(t, tt.tags, p.Tags)
			assert.Equal(t, tt.query, p.RawQuery)
		})
	}
}

func TestQueryPlan_Empty(t *testing.T) {
	assert.True(t, Parse("", false).Empty())
	assert.False(t, Parse("/tag:go", false).Empty())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b,"))
	assert.Equal(t, []string{}, SplitList(""))
}
