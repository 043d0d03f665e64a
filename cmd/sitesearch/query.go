package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

var (
	queryLimit    int
	querySections string
	queryTags     string
	queryExact    bool
	queryCase     bool
	queryRegex    bool
	queryJSON     bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the local indexes",
	Long: `Load the stored indexes (building them first if needed) and run one
query. Quote phrases and use /tag:a,b inside the query to require tags.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.IntVarP(&queryLimit, "limit", "n", 10, "maximum number of results")
	f.StringVarP(&querySections, "sections", "s", "", "comma-separated sections to search")
	f.StringVarP(&queryTags, "tags", "t", "", "comma-separated tags every result must carry")
	f.BoolVar(&queryExact, "exact", false, "match whole words only")
	f.BoolVar(&queryCase, "case", false, "case-sensitive matching")
	f.BoolVar(&queryRegex, "regex", false, "treat the query as a regular expression")
	f.BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

type queryHit struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Section string  `json:"section,omitempty"`
	Score   float64 `json:"score"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("loading indexes: %w", err)
	}

	resp, err := a.svc.Search(ctx, orchestrator.SearchRequest{
		Query: args[0],
		Tabs:  parser.SplitList(querySections),
		Tags:  parser.SplitList(queryTags),
		Options: proto.Options{
			ExactMatch:    queryExact,
			CaseSensitive: queryCase,
			UseRegex:      queryRegex,
		},
		Limit: queryLimit,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	hits := make([]queryHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		doc, ok := a.svc.Lookup(r.Ref)
		if !ok {
			continue
		}
		hits = append(hits, queryHit{URL: doc.URL, Title: doc.Title, Section: doc.Section, Score: r.Score})
	}

	if queryJSON {
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printHits(cmd, hits)
	return nil
}

func printHits(cmd *cobra.Command, hits []queryHit) {
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, h := range hits {
		title := h.Title
		if title == "" {
			title = h.URL
		}
		cmd.Printf("[%d] %s (%.2f)\n", i+1, title, h.Score)
		if h.Section != "" {
			cmd.Printf("    %s  %s\n", h.Section, h.URL)
		} else {
			cmd.Printf("    %s\n", h.URL)
		}
	}
}
