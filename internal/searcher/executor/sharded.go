package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// SectionExecutor runs one query against several section indexes at once.
type SectionExecutor struct {
	exec   *Executor
	logger *slog.Logger
}

func NewSectioned(exec *Executor) *SectionExecutor {
	return &SectionExecutor{
		exec:   exec,
		logger: slog.Default().With("component", "section-executor"),
	}
}

// FanOut returns one result list per index, in the order given. A failing
// section is logged and contributes nothing; the call only fails when every
// section did.
func (se *SectionExecutor) FanOut(ctx context.Context, indexes map[string]bleve.Index, order []string, q query.Query) ([][]proto.ResultEntry, error) {
	results := make([][]proto.ResultEntry, len(order))
	errs := make([]error, len(order))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range order {
		idx, ok := indexes[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			r, err := se.exec.Execute(gctx, idx, q)
			if err != nil {
				errs[i] = fmt.Errorf("section %s: %w", name, err)
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			se.logger.Error("section query failed", "error", err)
		}
	}
	if failed > 0 && failed == len(order) {
		return nil, fmt.Errorf("all %d sections failed", failed)
	}
	return results, nil
}
