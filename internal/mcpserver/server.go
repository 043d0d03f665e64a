// Package mcpserver exposes site search to MCP clients over stdio or
// streamable HTTP.
package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

const defaultLimit = 10

// Searcher is the subset of the orchestrator service the tools call.
type Searcher interface {
	Search(ctx context.Context, req orchestrator.SearchRequest) (*orchestrator.SearchResponse, error)
	Lookup(ref string) (proto.Document, bool)
	Sections() []string
}

type Server struct {
	svc    Searcher
	search config.SearchConfig
	server *mcp.Server
}

func New(svc Searcher, search config.SearchConfig, version string) *Server {
	s := &Server{
		svc:    svc,
		search: search,
		server: mcp.NewServer(&mcp.Implementation{Name: "sitesearch", Version: version}, nil),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server, for in-process transports.
func (s *Server) MCP() *mcp.Server { return s.server }

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is done.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
