package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/internal/syncer"
	"github.com/dshills/catalogfeed/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "catalogfeed"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// FeedTasks enqueues and runs feed tasks
type FeedTasks interface {
	Enqueue(ctx context.Context, payload feed.Payload) (*storage.Task, error)
	ExecuteByID(ctx context.Context, id int64) (feed.TaskResult, error)
}

// EntitySyncer drains the ledger
type EntitySyncer interface {
	Sync(ctx context.Context, stores []config.Store, report func(syncer.EntityResult)) ([]*syncer.Statistics, error)
}

// LedgerCounter summarizes ledger rows per site
type LedgerCounter interface {
	CountByAction(ctx context.Context, siteID string) (map[types.Action]int, error)
}

// Dependencies are the application components the tools call into
type Dependencies struct {
	Config *config.Config
	Feeds  FeedTasks
	Syncer EntitySyncer
	Ledger LedgerCounter
	Logger *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	deps   Dependencies
	logger *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Config == nil || deps.Feeds == nil || deps.Syncer == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("%w: mcp server requires config, feeds, syncer and ledger", types.ErrConfiguration)
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		deps:   deps,
		logger: logging.OrNop(deps.Logger),
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(generateFeedTool(), s.handleGenerateFeed)
	s.mcp.AddTool(syncEntitiesTool(), s.handleSyncEntities)
	s.mcp.AddTool(ledgerStatusTool(), s.handleLedgerStatus)
}
