package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/sink"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/internal/syncer"
	"github.com/dshills/catalogfeed/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeUnknownStore   = -32001 // No configured store matches
	ErrorCodeSyncInProgress = -32002 // Another drain holds the run lock
)

// handleGenerateFeed handles the generate_feed tool invocation
func (s *Server) handleGenerateFeed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	storeCode := getStringDefault(args, "store_code", "")
	if storeCode == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "store_code parameter is required", map[string]interface{}{
			"param":  "store_code",
			"reason": "missing or empty",
		})
	}
	if _, ok := s.deps.Config.StoreByCode(storeCode); !ok {
		return nil, newMCPError(ErrorCodeUnknownStore, "store is not configured", map[string]interface{}{
			"param": "store_code",
			"value": storeCode,
		})
	}

	payload := feed.Payload{
		Format:             getStringDefault(args, "format", sink.FormatJSON),
		Fields:             getStringSlice(args, "fields"),
		StoreCode:          storeCode,
		PresignedURL:       getStringDefault(args, "presigned_url", ""),
		IncludeChildPrices: getBoolDefault(args, "include_child_prices", false),
	}
	task, err := s.deps.Feeds.Enqueue(ctx, payload)
	if errors.Is(err, types.ErrValidation) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid feed request", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to enqueue feed task", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if !getBoolDefault(args, "run", true) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"task_id": task.ID,
			"status":  string(storage.TaskPending),
		})), nil
	}

	res, err := s.deps.Feeds.ExecuteByID(ctx, task.ID)
	if err != nil && res.Status == "" {
		return nil, newMCPError(ErrorCodeInternalError, "failed to run feed task", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	}

	response := map[string]interface{}{
		"task_id":     task.ID,
		"status":      string(res.Status),
		"rows":        res.Result.Rows,
		"bytes":       res.Result.Bytes,
		"duration_ms": res.Ended.Sub(res.Started).Milliseconds(),
	}
	if res.Err != nil {
		response["error"] = res.Err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSyncEntities handles the sync_entities tool invocation
func (s *Server) handleSyncEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	stores, err := s.selectStores(getStringSlice(args, "stores"))
	if err != nil {
		return nil, err
	}

	stats, err := s.deps.Syncer.Sync(ctx, stores, nil)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		return nil, newMCPError(ErrorCodeSyncInProgress, "entity sync already in progress", nil)
	}

	results := make([]map[string]interface{}, 0, len(stats))
	for _, st := range stats {
		entry := map[string]interface{}{
			"store":       st.Store,
			"site_id":     st.SiteID,
			"claimed":     st.Claimed,
			"dispatched":  st.Dispatched,
			"failed":      st.Failed,
			"conflicts":   st.Conflicts,
			"duration_ms": st.Duration.Milliseconds(),
		}
		if n := len(st.ErrorMessages); n > 0 {
			// Include first few errors
			if n > 5 {
				entry["errors"] = st.ErrorMessages[:5]
				entry["error_count"] = n
			} else {
				entry["errors"] = st.ErrorMessages
			}
		}
		results = append(results, entry)
	}

	response := map[string]interface{}{"stores": results}
	if err != nil {
		s.logger.Error("entity sync failed", zap.Error(err))
		response["error"] = err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleLedgerStatus handles the ledger_status tool invocation
func (s *Server) handleLedgerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	stores, err := s.selectStores(getStringSlice(args, "stores"))
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0, len(stores))
	for _, store := range stores {
		counts, err := s.deps.Ledger.CountByAction(ctx, store.SiteID)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to count ledger rows", map[string]interface{}{
				"store": store.Code,
				"error": err.Error(),
			})
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		results = append(results, map[string]interface{}{
			"store":        store.Code,
			"site_id":      store.SiteID,
			"sync_enabled": store.SyncEnabled,
			"upsert":       counts[types.ActionUpsert],
			"delete":       counts[types.ActionDelete],
			"none":         counts[types.ActionNone],
			"total":        total,
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"stores": results})), nil
}

// Helper functions

// selectStores narrows the configured stores to codes; every requested code must exist
func (s *Server) selectStores(codes []string) ([]config.Store, error) {
	if len(codes) == 0 {
		return s.deps.Config.Stores, nil
	}
	for _, code := range codes {
		if _, ok := s.deps.Config.StoreByCode(code); !ok {
			return nil, newMCPError(ErrorCodeUnknownStore, "store is not configured", map[string]interface{}{
				"param": "stores",
				"value": code,
			})
		}
	}
	return s.deps.Config.FilterStores(codes, nil), nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, skipping non-string items
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
