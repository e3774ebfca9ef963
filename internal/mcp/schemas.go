package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/catalogfeed/internal/sink"
)

// generateFeedTool returns the tool definition for generate_feed
func generateFeedTool() mcp.Tool {
	return mcp.Tool{
		Name:        "generate_feed",
		Description: "Export a store's catalog as a feed file and upload it to a pre-signed URL",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"store_code": map[string]interface{}{
					"type":        "string",
					"description": "Store view code to export",
				},
				"presigned_url": map[string]interface{}{
					"type":        "string",
					"description": "Absolute URL the finished file is PUT to. A path ending in .gz uploads gzip",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Output format",
					"enum":        []string{sink.FormatJSON, sink.FormatGzip, sink.FormatJSONGz},
					"default":     sink.FormatJSON,
				},
				"fields": map[string]interface{}{
					"type":        "array",
					"description": "Row fields to export (default: id, sku, type_id, name, prices, stock, parent_id, is_groupable)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"include_child_prices": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, child rows also carry their own prices",
					"default":     false,
				},
				"run": map[string]interface{}{
					"type":        "boolean",
					"description": "If false, only enqueue the task for the scheduler",
					"default":     true,
				},
			},
			Required: []string{"store_code", "presigned_url"},
		},
	}
}

// syncEntitiesTool returns the tool definition for sync_entities
func syncEntitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_entities",
		Description: "Send pending ledger changes to the live-sync API",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"stores": map[string]interface{}{
					"type":        "array",
					"description": "Store codes to drain (default: every configured store)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
		},
	}
}

// ledgerStatusTool returns the tool definition for ledger_status
func ledgerStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ledger_status",
		Description: "Count ledger rows by next action for each configured store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"stores": map[string]interface{}{
					"type":        "array",
					"description": "Store codes to report (default: every configured store)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
		},
	}
}
