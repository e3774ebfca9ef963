// Package mcp implements the Model Context Protocol (MCP) server for catalogfeed.
//
// The MCP server exposes three tools to AI assistants and operators:
//   - generate_feed: Enqueue a feed task and, by default, run it immediately
//   - sync_entities: Drain pending ledger rows into the live-sync API
//   - ledger_status: Count ledger rows by next action per store
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is started via the mcp command:
//
//	catalogfeed mcp
//
// # Tool: generate_feed
//
//	Request:
//	{
//	  "name": "generate_feed",
//	  "arguments": {
//	    "store_code": "default",
//	    "presigned_url": "https://bucket.example/feeds/default.json.gz?sig=...",
//	    "fields": ["id", "sku", "final_price", "qty"],
//	    "run": true
//	  }
//	}
//
//	Response:
//	{
//	  "task_id": 17,
//	  "status": "success",
//	  "rows": 2481,
//	  "bytes": 88210,
//	  "duration_ms": 1840
//	}
//
// A task that fails still returns a result, with "status": "error" and an "error"
// message. Only requests that cannot be enqueued are returned as protocol errors.
//
// # Tool: sync_entities
//
//	Request:  {"name": "sync_entities", "arguments": {"stores": ["default"]}}
//	Response: {"stores": [{"store": "default", "claimed": 12, "dispatched": 12, ...}]}
//
// # Tool: ledger_status
//
//	Request:  {"name": "ledger_status", "arguments": {}}
//	Response: {"stores": [{"store": "default", "upsert": 4, "delete": 0, "none": 910, "total": 914}]}
//
// # Error Codes
//
//	-32602  Invalid parameters (missing store_code, malformed feed request)
//	-32603  Internal error (storage failure)
//	-32001  Store is not configured
//	-32002  Entity sync already in progress
package mcp
