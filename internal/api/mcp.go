package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tabstate/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Local   storage.Backend
	Session storage.Backend // optional; if nil, only the local area is exposed
}

// NewMCPServer creates an MCP server with the storage tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tabstate",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tabstate: key/value state shared between processes (local) or kept per process (session). Values are JSON documents."),
		server.WithRecovery(),
	)

	areaArg := mcp.WithString("area",
		mcp.Description("Storage area: local (default, shared and persistent) or session"),
		mcp.Enum(string(storage.KindLocal), string(storage.KindSession)),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_item",
			mcp.WithDescription("Read the JSON value stored under a key."),
			mcp.WithString("key", mcp.Description("Storage key"), mcp.Required()),
			areaArg,
		),
		mcpGetItem(deps),
	)

	s.AddTool(
		mcp.NewTool("set_item",
			mcp.WithDescription("Store a JSON value under a key. Other processes watching the key see the change."),
			mcp.WithString("key", mcp.Description("Storage key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("JSON document to store, e.g. \"dark\" or {\"n\":1}"), mcp.Required()),
			areaArg,
		),
		mcpSetItem(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_item",
			mcp.WithDescription("Remove a key."),
			mcp.WithString("key", mcp.Description("Storage key"), mcp.Required()),
			areaArg,
		),
		mcpRemoveItem(deps),
	)

	s.AddTool(
		mcp.NewTool("list_keys",
			mcp.WithDescription("List the keys of a storage area in sorted order."),
			areaArg,
		),
		mcpListKeys(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"storage://local",
			"Local Storage",
			mcp.WithResourceDescription("Every key of the local area with its stored value, as a JSON object"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLocal(deps),
	)

	return s
}

func mcpStore(deps MCPDeps, req mcp.CallToolRequest) (storage.Backend, error) {
	kind, err := storage.ParseKind(req.GetString("area", string(storage.KindLocal)))
	if err != nil {
		return nil, err
	}
	if kind == storage.KindSession {
		if deps.Session == nil {
			return nil, fmt.Errorf("session storage is not served")
		}
		return deps.Session, nil
	}
	return deps.Local, nil
}

func mcpGetItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		store, err := mcpStore(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		raw, ok, err := store.Get(key)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("key %q not found", key)), nil
		}
		return mcpText(raw), nil
	}
}

func mcpSetItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		if !json.Valid([]byte(value)) {
			return mcpError("value must be a JSON document"), nil
		}
		store, err := mcpStore(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if err := store.Set(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpRemoveItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		store, err := mcpStore(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if err := store.Delete(key); err != nil {
			return mcpError(fmt.Sprintf("failed to remove: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Removed %s", key)), nil
	}
}

func mcpListKeys(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		store, err := mcpStore(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		keys, err := store.Keys()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list keys: %v", err)), nil
		}
		if keys == nil {
			keys = []string{}
		}
		b, err := json.Marshal(keys)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal keys: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceLocal(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		keys, err := deps.Local.Keys()
		if err != nil {
			return nil, fmt.Errorf("failed to list keys: %w", err)
		}

		items := make(map[string]json.RawMessage, len(keys))
		for _, k := range keys {
			raw, ok, err := deps.Local.Get(k)
			if err != nil {
				return nil, fmt.Errorf("failed to read %q: %w", k, err)
			}
			if ok {
				items[k] = asJSON(raw)
			}
		}

		b, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal items: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
